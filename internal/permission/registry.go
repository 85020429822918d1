package permission

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/opencode-ai/cowork/pkg/types"
)

type pending struct {
	req Request
	seq uint64
	ch  chan types.PermissionResult
}

// Registry holds the outstanding approval requests of one session.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*pending
	seq     uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]*pending)}
}

// Register adds req and returns the channel its result will be delivered on.
// An empty ID is replaced with a random UUID; the returned request carries
// the final ID.
func (r *Registry) Register(req Request) (Request, <-chan types.PermissionResult) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ch := make(chan types.PermissionResult, 1)

	r.mu.Lock()
	r.seq++
	r.pending[req.ID] = &pending{req: req, seq: r.seq, ch: ch}
	r.mu.Unlock()

	return req, ch
}

// Resolve delivers res to the request with the given id. It returns false if
// no such request is pending.
func (r *Registry) Resolve(id string, res types.PermissionResult) bool {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	p.ch <- res
	return true
}

// DenyAll resolves every pending request with a deny outcome and returns how
// many were resolved.
func (r *Registry) DenyAll(message string) int {
	r.mu.Lock()
	all := r.pending
	r.pending = make(map[string]*pending)
	r.mu.Unlock()

	for _, p := range all {
		p.ch <- types.Deny(message)
	}
	return len(all)
}

// Pending returns the outstanding requests in registration order.
func (r *Registry) Pending() []Request {
	r.mu.Lock()
	list := make([]*pending, 0, len(r.pending))
	for _, p := range r.pending {
		list = append(list, p)
	}
	r.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	out := make([]Request, len(list))
	for i, p := range list {
		out[i] = p.req
	}
	return out
}

// Len returns the number of outstanding requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Ask registers req, calls notify with the registered request and waits for
// the decision. If ctx ends first the request is denied with AbortMessage;
// if a response raced the cancellation, that response wins.
func (r *Registry) Ask(ctx context.Context, req Request, notify func(Request)) types.PermissionResult {
	req, ch := r.Register(req)
	if notify != nil {
		notify(req)
	}

	select {
	case res := <-ch:
		return res
	case <-ctx.Done():
		r.Resolve(req.ID, types.Deny(AbortMessage))
		return <-ch
	}
}
