// Package router is the event router: it applies client commands to the
// session store, owns the runner handles and aggregation timers of every
// session, and is the only place server events are broadcast from.
package router

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/opencode-ai/cowork/internal/agent"
	"github.com/opencode-ai/cowork/internal/debounce"
	"github.com/opencode-ai/cowork/internal/event"
	"github.com/opencode-ai/cowork/internal/logging"
	"github.com/opencode-ai/cowork/internal/permission"
	"github.com/opencode-ai/cowork/internal/projection"
	"github.com/opencode-ai/cowork/internal/runner"
	"github.com/opencode-ai/cowork/internal/storage"
	"github.com/opencode-ai/cowork/internal/title"
	"github.com/opencode-ai/cowork/internal/workspace"
	"github.com/opencode-ai/cowork/pkg/types"
)

// DefaultDebounce is the aggregation quiescence window.
const DefaultDebounce = 300 * time.Millisecond

var (
	// ErrNoResumableTurn is reported when continue targets a session whose
	// agent never issued a resume id.
	ErrNoResumableTurn = errors.New("no resumable turn")
	// ErrSessionGone is reported when continue targets a deleted session.
	ErrSessionGone = errors.New("session no longer exists")
	// ErrSessionBusy is reported when continue targets a running session.
	ErrSessionBusy = errors.New("session is already running")
	// ErrClosed is returned by Handle after Close.
	ErrClosed = errors.New("router closed")
)

// Options wires a Router to its collaborators. Store, Bus and Agent are
// required.
type Options struct {
	Store *storage.Store
	Bus   *event.Bus
	Agent agent.Agent

	Policy   permission.Policy
	Debounce time.Duration
	// Clock drives aggregation timers. Nil means the wall clock.
	Clock debounce.Clock
	// Titles renames new sessions asynchronously. Nil disables synthesis.
	Titles title.Generator
	// Revealer handles file.open. Nil uses the system file manager.
	Revealer workspace.Revealer
	// Fs is where missing working directories are created. Nil means the OS.
	Fs afero.Fs

	// DefaultCwd is used when session.start carries no cwd.
	DefaultCwd func() string
	// Env is added to the agent process environment on every turn.
	Env func() map[string]string
	// AllowedTools is the allow list for sessions started without one.
	AllowedTools func() string
}

// sessionState is everything the router holds in memory for one session.
type sessionState struct {
	turn     uint64
	handle   *runner.Handle
	registry *permission.Registry
	view     projection.Projection
	tools    map[string]types.ToolStatus
}

// Router dispatches client commands. It is safe for concurrent use.
type Router struct {
	opts      Options
	store     *storage.Store
	bus       *event.Bus
	runner    *runner.Runner
	scheduler *debounce.Scheduler
	revealer  workspace.Revealer
	fs        afero.Fs

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	// emitMu serializes the store side effects and broadcast of each event,
	// so a deletion can never interleave with a late event for that session.
	emitMu sync.Mutex

	mu       sync.Mutex
	states   map[string]*sessionState
	nextTurn uint64
	closed   bool
}

// New creates a router.
func New(opts Options) *Router {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if len(opts.Policy.Interactive) == 0 {
		opts.Policy = permission.DefaultPolicy()
	}
	if opts.DefaultCwd == nil {
		opts.DefaultCwd = func() string { return "" }
	}
	if opts.Env == nil {
		opts.Env = func() map[string]string { return nil }
	}
	if opts.AllowedTools == nil {
		opts.AllowedTools = func() string { return "" }
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		opts:     opts,
		store:    opts.Store,
		bus:      opts.Bus,
		runner:   runner.New(opts.Agent),
		revealer: opts.Revealer,
		ctx:      ctx,
		cancel:   cancel,
		states:   make(map[string]*sessionState),
	}
	if r.fs = opts.Fs; r.fs == nil {
		r.fs = afero.NewOsFs()
	}
	if r.revealer == nil {
		r.revealer = workspace.NewSystemRevealer()
	}
	r.scheduler = debounce.New(opts.Debounce, opts.Clock, r.aggregate)
	// Background store failures surface as runner.error. The report runs on
	// its own goroutine so the store writer never waits on emitMu.
	r.store.OnWriteError(func(id string, err error) {
		go r.storeError(id, err)
	})
	return r
}

// Handle applies one client command. Outcomes are reported as events; the
// returned error is only for callers that want to answer the request itself.
func (r *Router) Handle(ctx context.Context, cmd types.Command) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	log := logging.Component("router")
	switch cmd.(type) {
	case types.ListSessions, types.SessionHistory:
		log.Debug().Str("command", cmd.CommandType()).Msg("command")
	default:
		log.Info().Str("command", cmd.CommandType()).Str("sessionID", commandSession(cmd)).Msg("command")
	}

	switch c := cmd.(type) {
	case types.StartSession:
		_, err := r.start(ctx, c)
		return err
	case types.ContinueSession:
		return r.continueSession(ctx, c)
	case types.StopSession:
		return r.stop(ctx, c.SessionID)
	case types.DeleteSession:
		return r.delete(ctx, c.SessionID)
	case types.RenameSession:
		return r.rename(ctx, c)
	case types.ListSessions:
		r.list()
		return nil
	case types.SessionHistory:
		r.history(c.SessionID)
		return nil
	case types.PermissionResponse:
		r.permissionResponse(c)
		return nil
	case types.OpenFile:
		return r.openFile(ctx, c)
	}
	return nil
}

func commandSession(cmd types.Command) string {
	switch c := cmd.(type) {
	case types.ContinueSession:
		return c.SessionID
	case types.StopSession:
		return c.SessionID
	case types.DeleteSession:
		return c.SessionID
	case types.RenameSession:
		return c.SessionID
	case types.SessionHistory:
		return c.SessionID
	case types.PermissionResponse:
		return c.SessionID
	case types.OpenFile:
		return c.SessionID
	}
	return ""
}

// stateLocked returns the state for id, creating it if needed. Callers hold r.mu.
func (r *Router) stateLocked(id string) *sessionState {
	st, ok := r.states[id]
	if !ok {
		st = &sessionState{
			registry: permission.NewRegistry(),
			tools:    make(map[string]types.ToolStatus),
		}
		r.states[id] = st
	}
	return st
}

// Running reports whether a turn is in flight for the session.
func (r *Router) Running(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	return ok && st.handle != nil
}

// PendingPermissions returns the approvals waiting on a client for a session.
func (r *Router) PendingPermissions(id string) []permission.Request {
	r.mu.Lock()
	st, ok := r.states[id]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return st.registry.Pending()
}

// ToolStatus returns a copy of the session's tool-use status table.
func (r *Router) ToolStatus(id string) map[string]types.ToolStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]types.ToolStatus)
	if st, ok := r.states[id]; ok {
		for k, v := range st.tools {
			out[k] = v
		}
	}
	return out
}

// View returns the derived views cached by the last aggregation pass.
func (r *Router) View(id string) (projection.Projection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	if !ok {
		return projection.Projection{}, false
	}
	return st.view, true
}

// Close aborts every turn, stops aggregation, waits for background work and
// closes the store. The bus is left to its owner.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	var handles []*runner.Handle
	for _, st := range r.states {
		if st.handle != nil {
			handles = append(handles, st.handle)
			st.handle = nil
			st.turn = 0
		}
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.Abort()
	}
	for _, h := range handles {
		<-h.Done()
	}
	r.scheduler.Stop()
	r.cancel()
	r.bg.Wait()

	lg := logging.Component("router")
	lg.Info().Int("aborted", len(handles)).Msg("router closed")
	return r.store.Close()
}
