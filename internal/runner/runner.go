// Package runner executes single agent turns for a session and relays their
// output as server events.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/opencode-ai/cowork/internal/agent"
	"github.com/opencode-ai/cowork/internal/event"
	"github.com/opencode-ai/cowork/internal/logging"
	"github.com/opencode-ai/cowork/internal/permission"
	"github.com/opencode-ai/cowork/pkg/types"
)

// Options configures one turn.
type Options struct {
	Prompt   string
	Session  types.Session
	ResumeID string
	// Registry holds the session's outstanding tool approvals. A nil
	// registry gets a private one.
	Registry *permission.Registry
	Policy   permission.Policy
	Env      map[string]string

	// OnEvent receives every event of the turn, in emission order, from the
	// runner goroutine or from a tool approval callback.
	OnEvent func(event.Event)
	// OnSessionUpdate is called when the agent issues a new resume id.
	OnSessionUpdate func(types.SessionUpdate)
}

// Runner starts agent turns.
type Runner struct {
	agent agent.Agent
}

// New creates a runner backed by a.
func New(a agent.Agent) *Runner {
	return &Runner{agent: a}
}

// Handle controls an in-flight turn.
type Handle struct {
	cancel   context.CancelFunc
	registry *permission.Registry
	done     chan struct{}
	once     sync.Once
}

// Abort cancels the turn. Approvals still pending are denied before Abort
// returns. Nothing further is reported for an aborted turn.
func (h *Handle) Abort() {
	h.once.Do(func() {
		h.cancel()
		h.registry.DenyAll(permission.AbortMessage)
	})
}

// Done is closed once the turn has fully ended.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Run starts a turn in the background.
func (r *Runner) Run(opts Options) *Handle {
	if opts.Registry == nil {
		opts.Registry = permission.NewRegistry()
	}
	if opts.OnEvent == nil {
		opts.OnEvent = func(event.Event) {}
	}
	if opts.OnSessionUpdate == nil {
		opts.OnSessionUpdate = func(types.SessionUpdate) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{cancel: cancel, registry: opts.Registry, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		defer cancel()
		t := &turn{runner: r, opts: opts, ctx: ctx}
		t.run()
	}()
	return h
}

type turn struct {
	runner *Runner
	opts   Options
	ctx    context.Context
}

// emit forwards ev unless the turn has been cancelled.
func (t *turn) emit(ev event.Event) bool {
	if t.ctx.Err() != nil {
		return false
	}
	t.opts.OnEvent(ev)
	return true
}

func (t *turn) status(status types.SessionStatus, msg string) {
	t.emit(event.Event{Type: event.SessionStatus, Data: event.SessionStatusData{
		SessionID: t.opts.Session.ID,
		Status:    status,
		Title:     t.opts.Session.Title,
		Cwd:       t.opts.Session.Cwd,
		Error:     msg,
	}})
}

func (t *turn) run() {
	log := logging.Session("runner", t.opts.Session.ID)

	prompt := t.opts.Prompt
	if t.opts.ResumeID == "" {
		prompt = SystemContext(t.opts.Session.Cwd) + prompt
	}

	stream, err := t.runner.agent.Query(t.ctx, agent.Request{
		Prompt:       prompt,
		Cwd:          t.opts.Session.Cwd,
		ResumeID:     t.opts.ResumeID,
		AllowedTools: t.opts.Session.AllowedToolList(),
		Env:          t.opts.Env,
		CanUseTool:   t.canUseTool,
	})
	if err != nil {
		t.fail(err)
		return
	}
	defer stream.Close()

	resumeID := t.opts.ResumeID
	sawResult := false
	for {
		msg, err := stream.Next(t.ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.fail(err)
			return
		}
		if t.ctx.Err() != nil {
			return
		}

		if msg.SessionID != "" && msg.SessionID != resumeID {
			resumeID = msg.SessionID
			log.Debug().Str("resumeID", resumeID).Msg("agent issued resume id")
			t.opts.OnSessionUpdate(types.SessionUpdate{ResumeID: types.Ptr(resumeID)})
		}
		if msg.IsResult() {
			sawResult = true
		}
		t.emit(event.Event{Type: event.StreamMessage, Data: event.StreamMessageData{
			SessionID: t.opts.Session.ID,
			Message:   msg,
		}})
	}

	if !sawResult {
		t.status(types.StatusCompleted, "")
	}
}

func (t *turn) fail(err error) {
	log := logging.Session("runner", t.opts.Session.ID)
	if errors.Is(err, context.Canceled) || t.ctx.Err() != nil {
		log.Debug().Err(err).Msg("turn cancelled")
		return
	}
	if errors.Is(err, agent.ErrConfigMissing) {
		log.Warn().Err(err).Msg("cannot start turn")
		t.status(types.StatusError, agent.ErrConfigMissing.Error())
		return
	}
	log.Error().Err(err).Msg("turn failed")
	t.status(types.StatusError, err.Error())
}

func (t *turn) canUseTool(ctx context.Context, toolName string, input json.RawMessage) (types.PermissionResult, error) {
	if !t.opts.Policy.RequiresApproval(toolName) {
		return types.Allow(input), nil
	}
	req := permission.Request{SessionID: t.opts.Session.ID, ToolName: toolName, Input: input}
	res := t.opts.Registry.Ask(ctx, req, func(req permission.Request) {
		t.emit(event.Event{Type: event.PermissionRequest, Data: event.PermissionRequestData{
			SessionID: req.SessionID,
			ToolUseID: req.ID,
			ToolName:  req.ToolName,
			Input:     req.Input,
		}})
	})
	return res, nil
}

// SystemContext is the preamble prepended to the first prompt of a session.
// It is sent to the agent only and never recorded or displayed.
func SystemContext(cwd string) string {
	return fmt.Sprintf(`<SYSTEM_CONTEXT>
Current working directory: %[1]s

Rules:
1. All file writes must happen in %[1]q or one of its subdirectories.
2. All file deletions must happen in %[1]q or one of its subdirectories.
3. Never write or delete anything outside the working directory.
4. Reads may access other locations on the system.
</SYSTEM_CONTEXT>

`, cwd)
}
