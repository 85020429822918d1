package router

import (
	"errors"

	"github.com/opencode-ai/cowork/internal/event"
	"github.com/opencode-ai/cowork/internal/logging"
	"github.com/opencode-ai/cowork/internal/projection"
	"github.com/opencode-ai/cowork/internal/storage"
	"github.com/opencode-ai/cowork/pkg/types"
)

// emit applies an event's store side effects and broadcasts it.
func (r *Router) emit(ev event.Event) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.publishLocked(ev)
}

// emitTurn is emit for events produced by a turn. Events from a turn that
// has since been stopped, replaced or deleted are dropped.
func (r *Router) emitTurn(id string, token uint64, ev event.Event) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if !r.currentTurn(id, token) {
		lg := logging.Session("router", id)
		lg.Debug().Str("type", string(ev.Type)).Msg("dropping event from finished turn")
		return
	}
	r.publishLocked(ev)
}

// publishLocked is called with emitMu held.
func (r *Router) publishLocked(ev event.Event) {
	if id := ev.LiveSessionID(); id != "" {
		if _, ok := r.store.GetSession(id); !ok {
			lg := logging.Session("router", id)
			lg.Debug().Str("type", string(ev.Type)).Msg("dropping event for deleted session")
			return
		}
	}

	switch d := ev.Data.(type) {
	case event.SessionStatusData:
		sess, err := r.store.UpdateSession(r.ctx, d.SessionID, types.SessionUpdate{Status: types.Ptr(d.Status)})
		if err != nil {
			return
		}
		d.Title, d.Cwd = sess.Title, sess.Cwd
		ev.Data = d

	case event.UserPromptData:
		if err := r.store.RecordMessage(d.SessionID, types.NewUserPrompt(d.Prompt)); err != nil {
			r.dropped(d.SessionID, err)
			return
		}

	case event.StreamMessageData:
		if err := r.store.RecordMessage(d.SessionID, d.Message); err != nil {
			r.dropped(d.SessionID, err)
			return
		}
		msg := d.Message
		if !msg.IsPartial() {
			r.trackTools(d.SessionID, msg)
			r.scheduler.Schedule(d.SessionID)
		}
		r.bus.PublishSync(ev)

		if msg.IsResult() {
			status, errText := types.StatusCompleted, ""
			if !msg.Succeeded() {
				status, errText = types.StatusError, msg.ResultText()
			}
			r.publishLocked(statusEvent(d.SessionID, status, "", "", errText))
		}
		return
	}

	r.bus.PublishSync(ev)
}

func (r *Router) dropped(id string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		lg := logging.Session("router", id)
		lg.Debug().Msg("dropping message for deleted session")
		return
	}
	lg := logging.Session("router", id)
	lg.Error().Err(err).Msg("cannot record message")
	r.bus.PublishSync(event.Event{Type: event.RunnerError, Data: event.RunnerErrorData{SessionID: id, Message: err.Error()}})
}

// trackTools updates the tool-use status table from tool_use and tool_result
// blocks.
func (r *Router) trackTools(id string, msg types.StreamMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stateLocked(id)

	switch msg.Type {
	case types.MessageAssistant:
		for _, b := range msg.ToolUses() {
			if _, seen := st.tools[b.ID]; !seen && b.ID != "" {
				st.tools[b.ID] = types.ToolPending
			}
		}
	case types.MessageUser:
		for _, b := range msg.Content() {
			if b.Type != types.BlockToolResult || b.ToolUseID == "" {
				continue
			}
			if b.IsError {
				st.tools[b.ToolUseID] = types.ToolError
			} else {
				st.tools[b.ToolUseID] = types.ToolSuccess
			}
		}
	}
}

// aggregate is the debounce callback.
func (r *Router) aggregate(id string) {
	h, ok := r.store.GetSessionHistory(id)
	if !ok {
		return
	}
	r.project(id, h)
}

// project recomputes every derived view from the full history, caches it and
// broadcasts it. Todos and changes are sent only when non-empty; the tree is
// always sent so observers stay in sync.
func (r *Router) project(id string, h storage.History) {
	view := projection.Project(h.Messages, h.Session.Cwd)

	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if _, ok := r.store.GetSession(id); !ok {
		return
	}
	r.mu.Lock()
	r.stateLocked(id).view = view
	r.mu.Unlock()

	lg := logging.Session("router", id)
	lg.Debug().
		Int("messages", len(h.Messages)).
		Int("todos", len(view.Todos)).
		Int("changes", len(view.Changes)).
		Msg("aggregated")

	if len(view.Todos) > 0 {
		r.publishLocked(event.Event{Type: event.RightPanelTodos, Data: event.TodosData{SessionID: id, Todos: view.Todos}})
	}
	if len(view.Changes) > 0 {
		r.publishLocked(event.Event{Type: event.RightPanelFileChanges, Data: event.FileChangesData{SessionID: id, Changes: view.Changes}})
	}
	r.publishLocked(event.Event{Type: event.RightPanelFileTree, Data: event.FileTreeData{SessionID: id, Tree: view.Tree}})
}
