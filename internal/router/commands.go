package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/opencode-ai/cowork/internal/event"
	"github.com/opencode-ai/cowork/internal/logging"
	"github.com/opencode-ai/cowork/internal/runner"
	"github.com/opencode-ai/cowork/internal/storage"
	"github.com/opencode-ai/cowork/internal/title"
	"github.com/opencode-ai/cowork/internal/workspace"
	"github.com/opencode-ai/cowork/pkg/types"
)

// Start creates a session and runs its first turn. It returns the new session.
func (r *Router) Start(ctx context.Context, c types.StartSession) (types.Session, error) {
	return r.start(ctx, c)
}

func (r *Router) start(ctx context.Context, c types.StartSession) (types.Session, error) {
	cwd := c.Cwd
	if cwd == "" {
		cwd = r.opts.DefaultCwd()
	}
	if cwd != "" {
		if _, err := workspace.EnsureDir(r.fs, cwd); err != nil {
			lg := logging.Component("router")
			lg.Warn().Err(err).Str("cwd", cwd).Msg("cannot create working directory")
		}
	}

	provisional := title.Provisional(c.Prompt)
	name := c.Title
	if name == "" {
		name = provisional
	}

	allowed := c.AllowedTools
	if allowed == "" {
		allowed = r.opts.AllowedTools()
	}
	sess, err := r.store.CreateSession(ctx, storage.CreateParams{
		Title:        name,
		Cwd:          cwd,
		Prompt:       c.Prompt,
		AllowedTools: allowed,
	})
	if err != nil {
		r.storeError("", fmt.Errorf("create session: %w", err))
		return types.Session{}, err
	}
	lg := logging.Session("router", sess.ID)
	lg.Info().Str("title", sess.Title).Str("cwd", sess.Cwd).Msg("starting session")

	r.emit(statusEvent(sess.ID, types.StatusRunning, sess.Title, sess.Cwd, ""))
	r.emit(event.Event{Type: event.StreamUserPrompt, Data: event.UserPromptData{SessionID: sess.ID, Prompt: c.Prompt}})
	r.runTurn(sess, c.Prompt, "")

	if r.opts.Titles != nil && name == provisional {
		r.synthesizeTitle(sess.ID, c.Prompt, provisional)
	}
	sess.Status = types.StatusRunning
	return sess, nil
}

func (r *Router) continueSession(ctx context.Context, c types.ContinueSession) error {
	sess, ok := r.store.GetSession(c.SessionID)
	if !ok {
		r.emit(event.Event{Type: event.SessionDeleted, Data: event.SessionDeletedData{SessionID: c.SessionID}})
		r.runnerError(c.SessionID, ErrSessionGone)
		return ErrSessionGone
	}
	if !sess.Resumable() {
		r.runnerError(sess.ID, ErrNoResumableTurn)
		return ErrNoResumableTurn
	}
	if sess.Status == types.StatusRunning {
		r.runnerError(sess.ID, ErrSessionBusy)
		return ErrSessionBusy
	}

	r.emit(statusEvent(sess.ID, types.StatusRunning, sess.Title, sess.Cwd, ""))
	r.emit(event.Event{Type: event.StreamUserPrompt, Data: event.UserPromptData{SessionID: sess.ID, Prompt: c.Prompt}})
	if _, err := r.store.UpdateSession(ctx, sess.ID, types.SessionUpdate{LastPrompt: types.Ptr(c.Prompt)}); err != nil {
		r.storeError(sess.ID, err)
	}
	r.runTurn(sess, c.Prompt, sess.ResumeID)
	return nil
}

// runTurn starts a turn for sess, replacing any turn whose process is still
// winding down after its result.
func (r *Router) runTurn(sess types.Session, prompt, resumeID string) {
	r.mu.Lock()
	st := r.stateLocked(sess.ID)
	prev := st.handle
	r.nextTurn++
	token := r.nextTurn
	st.turn = token
	registry := st.registry
	r.mu.Unlock()

	if prev != nil {
		prev.Abort()
	}

	h := r.runner.Run(runner.Options{
		Prompt:   prompt,
		Session:  sess,
		ResumeID: resumeID,
		Registry: registry,
		Policy:   r.opts.Policy,
		Env:      r.opts.Env(),
		OnEvent: func(ev event.Event) {
			r.emitTurn(sess.ID, token, ev)
		},
		OnSessionUpdate: func(upd types.SessionUpdate) {
			if !r.currentTurn(sess.ID, token) {
				return
			}
			if _, err := r.store.UpdateSession(r.ctx, sess.ID, upd); err != nil {
				lg := logging.Session("router", sess.ID)
				lg.Debug().Err(err).Msg("dropping session update")
			}
		},
	})

	r.mu.Lock()
	if st.turn == token {
		st.handle = h
	}
	r.mu.Unlock()

	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		<-h.Done()
		r.mu.Lock()
		if st.turn == token && st.handle == h {
			st.handle = nil
		}
		r.mu.Unlock()
	}()
}

func (r *Router) currentTurn(id string, token uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	return ok && st.turn == token
}

// endTurn detaches the session's turn so late events from it are dropped, and
// returns the handle to abort.
func (r *Router) endTurn(id string) *runner.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	if !ok {
		return nil
	}
	h := st.handle
	st.handle = nil
	st.turn = 0
	return h
}

func (r *Router) stop(ctx context.Context, id string) error {
	sess, ok := r.store.GetSession(id)
	if !ok {
		return nil
	}
	if h := r.endTurn(id); h != nil {
		h.Abort()
	}
	r.cancelAggregation(id)
	lg := logging.Session("router", id)
	lg.Info().Msg("stopped session")
	r.emit(statusEvent(id, types.StatusIdle, sess.Title, sess.Cwd, ""))
	return nil
}

// cancelAggregation drops the pending pass for id. Taking emitMu first lets
// an event already being emitted finish scheduling before the cancel.
func (r *Router) cancelAggregation(id string) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.scheduler.Cancel(id)
}

func (r *Router) delete(ctx context.Context, id string) error {
	h := r.endTurn(id)
	if h != nil {
		h.Abort()
	}

	r.emitMu.Lock()
	r.scheduler.Cancel(id)
	err := r.store.DeleteSession(ctx, id)
	r.mu.Lock()
	delete(r.states, id)
	r.mu.Unlock()
	r.emitMu.Unlock()
	if err != nil {
		r.storeError(id, err)
		return err
	}
	lg := logging.Session("router", id)
	lg.Info().Bool("hadTurn", h != nil).Msg("deleted session")
	r.emit(event.Event{Type: event.SessionDeleted, Data: event.SessionDeletedData{SessionID: id}})
	return nil
}

func (r *Router) rename(ctx context.Context, c types.RenameSession) error {
	sess, err := r.store.UpdateSession(ctx, c.SessionID, types.SessionUpdate{Title: types.Ptr(c.Title)})
	if errors.Is(err, storage.ErrNotFound) {
		r.emit(event.Event{Type: event.SessionDeleted, Data: event.SessionDeletedData{SessionID: c.SessionID}})
		return nil
	}
	if err != nil {
		r.storeError(c.SessionID, err)
		return err
	}
	r.emit(statusEvent(sess.ID, sess.Status, sess.Title, sess.Cwd, ""))
	return nil
}

func (r *Router) list() {
	sessions := r.store.ListSessions()
	infos := make([]types.SessionInfo, len(sessions))
	for i, s := range sessions {
		infos[i] = s.Info()
	}
	r.emit(event.Event{Type: event.SessionList, Data: event.SessionListData{Sessions: infos}})
}

// history emits the stored history and then refreshes the derived views
// synchronously, so a client hydrating a session sees its panels at once.
func (r *Router) history(id string) {
	h, ok := r.store.GetSessionHistory(id)
	if !ok {
		r.emit(event.Event{Type: event.SessionDeleted, Data: event.SessionDeletedData{SessionID: id}})
		return
	}
	r.emit(event.Event{Type: event.SessionHistory, Data: event.SessionHistoryData{
		SessionID: id,
		Status:    h.Session.Status,
		Messages:  h.Messages,
	}})
	r.project(id, h)
}

func (r *Router) permissionResponse(c types.PermissionResponse) {
	r.mu.Lock()
	st, ok := r.states[c.SessionID]
	r.mu.Unlock()
	if !ok || !st.registry.Resolve(c.ToolUseID, c.Result) {
		lg := logging.Session("router", c.SessionID)
		lg.Debug().Str("toolUseID", c.ToolUseID).Msg("no pending permission request")
	}
}

func (r *Router) openFile(ctx context.Context, c types.OpenFile) error {
	sess, ok := r.store.GetSession(c.SessionID)
	if !ok {
		r.emit(event.Event{Type: event.SessionDeleted, Data: event.SessionDeletedData{SessionID: c.SessionID}})
		return nil
	}
	target := workspace.Resolve(c.Path, sess.Cwd)
	if err := r.revealer.Reveal(ctx, target); err != nil {
		lg := logging.Session("router", c.SessionID)
		lg.Warn().Err(err).Str("path", target).Msg("cannot open file")
		r.runnerError(c.SessionID, fmt.Errorf("open %s: %w", target, err))
		return err
	}
	return nil
}

// synthesizeTitle asks the summarizer for a better title in the background.
// The result is dropped if the session is gone by then or nothing changed.
func (r *Router) synthesizeTitle(id, prompt, provisional string) {
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		log := logging.Session("title", id)

		name, err := r.opts.Titles.Generate(r.ctx, prompt)
		if err != nil {
			log.Warn().Err(err).Msg("title generation failed")
			return
		}
		if name == "" || name == provisional {
			return
		}
		sess, ok := r.store.GetSession(id)
		if !ok || sess.Title != provisional {
			return
		}
		if err := r.Handle(r.ctx, types.RenameSession{SessionID: id, Title: name}); err != nil {
			log.Debug().Err(err).Msg("title not applied")
		}
	}()
}

func statusEvent(id string, status types.SessionStatus, title, cwd, msg string) event.Event {
	return event.Event{Type: event.SessionStatus, Data: event.SessionStatusData{
		SessionID: id,
		Status:    status,
		Title:     title,
		Cwd:       cwd,
		Error:     msg,
	}}
}

func (r *Router) runnerError(id string, err error) {
	r.emit(event.Event{Type: event.RunnerError, Data: event.RunnerErrorData{SessionID: id, Message: err.Error()}})
}

func (r *Router) storeError(id string, err error) {
	lg := logging.Session("router", id)
	lg.Error().Err(err).Msg("store error")
	r.runnerError(id, err)
}
