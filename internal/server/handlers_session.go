package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/cowork/internal/router"
	"github.com/opencode-ai/cowork/pkg/types"
)

// maxCommandBytes bounds a POST /command body.
const maxCommandBytes = 4 << 20

// postCommand handles POST /command. The body is a client command envelope
// {"type": ..., "payload": ...}. Results stream over /event and /ws; the
// response only acknowledges the command. session.start answers with the
// created session so callers can correlate without watching the stream.
func (s *Server) postCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Failed to read body")
		return
	}
	cmd, err := types.DecodeCommand(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	if start, ok := cmd.(types.StartSession); ok {
		sess, err := s.engine.Start(r.Context(), start)
		if err != nil {
			writeCommandError(w, cmd, err)
			return
		}
		writeAccepted(w, sess.Info())
		return
	}

	if err := s.engine.Handle(r.Context(), cmd); err != nil {
		writeCommandError(w, cmd, err)
		return
	}
	writeAccepted(w, nil)
}

// writeCommandError maps router errors to statuses. Conflicts name the
// rejected command so clients can tell a busy session from a missing resume id.
func writeCommandError(w http.ResponseWriter, cmd types.Command, err error) {
	switch {
	case errors.Is(err, router.ErrNoResumableTurn), errors.Is(err, router.ErrSessionBusy):
		writeErrorWithDetails(w, http.StatusConflict, ErrCodeConflict, err.Error(),
			map[string]any{"command": cmd.CommandType()})
	case errors.Is(err, router.ErrSessionGone):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, router.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}

// listSessions handles GET /session.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.store.ListSessions()
	infos := make([]types.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	writeJSON(w, http.StatusOK, infos)
}

// getSession handles GET /session/{sessionID}.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.store.GetSession(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// getHistory handles GET /session/{sessionID}/history.
func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	h, ok := s.store.GetSessionHistory(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}
	messages := h.Messages
	if messages == nil {
		messages = []types.StreamMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":  h.Session.Info(),
		"messages": messages,
	})
}

// getToolStatus handles GET /session/{sessionID}/tools.
func (s *Server) getToolStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, ok := s.store.GetSession(id); !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}
	tools := s.engine.ToolStatus(id)
	if tools == nil {
		tools = map[string]types.ToolStatus{}
	}
	writeJSON(w, http.StatusOK, tools)
}

// panels is the last aggregated right-panel state of a session.
type panels struct {
	Todos   []types.TodoItem    `json:"todos"`
	Changes []types.FileChange  `json:"changes"`
	Tree    *types.FileTreeNode `json:"tree"`
}

// getPanels handles GET /session/{sessionID}/panels. Sessions not aggregated
// since startup report empty panels until the next history request or turn.
func (s *Server) getPanels(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, ok := s.store.GetSession(id); !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}
	out := panels{Todos: []types.TodoItem{}, Changes: []types.FileChange{}}
	if view, ok := s.engine.View(id); ok {
		if view.Todos != nil {
			out.Todos = view.Todos
		}
		if view.Changes != nil {
			out.Changes = view.Changes
		}
		out.Tree = view.Tree
	}
	writeJSON(w, http.StatusOK, out)
}

// getPendingPermissions handles GET /session/{sessionID}/permissions.
func (s *Server) getPendingPermissions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, ok := s.store.GetSession(id); !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}
	pending := s.engine.PendingPermissions(id)
	if pending == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, pending)
}
