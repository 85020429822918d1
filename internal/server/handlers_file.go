package server

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/cowork/internal/command"
	"github.com/opencode-ai/cowork/internal/config"
	"github.com/opencode-ai/cowork/internal/workspace"
)

const (
	defaultRecentCwds = 8
	maxTreeDepth      = 6
)

// recentCwds handles GET /cwd/recent.
func (s *Server) recentCwds(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentCwds
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	cwds := s.store.ListRecentCwds(limit)
	if cwds == nil {
		cwds = []string{}
	}
	writeJSON(w, http.StatusOK, cwds)
}

// workspaceTree handles GET /workspace/tree?path=&depth=. Path defaults to
// the configured working directory.
func (s *Server) workspaceTree(w http.ResponseWriter, r *http.Request) {
	cfg := s.live.Get()
	root := r.URL.Query().Get("path")
	if root == "" {
		root = config.DefaultCwd(cfg)
	}

	depth := 1
	if v := r.URL.Query().Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "depth must be an integer")
			return
		}
		depth = min(max(n, 1), maxTreeDepth)
	}

	opts := workspace.TreeOptions{Depth: depth}
	if cfg != nil && cfg.Workspace != nil && cfg.Workspace.Ignore != nil {
		opts.Ignore = cfg.Workspace.Ignore
	}
	entries, err := workspace.ReadDirectoryTree(s.fs, root, opts)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	if entries == nil {
		entries = []workspace.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"root": root, "entries": entries})
}

// listCommands handles GET /commands.
func (s *Server) listCommands(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		writeJSON(w, http.StatusOK, []command.Command{})
		return
	}
	list := s.commands.List()
	if list == nil {
		list = []command.Command{}
	}
	writeJSON(w, http.StatusOK, list)
}

// getCommand handles GET /commands/{name}, returning the command body with
// its frontmatter removed.
func (s *Server) getCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.commands == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Command not found")
		return
	}
	cmd, ok := s.commands.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Command not found")
		return
	}
	content, err := s.commands.Content(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"command": cmd, "content": content})
}
