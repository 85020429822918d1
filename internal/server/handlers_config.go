package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencode-ai/cowork/internal/config"
	"github.com/opencode-ai/cowork/internal/logging"
	"github.com/opencode-ai/cowork/internal/title"
	"github.com/opencode-ai/cowork/pkg/types"
)

const titleTimeout = 20 * time.Second

// ConfigCheck reports whether API credentials are configured. The key itself
// is never returned.
type ConfigCheck struct {
	HasConfig bool   `json:"hasConfig"`
	Model     string `json:"model,omitempty"`
	BaseURL   string `json:"baseURL,omitempty"`
}

func newConfigCheck(cfg *types.Config) ConfigCheck {
	out := ConfigCheck{HasConfig: cfg.HasAPI()}
	if cfg != nil && cfg.API != nil {
		out.Model = cfg.API.Model
		out.BaseURL = cfg.API.BaseURL
	}
	return out
}

// checkConfig handles GET /config/check.
func (s *Server) checkConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newConfigCheck(s.live.Get()))
}

// saveConfig handles PUT /config with body {"apiKey", "baseURL", "model"}.
// All three are required. The saved key is never echoed back.
func (s *Server) saveConfig(w http.ResponseWriter, r *http.Request) {
	var req types.APIConfig
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	req.APIKey = strings.TrimSpace(req.APIKey)
	req.BaseURL = strings.TrimSpace(req.BaseURL)
	req.Model = strings.TrimSpace(req.Model)

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"apiKey", req.APIKey}, {"baseURL", req.BaseURL}, {"model", req.Model},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		writeErrorWithDetails(w, http.StatusBadRequest, ErrCodeInvalidRequest,
			"apiKey, baseURL and model are required", map[string]any{"missing": missing})
		return
	}

	cfg, err := s.updateConfig(func(c *types.Config) {
		api := req
		c.API = &api
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	logging.Info().Str("path", s.configPath).Str("model", req.Model).Msg("saved API settings")
	writeJSON(w, http.StatusOK, newConfigCheck(cfg))
}

// getDefaultCwd handles GET /config/default-cwd.
func (s *Server) getDefaultCwd(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"defaultCwd": config.DefaultCwd(s.live.Get())})
}

// setDefaultCwd handles PUT /config/default-cwd with body {"cwd": "..."}. The
// directory must exist.
func (s *Server) setDefaultCwd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Cwd string `json:"cwd"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	cwd := strings.TrimSpace(req.Cwd)
	if cwd == "" || !filepath.IsAbs(cwd) {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "cwd must be an absolute path")
		return
	}
	cwd = filepath.Clean(cwd)
	if info, err := s.fs.Stat(cwd); err != nil || !info.IsDir() {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "cwd is not a directory")
		return
	}

	cfg, err := s.updateConfig(func(c *types.Config) { c.DefaultCwd = cwd })
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"defaultCwd": config.DefaultCwd(cfg)})
}

// updateConfig saves fn's change to the config file and applies the same
// change to the live config. The file watcher later reloads the merged view.
func (s *Server) updateConfig(fn func(*types.Config)) (*types.Config, error) {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	if _, err := config.Update(s.configPath, fn); err != nil {
		return nil, err
	}
	next := config.Clone(s.live.Get())
	fn(next)
	s.live.Set(next)
	return next, nil
}

// generateTitle handles POST /title with body {"prompt": "..."}. Without a
// summarizer, or when it fails, the provisional title is returned.
func (s *Server) generateTitle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "prompt required")
		return
	}

	result := title.Provisional(req.Prompt)
	if s.titles != nil {
		ctx, cancel := context.WithTimeout(r.Context(), titleTimeout)
		defer cancel()
		generated, err := s.titles.Generate(ctx, req.Prompt)
		switch {
		case err != nil:
			logging.Warn().Err(err).Msg("title generation failed")
		case generated != "":
			result = generated
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"title": result})
}
