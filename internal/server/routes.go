package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	// Command ingress
	r.Post("/command", s.postCommand)

	// Event egress
	r.Get("/event", s.events)
	r.Get("/ws", s.websocket)

	// Session reads
	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Get("/history", s.getHistory)
			r.Get("/tools", s.getToolStatus)
			r.Get("/panels", s.getPanels)
			r.Get("/permissions", s.getPendingPermissions)
		})
	})

	// Workspace
	r.Get("/cwd/recent", s.recentCwds)
	r.Get("/workspace/tree", s.workspaceTree)

	// Slash commands
	r.Route("/commands", func(r chi.Router) {
		r.Get("/", s.listCommands)
		r.Get("/{name}", s.getCommand)
	})

	// Configuration
	r.Get("/config/check", s.checkConfig)
	r.Put("/config", s.saveConfig)
	r.Get("/config/default-cwd", s.getDefaultCwd)
	r.Put("/config/default-cwd", s.setDefaultCwd)
	r.Post("/title", s.generateTitle)
}
