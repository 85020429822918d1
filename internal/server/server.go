package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/afero"

	"github.com/opencode-ai/cowork/internal/command"
	"github.com/opencode-ai/cowork/internal/config"
	"github.com/opencode-ai/cowork/internal/event"
	"github.com/opencode-ai/cowork/internal/logging"
	"github.com/opencode-ai/cowork/internal/router"
	"github.com/opencode-ai/cowork/internal/storage"
	"github.com/opencode-ai/cowork/internal/title"
)

// Config holds server configuration. CORSOrigins defaults to every origin.
type Config struct {
	Port         int
	Hostname     string
	EnableCORS   bool
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         config.DefaultPort,
		Hostname:     "127.0.0.1",
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for SSE
	}
}

// Deps are the engine components the HTTP layer fronts.
type Deps struct {
	Router *router.Router
	Store  *storage.Store
	Bus    *event.Bus
	Live   *config.Live
	// Commands lists slash commands. Nil serves an empty catalog.
	Commands *command.Catalog
	// Titles backs POST /title. Nil falls back to provisional titles.
	Titles title.Generator
	// Fs backs the workspace tree endpoint. Nil means the OS.
	Fs afero.Fs
	// ConfigPath is the file the config endpoints save to. Empty means the
	// global config file.
	ConfigPath string
}

// Server is the HTTP server.
type Server struct {
	config  *Config
	router  *chi.Mux
	httpSrv *http.Server

	engine   *router.Router
	store    *storage.Store
	bus      *event.Bus
	live     *config.Live
	commands *command.Catalog
	titles   title.Generator
	fs       afero.Fs

	configPath string
	configMu   sync.Mutex
}

// New creates a new Server instance.
func New(cfg *Config, deps Deps) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		engine:   deps.Router,
		store:    deps.Store,
		bus:      deps.Bus,
		live:     deps.Live,
		commands: deps.Commands,
		titles:   deps.Titles,
		fs:       deps.Fs,

		configPath: deps.ConfigPath,
	}
	if s.configPath == "" {
		s.configPath = config.GlobalConfigPath()
	}
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}
	if s.live == nil {
		s.live = config.NewLive(nil)
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	if s.config.EnableCORS {
		origins := s.config.CORSOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// requestLogger logs each request at debug level through zerolog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("requestID", middleware.GetReqID(r.Context())).
			Msg("http")
	})
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Hostname, strconv.Itoa(s.config.Port))
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	logging.Info().Str("addr", s.Addr()).Msg("server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen %s: %w", s.Addr(), err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Journal logs a compact line for every broadcast event until ctx is done.
// It reads the bus's serialized tap, so slow logging never holds up
// subscribers.
func (s *Server) Journal(ctx context.Context) error {
	msgs, err := s.bus.Tap(ctx)
	if err != nil {
		return fmt.Errorf("tap event bus: %w", err)
	}
	log := logging.Component("journal")
	go func() {
		for msg := range msgs {
			log.Debug().
				Str("type", msg.Metadata.Get("type")).
				Str("sessionID", msg.Metadata.Get("sessionId")).
				Int("bytes", len(msg.Payload)).
				Msg("event")
			msg.Ack()
		}
	}()
	return nil
}
