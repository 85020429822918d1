package commands

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/cowork/internal/agent"
	"github.com/opencode-ai/cowork/internal/command"
	"github.com/opencode-ai/cowork/internal/config"
	"github.com/opencode-ai/cowork/internal/event"
	"github.com/opencode-ai/cowork/internal/logging"
	"github.com/opencode-ai/cowork/internal/permission"
	"github.com/opencode-ai/cowork/internal/router"
	"github.com/opencode-ai/cowork/internal/server"
	"github.com/opencode-ai/cowork/internal/storage"
	"github.com/opencode-ai/cowork/internal/title"
	"github.com/opencode-ai/cowork/pkg/types"
)

var (
	servePort     int
	serveHostname string
	serveDir      string
	serveDB       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the cowork server",
	Long: `Start the cowork server. Clients send commands to POST /command or over
the /ws WebSocket and follow events on /event (SSE) or /ws.

Configuration is read from the directory given by --directory (default:
the current directory), the global config file and the environment, and
is reloaded when those files change.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config, then 4096)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on (default 127.0.0.1)")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Directory to load project configuration from")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "Session database path (default in the data directory)")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}
	live := config.NewLive(appConfig)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPath := serveDB
	if dbPath == "" {
		dbPath = paths.DatabasePath()
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	bus := event.NewBus()
	defer bus.Close()

	titles := newTitles(ctx, appConfig)

	engine := router.New(router.Options{
		Store:    store,
		Bus:      bus,
		Agent:    newAgent(appConfig, live),
		Policy:   policy(appConfig),
		Debounce: config.Debounce(appConfig),
		Titles:   titles,
		DefaultCwd: func() string {
			return config.DefaultCwd(live.Get())
		},
		Env: func() map[string]string {
			if cfg := live.Get(); cfg.Agent != nil {
				return cfg.Agent.Env
			}
			return nil
		},
		AllowedTools: func() string {
			if cfg := live.Get(); cfg.Agent != nil {
				return strings.Join(cfg.Agent.AllowedTools, ",")
			}
			return ""
		},
	})

	commands := command.NewCatalog(afero.NewOsFs(), command.DefaultDir())

	watcher, err := config.NewWatcher(workDir, live, func(cfg *types.Config) {
		commands.Reload()
		logging.Info().Bool("hasAPI", cfg.HasAPI()).Msg("configuration reloaded")
	})
	if err != nil {
		logging.Warn().Err(err).Msg("config watcher disabled")
	} else {
		watcher.Start()
		defer watcher.Stop()
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Port = config.Port(appConfig)
	if servePort != 0 {
		serverConfig.Port = servePort
	}
	if appConfig.Server != nil {
		if appConfig.Server.Hostname != "" {
			serverConfig.Hostname = appConfig.Server.Hostname
		}
		serverConfig.CORSOrigins = appConfig.Server.CORS
	}
	if serveHostname != "" {
		serverConfig.Hostname = serveHostname
	}

	srv := server.New(serverConfig, server.Deps{
		Router:   engine,
		Store:    store,
		Bus:      bus,
		Live:     live,
		Commands: commands,
		Titles:   titles,
	})
	if err := srv.Journal(ctx); err != nil {
		logging.Warn().Err(err).Msg("event journal disabled")
	}

	logging.Info().
		Str("version", Version).
		Str("directory", workDir).
		Str("db", dbPath).
		Msg("starting cowork server")
	fmt.Fprintf(cmd.OutOrStdout(), "cowork listening on http://%s\n", srv.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
	}

	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logging.Warn().Err(shutdownErr).Msg("server shutdown")
	}
	// Aborts running turns and flushes the store.
	if closeErr := engine.Close(); closeErr != nil {
		logging.Error().Err(closeErr).Msg("closing session store")
	}
	return err
}

// newAgent builds the Claude CLI agent. Credentials are read from the live
// configuration at the start of every turn so edits apply without a restart.
func newAgent(cfg *types.Config, live *config.Live) agent.Agent {
	cli := &agent.ClaudeCLI{
		Credentials: func() (agent.Credentials, bool) {
			c := live.Get()
			if !c.HasAPI() {
				return agent.Credentials{}, false
			}
			return agent.Credentials{
				APIKey:  c.API.APIKey,
				BaseURL: c.API.BaseURL,
				Model:   c.API.Model,
			}, true
		},
	}
	if cfg.Agent != nil {
		cli.Command = cfg.Agent.Command
		cli.Args = cfg.Agent.Args
	}
	return cli
}

func policy(cfg *types.Config) permission.Policy {
	if cfg.Agent == nil || len(cfg.Agent.InteractiveTools) == 0 {
		return permission.DefaultPolicy()
	}
	return permission.Policy{Interactive: cfg.Agent.InteractiveTools}
}

// newTitles returns a summarizer, or nil when titles are disabled or no API
// key is configured.
func newTitles(ctx context.Context, cfg *types.Config) title.Generator {
	if !cfg.TitleEnabled() || !cfg.HasAPI() {
		return nil
	}
	tc := title.ClaudeConfig{
		APIKey:  cfg.API.APIKey,
		BaseURL: cfg.API.BaseURL,
		Model:   cfg.API.Model,
	}
	if cfg.Title != nil {
		if cfg.Title.Model != "" {
			tc.Model = cfg.Title.Model
		}
		tc.MaxTokens = cfg.Title.MaxTokens
	}
	s, err := title.NewClaudeSummarizer(ctx, tc)
	if err != nil {
		logging.Warn().Err(err).Msg("title synthesis disabled")
		return nil
	}
	return s
}
