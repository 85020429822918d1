// Package commands provides the CLI commands for cowork.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/cowork/internal/config"
	"github.com/opencode-ai/cowork/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "cowork",
	Short: "cowork - a session server for the Claude agent CLI",
	Long: `cowork runs Claude agent sessions behind an HTTP API. It persists every
session, bridges tool permission prompts to connected clients and keeps
per-session todo, file change and file tree panels up to date.

Run 'cowork serve' to start the server, then 'cowork watch' or any
SSE/WebSocket client to follow it.`,
	Version:          Version,
	PersistentPreRun: setupLogging,
	SilenceUsage:     true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "", "Server URL for client commands (default http://127.0.0.1:<port>)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("cowork %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(debugCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setupLogging always writes JSON logs to the state directory and mirrors
// them to stderr with --print-logs.
func setupLogging(cmd *cobra.Command, args []string) {
	var out io.Writer = io.Discard
	if printLogs {
		out = os.Stderr
	}
	logging.Init(logging.Config{
		Level:     logging.ParseLevel(logLevel),
		Output:    out,
		Pretty:    printLogs,
		LogToFile: cmd == serveCmd,
		LogDir:    config.GetPaths().LogPath(),
	})
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}

// baseURL resolves the server address for client commands.
func baseURL() (string, error) {
	if serverURL != "" {
		return serverURL, nil
	}
	workDir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	cfg, err := config.Load(workDir)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://127.0.0.1:%d", config.Port(cfg)), nil
}
