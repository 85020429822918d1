package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/cowork/internal/command"
	"github.com/opencode-ai/cowork/internal/config"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debug utilities",
	Long:  `Debug utilities for troubleshooting cowork configuration and setup.`,
}

var debugConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the merged configuration",
	RunE:  runDebugConfig,
}

var debugPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show system paths",
	RunE:  runDebugPaths,
}

func init() {
	debugCmd.AddCommand(debugConfigCmd)
	debugCmd.AddCommand(debugPathsCmd)
}

func runDebugConfig(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}
	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	// Never print the key itself.
	shown := *appConfig
	if shown.API != nil && shown.API.APIKey != "" {
		api := *shown.API
		api.APIKey = "********"
		shown.API = &api
	}

	data, err := json.MarshalIndent(shown, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func runDebugPaths(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}
	paths := config.GetPaths()
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "cowork paths:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Config:     %s\n", paths.Config)
	fmt.Fprintf(out, "  Data:       %s\n", paths.Data)
	fmt.Fprintf(out, "  Database:   %s\n", paths.DatabasePath())
	fmt.Fprintf(out, "  Workspace:  %s\n", paths.WorkspacePath())
	fmt.Fprintf(out, "  Logs:       %s\n", paths.LogPath())
	fmt.Fprintf(out, "  Commands:   %s\n", command.DefaultDir())
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Config sources, in load order:")
	for _, p := range config.Sources(workDir) {
		fmt.Fprintf(out, "  %s\n", p)
	}
	fmt.Fprintf(out, "  %s (fallback)\n", config.ClaudeSettingsPath())
	return nil
}
