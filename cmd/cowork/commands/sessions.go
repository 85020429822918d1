package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/cowork/internal/client"
	"github.com/opencode-ai/cowork/pkg/types"
)

var (
	startTitle  string
	startCwd    string
	startTools  string
	startFollow bool
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session"},
	Short:   "List and control sessions on a running server",
	RunE:    runSessionsList,
}

var sessionsStartCmd = &cobra.Command{
	Use:   "start [prompt...]",
	Short: "Start a session",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSessionsStart,
}

var sessionsContinueCmd = &cobra.Command{
	Use:   "continue <id> [prompt...]",
	Short: "Send a follow-up prompt to a session",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(cmd, types.ContinueSession{SessionID: args[0], Prompt: strings.Join(args[1:], " ")})
	},
}

var sessionsStopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Stop the running turn of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(cmd, types.StopSession{SessionID: args[0]})
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(cmd, types.DeleteSession{SessionID: args[0]})
	},
}

var sessionsRenameCmd = &cobra.Command{
	Use:   "rename <id> <title...>",
	Short: "Rename a session",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(cmd, types.RenameSession{SessionID: args[0], Title: strings.Join(args[1:], " ")})
	},
}

func init() {
	sessionsStartCmd.Flags().StringVar(&startTitle, "title", "", "Session title (default derived from the prompt)")
	sessionsStartCmd.Flags().StringVar(&startCwd, "cwd", "", "Working directory for the agent")
	sessionsStartCmd.Flags().StringVar(&startTools, "allowed-tools", "", "Comma separated tools the agent may use without asking")
	sessionsStartCmd.Flags().BoolVarP(&startFollow, "follow", "f", false, "Follow the session's events until its turn ends")

	sessionsCmd.AddCommand(sessionsStartCmd)
	sessionsCmd.AddCommand(sessionsContinueCmd)
	sessionsCmd.AddCommand(sessionsStopCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsRenameCmd)
}

func newClient() (*client.Client, error) {
	base, err := baseURL()
	if err != nil {
		return nil, err
	}
	return client.New(base), nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	sessions, err := c.Sessions(cmd.Context())
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tUPDATED\tTITLE\tCWD")
	for _, s := range sessions {
		updated := time.UnixMilli(s.UpdatedAt).Format("2006-01-02 15:04")
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Status, updated, s.Title, s.Cwd)
	}
	return w.Flush()
}

func send(cmd *cobra.Command, command types.Command) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	if _, err := c.Send(cmd.Context(), command); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s accepted\n", command.CommandType())
	return nil
}

func runSessionsStart(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := types.StartSession{
		Title:        startTitle,
		Prompt:       strings.Join(args, " "),
		Cwd:          startCwd,
		AllowedTools: startTools,
	}
	if !startFollow {
		info, err := c.Start(ctx, start)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", info.ID, info.Title)
		return nil
	}

	// Subscribe first so no event of the new session is missed, then start
	// it and render only its events until a terminal status arrives.
	r := newRenderer(cmd.OutOrStdout(), false, false, false)
	ready := make(chan struct{})
	pending := make(chan client.Frame, 256)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Events(ctx, "", func() {
			select {
			case <-ready:
			default:
				close(ready)
			}
		}, func(f client.Frame) {
			select {
			case pending <- f:
			case <-ctx.Done():
			}
		})
	}()

	select {
	case <-ready:
	case err := <-errCh:
		return err
	}
	info, err := c.Start(ctx, start)
	if err != nil {
		return err
	}
	sessionID := info.ID

	for {
		select {
		case f := <-pending:
			if f.SessionID() != sessionID {
				continue
			}
			r.Frame(f)
			if f.Type == "session.status" && terminal(f) {
				return nil
			}
			if f.Type == "session.deleted" {
				return nil
			}
		case err := <-errCh:
			return err
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "stopped following; the session keeps running on the server")
			return nil
		}
	}
}

// terminal reports whether a session.status frame ends the turn.
func terminal(f client.Frame) bool {
	var p struct {
		Status types.SessionStatus `json:"status"`
	}
	if json.Unmarshal(f.Payload, &p) != nil {
		return false
	}
	return p.Status != "" && p.Status != types.StatusRunning
}
