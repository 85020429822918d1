package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/cowork/internal/client"
	"github.com/opencode-ai/cowork/pkg/types"
)

var (
	watchSession string
	watchJSON    bool
	watchNoColor bool
	watchPartial bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow server events",
	Long: `Connect to a running cowork server and print its events as they arrive.
The connection is re-established automatically when the server restarts.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchSession, "session", "s", "", "Only show events of this session")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "Print raw event frames")
	watchCmd.Flags().BoolVar(&watchNoColor, "no-color", false, "Disable colors")
	watchCmd.Flags().BoolVar(&watchPartial, "partial", false, "Include streaming partial messages")
}

func runWatch(cmd *cobra.Command, args []string) error {
	base, err := baseURL()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := newRenderer(cmd.OutOrStdout(), watchJSON, watchNoColor, watchPartial)
	return client.New(base).Events(ctx, watchSession, func() {
		fmt.Fprintln(os.Stderr, color.New(color.FgHiBlack).Sprintf("Connected to %s", base))
	}, r.Frame)
}

// renderer prints event frames for humans.
type renderer struct {
	out     io.Writer
	json    bool
	partial bool
}

func newRenderer(out io.Writer, asJSON, noColor, partial bool) *renderer {
	if noColor {
		color.NoColor = true
	}
	return &renderer{out: out, json: asJSON, partial: partial}
}

var (
	dim     = color.New(color.FgHiBlack)
	accent  = color.New(color.FgCyan, color.Bold)
	good    = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow)
	bad     = color.New(color.FgRed)
	neutral = color.New(color.FgBlue)
)

func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}

// Frame prints one event.
func (r *renderer) Frame(f client.Frame) {
	if r.json {
		b, _ := json.Marshal(f)
		fmt.Fprintln(r.out, string(b))
		return
	}

	prefix := dim.Sprintf("[%s]", shortID(f.SessionID()))
	if f.SessionID() == "" {
		prefix = dim.Sprint("[global]")
	}

	switch f.Type {
	case "session.status":
		var p struct {
			Status types.SessionStatus `json:"status"`
			Title  string              `json:"title"`
			Error  string              `json:"error"`
		}
		_ = json.Unmarshal(f.Payload, &p)
		c := neutral
		switch p.Status {
		case types.StatusCompleted:
			c = good
		case types.StatusError:
			c = bad
		}
		line := fmt.Sprintf("%s %s", prefix, c.Sprint(p.Status))
		if p.Title != "" {
			line += " " + p.Title
		}
		if p.Error != "" {
			line += " " + bad.Sprint(p.Error)
		}
		fmt.Fprintln(r.out, line)

	case "stream.user_prompt":
		var p struct {
			Prompt string `json:"prompt"`
		}
		_ = json.Unmarshal(f.Payload, &p)
		fmt.Fprintf(r.out, "%s %s %s\n", prefix, accent.Sprint("you ›"), p.Prompt)

	case "stream.message":
		r.message(prefix, f.Payload)

	case "permission.request":
		var p struct {
			ToolName  string          `json:"toolName"`
			ToolUseID string          `json:"toolUseId"`
			Input     json.RawMessage `json:"input"`
		}
		_ = json.Unmarshal(f.Payload, &p)
		fmt.Fprintf(r.out, "%s %s %s %s\n", prefix, warn.Sprint("? permission"), p.ToolName, dim.Sprint(string(p.Input)))

	case "rightpanel.todos":
		var p struct {
			Todos []types.TodoItem `json:"todos"`
		}
		_ = json.Unmarshal(f.Payload, &p)
		fmt.Fprintf(r.out, "%s %s\n", prefix, dim.Sprintf("todos: %d", len(p.Todos)))
		for _, t := range p.Todos {
			fmt.Fprintf(r.out, "    %s %s\n", todoMark(t.Status), t.Content)
		}

	case "rightpanel.filechanges":
		var p struct {
			Changes []types.FileChange `json:"changes"`
		}
		_ = json.Unmarshal(f.Payload, &p)
		fmt.Fprintf(r.out, "%s %s\n", prefix, dim.Sprintf("changed files: %d", len(p.Changes)))
		for _, c := range p.Changes {
			fmt.Fprintf(r.out, "    %s %s %s\n", warn.Sprint(c.OperationType), c.FilePath,
				dim.Sprintf("+%d -%d", c.Additions, c.Deletions))
		}

	case "rightpanel.filetree":
		// Trees are large; the change list already names every file.

	case "session.list":
		var p struct {
			Sessions []types.SessionInfo `json:"sessions"`
		}
		_ = json.Unmarshal(f.Payload, &p)
		fmt.Fprintf(r.out, "%s %s\n", prefix, dim.Sprintf("%d sessions", len(p.Sessions)))

	case "session.deleted":
		fmt.Fprintf(r.out, "%s %s\n", prefix, bad.Sprint("deleted"))

	case "runner.error":
		var p struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(f.Payload, &p)
		fmt.Fprintf(r.out, "%s %s\n", prefix, bad.Sprintf("error: %s", p.Message))

	default:
		fmt.Fprintf(r.out, "%s %s\n", prefix, dim.Sprint(f.Type))
	}
}

func (r *renderer) message(prefix string, payload json.RawMessage) {
	var p struct {
		Message types.StreamMessage `json:"message"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	msg := p.Message
	switch msg.Type {
	case types.MessageStreamEvent:
		if r.partial {
			fmt.Fprintf(r.out, "%s %s\n", prefix, dim.Sprint("…"))
		}
	case types.MessageAssistant:
		for _, b := range msg.Content() {
			switch b.Type {
			case types.BlockText:
				if text := strings.TrimSpace(b.Text); text != "" {
					fmt.Fprintf(r.out, "%s %s %s\n", prefix, good.Sprint("assistant ›"), text)
				}
			case types.BlockToolUse:
				fmt.Fprintf(r.out, "%s %s\n", prefix, warn.Sprintf("→ tool %s", b.Name))
			}
		}
	case types.MessageUser:
		for _, b := range msg.Content() {
			if b.Type == types.BlockToolResult && b.IsError {
				fmt.Fprintf(r.out, "%s %s\n", prefix, bad.Sprint("  tool failed"))
			}
		}
	case types.MessageResult:
		fmt.Fprintf(r.out, "%s %s\n", prefix, dim.Sprint("turn finished"))
	}
}

func todoMark(s types.TodoStatus) string {
	switch s {
	case types.TodoCompleted:
		return good.Sprint("✓")
	case types.TodoInProgress:
		return warn.Sprint("●")
	}
	return dim.Sprint("○")
}
