package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/opencode-ai/cowork/pkg/types"
)

// ErrConfigMissing is returned by Query when no credentials are configured or
// the agent executable cannot be found.
var ErrConfigMissing = errors.New("API configuration not found")

// CanUseTool is asked before the agent runs a tool. It may block until a
// human decides; it must return when ctx is done.
type CanUseTool func(ctx context.Context, toolName string, input json.RawMessage) (types.PermissionResult, error)

// Request describes one turn.
type Request struct {
	Prompt   string
	Cwd      string
	ResumeID string
	// AllowedTools are passed through to the agent's own allow list.
	AllowedTools []string
	Env          map[string]string
	CanUseTool   CanUseTool
}

// Stream yields the messages of one turn.
type Stream interface {
	// Next returns the next message, io.EOF after the last one, or the error
	// that ended the turn. A cancelled turn reports context.Canceled.
	Next(ctx context.Context) (types.StreamMessage, error)
	Close() error
}

// Agent starts turns against the external agent process.
type Agent interface {
	Query(ctx context.Context, req Request) (Stream, error)
}

// Credentials are the API settings handed to the agent process.
type Credentials struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Valid reports whether a turn can be started with these credentials.
func (c Credentials) Valid() bool {
	return c.APIKey != ""
}

// Env returns the environment assignments for the agent process.
func (c Credentials) Env() []string {
	env := []string{"ANTHROPIC_AUTH_TOKEN=" + c.APIKey}
	if c.BaseURL != "" {
		env = append(env, "ANTHROPIC_BASE_URL="+c.BaseURL)
	}
	if c.Model != "" {
		env = append(env, "ANTHROPIC_MODEL="+c.Model)
	}
	return env
}

func envList(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(m))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}
