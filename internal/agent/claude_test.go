package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/cowork/pkg/types"
)

func fakeCLI(t *testing.T, body string) *ClaudeCLI {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake agent needs /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "claude")
	script := "#!/bin/sh\nread -r init\nread -r prompt\n" + body
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return &ClaudeCLI{
		Command: path,
		Credentials: func() (Credentials, bool) {
			return Credentials{APIKey: "test-key", Model: "test-model"}, true
		},
	}
}

func drain(t *testing.T, s Stream) ([]types.StreamMessage, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out []types.StreamMessage
	for {
		msg, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, msg)
	}
}

func TestClaudeCLI_StreamsMessages(t *testing.T) {
	dir := t.TempDir()
	cli := fakeCLI(t, `printf '%s\n' "$@" > "$OUT_DIR/args"
printf '%s\n' "$prompt" > "$OUT_DIR/prompt"
printf '%s\n' "$ANTHROPIC_AUTH_TOKEN" > "$OUT_DIR/token"
echo '{"type":"control_response","response":{"subtype":"success","request_id":"req_init"}}'
echo '{"type":"system","subtype":"init","session_id":"claude-1"}'
echo 'not json'
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}'
echo '{"type":"result","subtype":"success","is_error":false,"result":"done"}'
`)

	s, err := cli.Query(context.Background(), Request{
		Prompt:       "hello",
		ResumeID:     "claude-0",
		AllowedTools: []string{"Read", "Write"},
		Env:          map[string]string{"OUT_DIR": dir},
	})
	require.NoError(t, err)
	defer s.Close()

	msgs, err := drain(t, s)
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, msgs, 3)
	assert.True(t, msgs[0].IsInit())
	assert.Equal(t, "claude-1", msgs[0].SessionID)
	assert.Equal(t, types.MessageAssistant, msgs[1].Type)
	assert.True(t, msgs[2].Succeeded())

	args, err := os.ReadFile(filepath.Join(dir, "args"))
	require.NoError(t, err)
	assert.Contains(t, string(args), "--resume\nclaude-0\n")
	assert.Contains(t, string(args), "--allowedTools\nRead,Write\n")
	assert.Contains(t, string(args), "--permission-prompt-tool\nstdio\n")

	prompt, err := os.ReadFile(filepath.Join(dir, "prompt"))
	require.NoError(t, err)
	var user struct {
		Type    string `json:"type"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	}
	require.NoError(t, json.Unmarshal(prompt, &user))
	assert.Equal(t, "user", user.Type)
	assert.Equal(t, "hello", user.Message.Content)

	token, err := os.ReadFile(filepath.Join(dir, "token"))
	require.NoError(t, err)
	assert.Equal(t, "test-key\n", string(token))
}

func TestClaudeCLI_AnswersToolRequests(t *testing.T) {
	dir := t.TempDir()
	cli := fakeCLI(t, `echo '{"type":"control_request","request_id":"perm-1","request":{"subtype":"can_use_tool","tool_name":"AskUserQuestion","input":{"q":"ok?"}}}'
read -r answer
printf '%s\n' "$answer" > "$OUT_DIR/answer"
echo '{"type":"result","subtype":"success","is_error":false}'
`)

	asked := make(chan string, 1)
	s, err := cli.Query(context.Background(), Request{
		Prompt: "p",
		Env:    map[string]string{"OUT_DIR": dir},
		CanUseTool: func(_ context.Context, tool string, input json.RawMessage) (types.PermissionResult, error) {
			asked <- tool
			return types.Allow(json.RawMessage(`{"q":"ok?","answers":["yes"]}`)), nil
		},
	})
	require.NoError(t, err)
	defer s.Close()

	msgs, err := drain(t, s)
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, msgs, 1)
	assert.Equal(t, "AskUserQuestion", <-asked)

	raw, err := os.ReadFile(filepath.Join(dir, "answer"))
	require.NoError(t, err)
	var answer struct {
		Type     string `json:"type"`
		Response struct {
			Subtype   string                 `json:"subtype"`
			RequestID string                 `json:"request_id"`
			Response  types.PermissionResult `json:"response"`
		} `json:"response"`
	}
	require.NoError(t, json.Unmarshal(raw, &answer))
	assert.Equal(t, "control_response", answer.Type)
	assert.Equal(t, "perm-1", answer.Response.RequestID)
	assert.True(t, answer.Response.Response.Allowed())
	assert.JSONEq(t, `{"q":"ok?","answers":["yes"]}`, string(answer.Response.Response.UpdatedInput))
}

func TestClaudeCLI_ExitErrorIncludesStderr(t *testing.T) {
	cli := fakeCLI(t, `echo 'invalid api key' >&2
exit 3
`)
	s, err := cli.Query(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	defer s.Close()

	_, err = drain(t, s)
	require.Error(t, err)
	assert.False(t, errors.Is(err, io.EOF))
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestClaudeCLI_CancelReportsCanceled(t *testing.T) {
	cli := fakeCLI(t, `echo '{"type":"system","subtype":"init","session_id":"c"}'
exec sleep 30
`)
	ctx, cancel := context.WithCancel(context.Background())
	s, err := cli.Query(ctx, Request{Prompt: "p"})
	require.NoError(t, err)
	defer s.Close()

	msg, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, msg.IsInit())

	cancel()
	_, err = drain(t, s)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClaudeCLI_ConfigMissing(t *testing.T) {
	cli := &ClaudeCLI{Credentials: func() (Credentials, bool) { return Credentials{}, false }}
	_, err := cli.Query(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrConfigMissing)

	cli = &ClaudeCLI{
		Command:     filepath.Join(t.TempDir(), "does-not-exist"),
		Credentials: func() (Credentials, bool) { return Credentials{APIKey: "k"}, true },
	}
	_, err = cli.Query(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrConfigMissing)

	_, err = (&ClaudeCLI{}).Query(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrConfigMissing)
}

func TestCredentials_Env(t *testing.T) {
	assert.Equal(t, []string{"ANTHROPIC_AUTH_TOKEN=k"}, Credentials{APIKey: "k"}.Env())
	assert.Equal(t, []string{
		"ANTHROPIC_AUTH_TOKEN=k",
		"ANTHROPIC_BASE_URL=http://proxy",
		"ANTHROPIC_MODEL=m",
	}, Credentials{APIKey: "k", BaseURL: "http://proxy", Model: "m"}.Env())
	assert.False(t, Credentials{}.Valid())
}
