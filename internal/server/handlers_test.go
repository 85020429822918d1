package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/cowork/internal/agent/agenttest"
	"github.com/opencode-ai/cowork/internal/command"
	"github.com/opencode-ai/cowork/internal/config"
	"github.com/opencode-ai/cowork/internal/storage"
	"github.com/opencode-ai/cowork/internal/workspace"
	"github.com/opencode-ai/cowork/pkg/types"
)

const todoInput = `{"todos":[{"content":"write tests","activeForm":"Writing tests","status":"in_progress"}]}`

func TestPostCommand_StartRunsTurn(t *testing.T) {
	env := newTestEnv(t)
	env.agent.Push(agenttest.Reply(
		agenttest.Init("claude-1"),
		agenttest.ToolUse("t1", "TodoWrite", todoInput),
		agenttest.ToolResult("t1", false),
		agenttest.Result(true),
	))

	resp := env.command(t, types.StartSession{Prompt: "fix the flaky build", Cwd: "/repo"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	info := decode[types.SessionInfo](t, resp)
	require.NotEmpty(t, info.ID)
	assert.Equal(t, types.StatusRunning, info.Status)
	assert.Equal(t, "/repo", info.Cwd)

	env.waitStatus(t, info.ID, types.StatusCompleted)

	sess := decode[types.Session](t, env.get(t, "/session/"+info.ID))
	assert.Equal(t, "claude-1", sess.ResumeID)
	assert.Equal(t, "fix the flaky build", sess.LastPrompt)

	hist := decode[struct {
		Session  types.SessionInfo     `json:"session"`
		Messages []types.StreamMessage `json:"messages"`
	}](t, env.get(t, "/session/"+info.ID+"/history"))
	assert.Equal(t, info.ID, hist.Session.ID)
	assert.Len(t, hist.Messages, 5)

	tools := decode[map[string]types.ToolStatus](t, env.get(t, "/session/"+info.ID+"/tools"))
	assert.Equal(t, map[string]types.ToolStatus{"t1": types.ToolSuccess}, tools)
}

func TestPostCommand_HistoryRefreshesPanels(t *testing.T) {
	env := newTestEnv(t)
	env.agent.Push(agenttest.Reply(agenttest.ToolUse("t1", "TodoWrite", todoInput), agenttest.Result(true)))

	info := decode[types.SessionInfo](t, env.command(t, types.StartSession{Prompt: "plan"}))
	env.waitStatus(t, info.ID, types.StatusCompleted)

	resp := env.command(t, types.SessionHistory{SessionID: info.ID})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	got := decode[panels](t, env.get(t, "/session/"+info.ID+"/panels"))
	require.Len(t, got.Todos, 1)
	assert.Equal(t, "write tests", got.Todos[0].Content)
	assert.Empty(t, got.Changes)
	assert.NotNil(t, got.Tree)
}

func TestPostCommand_Errors(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.store.CreateSession(context.Background(), storage.CreateParams{Title: "idle", Cwd: "/repo"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed json", `{"type":`, http.StatusBadRequest, ErrCodeInvalidRequest},
		{"unknown type", `{"type":"session.explode"}`, http.StatusBadRequest, ErrCodeInvalidRequest},
		{"continue without resume id", `{"type":"session.continue","payload":{"sessionId":"` + sess.ID + `","prompt":"more"}}`, http.StatusConflict, ErrCodeConflict},
		{"continue missing session", `{"type":"session.continue","payload":{"sessionId":"nope","prompt":"more"}}`, http.StatusNotFound, ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.post(t, "/command", []byte(tt.body))
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decode[ErrorResponse](t, resp)
			assert.Equal(t, tt.code, body.Error.Code)
			if tt.status == http.StatusConflict {
				assert.Equal(t, types.CmdSessionContinue, body.Error.Details["command"])
			}
		})
	}
}

func TestPostCommand_AfterCloseIsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.Close())

	resp := env.command(t, types.ListSessions{})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestPostCommand_DeleteRemovesSession(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.store.CreateSession(context.Background(), storage.CreateParams{Title: "doomed", Cwd: "/repo"})
	require.NoError(t, err)

	resp := env.command(t, types.DeleteSession{SessionID: sess.ID})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	for _, path := range []string{"", "/history", "/tools", "/panels", "/permissions"} {
		assert.Equal(t, http.StatusNotFound, env.get(t, "/session/"+sess.ID+path).StatusCode, path)
	}
	assert.Empty(t, decode[[]types.SessionInfo](t, env.get(t, "/session")))
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t)
	assert.Empty(t, decode[[]types.SessionInfo](t, env.get(t, "/session")))

	_, err := env.store.CreateSession(context.Background(), storage.CreateParams{Title: "one", Cwd: "/repo"})
	require.NoError(t, err)
	list := decode[[]types.SessionInfo](t, env.get(t, "/session"))
	require.Len(t, list, 1)
	assert.Equal(t, "one", list[0].Title)
}

func TestPendingPermissions(t *testing.T) {
	env := newTestEnv(t)
	env.agent.Push(agenttest.Ask("AskUserQuestion", `{"question":"ok?"}`, nil, agenttest.Result(true)))

	info := decode[types.SessionInfo](t, env.command(t, types.StartSession{Prompt: "ask me"}))
	require.Eventually(t, func() bool {
		return len(env.engine.PendingPermissions(info.ID)) == 1
	}, waitFor, 10*time.Millisecond)

	pending := decode[[]map[string]any](t, env.get(t, "/session/"+info.ID+"/permissions"))
	require.Len(t, pending, 1)
	assert.Equal(t, "AskUserQuestion", pending[0]["toolName"])

	resp := env.command(t, types.PermissionResponse{
		SessionID: info.ID,
		ToolUseID: pending[0]["toolUseId"].(string),
		Result:    types.Allow(nil),
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	env.waitStatus(t, info.ID, types.StatusCompleted)
	assert.Empty(t, decode[[]map[string]any](t, env.get(t, "/session/"+info.ID+"/permissions")))
}

func TestRecentCwds(t *testing.T) {
	env := newTestEnv(t)
	for _, cwd := range []string{"/a", "/b", "/a"} {
		_, err := env.store.CreateSession(context.Background(), storage.CreateParams{Title: cwd, Cwd: cwd})
		require.NoError(t, err)
	}

	got := decode[[]string](t, env.get(t, "/cwd/recent"))
	assert.ElementsMatch(t, []string{"/a", "/b"}, got)

	assert.Len(t, decode[[]string](t, env.get(t, "/cwd/recent?limit=1")), 1)
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/cwd/recent?limit=zero").StatusCode)
}

func TestWorkspaceTree(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.fs.MkdirAll("/work/src", 0o755))
	require.NoError(t, env.fs.MkdirAll("/work/node_modules/pkg", 0o755))
	for _, f := range []string{"/work/src/main.go", "/work/README.md", "/work/.env", "/work/node_modules/pkg/index.js"} {
		require.NoError(t, afero.WriteFile(env.fs, f, []byte("x"), 0o644))
	}

	body := decode[struct {
		Root    string            `json:"root"`
		Entries []workspace.Entry `json:"entries"`
	}](t, env.get(t, "/workspace/tree?depth=2"))

	assert.Equal(t, "/work", body.Root)
	require.Len(t, body.Entries, 2)
	assert.Equal(t, "src", body.Entries[0].Name)
	assert.True(t, body.Entries[0].IsDirectory)
	require.Len(t, body.Entries[0].Children, 1)
	assert.Equal(t, "main.go", body.Entries[0].Children[0].Name)
	assert.Equal(t, "README.md", body.Entries[1].Name)

	assert.Equal(t, http.StatusNotFound, env.get(t, "/workspace/tree?path=/missing").StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/workspace/tree?depth=deep").StatusCode)
}

func TestCommands(t *testing.T) {
	env := newTestEnv(t)

	list := decode[[]command.Command](t, env.get(t, "/commands"))
	require.Len(t, list, 1)
	assert.Equal(t, "review", list[0].Name)
	assert.Equal(t, "Review a change", list[0].Description)
	assert.Equal(t, "<file>", list[0].ArgumentHint)

	got := decode[struct {
		Command command.Command `json:"command"`
		Content string          `json:"content"`
	}](t, env.get(t, "/commands/review"))
	assert.Equal(t, "review", got.Command.Name)
	assert.Contains(t, got.Content, "Review $1 carefully.")
	assert.NotContains(t, got.Content, "description:")

	assert.Equal(t, http.StatusNotFound, env.get(t, "/commands/missing").StatusCode)
}

func TestCheckConfig_HidesKey(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/config/check")
	check := decode[ConfigCheck](t, resp)
	assert.True(t, check.HasConfig)
	assert.Equal(t, "claude-test", check.Model)

	env.live.Set(&types.Config{})
	assert.False(t, decode[ConfigCheck](t, env.get(t, "/config/check")).HasConfig)
}

func TestSaveConfig(t *testing.T) {
	env := newTestEnv(t)
	env.live.Set(&types.Config{DefaultCwd: "/work", DebounceMs: 50})

	resp := env.put(t, "/config", []byte(`{"apiKey":" sk-new-key ","baseURL":"https://api.example.com","model":"claude-next"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "sk-new-key")

	saved, err := os.ReadFile(env.configPath)
	require.NoError(t, err)
	assert.Contains(t, string(saved), `"apiKey": "sk-new-key"`)

	live := env.live.Get()
	require.NotNil(t, live.API)
	assert.Equal(t, "sk-new-key", live.API.APIKey)
	assert.Equal(t, 50, live.DebounceMs, "unrelated settings survive")

	check := env.get(t, "/config/check")
	raw, err := io.ReadAll(check.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-")
	assert.JSONEq(t, `{"hasConfig":true,"model":"claude-next","baseURL":"https://api.example.com"}`, string(raw))
}

func TestSaveConfig_RequiresAllFields(t *testing.T) {
	env := newTestEnv(t)

	resp := env.put(t, "/config", []byte(`{"apiKey":"sk-x","baseURL":"  "}`))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	got := decode[ErrorResponse](t, resp)
	assert.ElementsMatch(t, []any{"baseURL", "model"}, got.Error.Details["missing"])

	_, err := os.Stat(env.configPath)
	assert.True(t, os.IsNotExist(err), "nothing is written on a rejected save")
	assert.Equal(t, "sk-secret", env.live.Get().API.APIKey)
}

func TestDefaultCwd(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.fs.MkdirAll("/projects/x", 0o755))

	got := decode[map[string]string](t, env.get(t, "/config/default-cwd"))
	assert.Equal(t, "/work", got["defaultCwd"])

	resp := env.put(t, "/config/default-cwd", []byte(`{"cwd":"/projects/x/"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/projects/x", decode[map[string]string](t, resp)["defaultCwd"])
	assert.Equal(t, "/projects/x", decode[map[string]string](t, env.get(t, "/config/default-cwd"))["defaultCwd"])
	assert.Equal(t, "sk-secret", env.live.Get().API.APIKey)

	var saved types.Config
	data, err := os.ReadFile(env.configPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, "/projects/x", saved.DefaultCwd)
	assert.Nil(t, saved.API, "only the changed field is written")

	for _, body := range []string{`{"cwd":""}`, `{"cwd":"relative/dir"}`, `{"cwd":"/missing"}`} {
		resp := env.put(t, "/config/default-cwd", []byte(body))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
	assert.Equal(t, "/projects/x", config.DefaultCwd(env.live.Get()))
}

type stubTitles struct {
	title string
	err   error
}

func (s stubTitles) Generate(context.Context, string) (string, error) { return s.title, s.err }

func TestGenerateTitle(t *testing.T) {
	prompt := []byte(`{"prompt":"please refactor the session store for batching"}`)

	t.Run("provisional without summarizer", func(t *testing.T) {
		env := newTestEnv(t)
		got := decode[map[string]string](t, env.post(t, "/title", prompt))
		assert.Equal(t, "please refactor the session store for", got["title"])
	})

	t.Run("summarized", func(t *testing.T) {
		env := newTestEnv(t, withTitles(stubTitles{title: "Refactoring session store"}))
		got := decode[map[string]string](t, env.post(t, "/title", prompt))
		assert.Equal(t, "Refactoring session store", got["title"])
	})

	t.Run("summarizer failure falls back", func(t *testing.T) {
		env := newTestEnv(t, withTitles(stubTitles{err: errors.New("rate limited")}))
		got := decode[map[string]string](t, env.post(t, "/title", prompt))
		assert.Equal(t, "please refactor the session store for", got["title"])
	})

	t.Run("empty prompt", func(t *testing.T) {
		env := newTestEnv(t)
		resp := env.post(t, "/title", []byte(`{"prompt":"  "}`))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
