package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/cowork/internal/agent/agenttest"
	"github.com/opencode-ai/cowork/internal/command"
	"github.com/opencode-ai/cowork/internal/config"
	"github.com/opencode-ai/cowork/internal/debounce"
	"github.com/opencode-ai/cowork/internal/event"
	"github.com/opencode-ai/cowork/internal/router"
	"github.com/opencode-ai/cowork/internal/storage"
	"github.com/opencode-ai/cowork/internal/title"
	"github.com/opencode-ai/cowork/pkg/types"
)

const waitFor = 2 * time.Second

type testEnv struct {
	srv    *Server
	ts     *httptest.Server
	store  *storage.Store
	bus    *event.Bus
	engine *router.Router
	agent  *agenttest.Fake
	fs     afero.Fs
	live   *config.Live

	configPath string
}

type envOption func(*Deps)

func withTitles(g title.Generator) envOption {
	return func(d *Deps) { d.Titles = g }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	store, err := storage.Open(storage.MemoryPath)
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/cmds", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/cmds/review.md",
		[]byte("---\ndescription: Review a change\nargument-hint: <file>\n---\nReview $1 carefully.\n"), 0o644))

	bus := event.NewBus()
	fake := agenttest.New()
	engine := router.New(router.Options{
		Store:      store,
		Bus:        bus,
		Agent:      fake,
		Clock:      debounce.NewManualClock(),
		Fs:         fs,
		DefaultCwd: func() string { return "/work" },
	})
	live := config.NewLive(&types.Config{
		API:        &types.APIConfig{APIKey: "sk-secret", Model: "claude-test"},
		DefaultCwd: "/work",
	})

	deps := Deps{
		Router:   engine,
		Store:    store,
		Bus:      bus,
		Live:     live,
		Commands: command.NewCatalog(fs, "/cmds"),
		Fs:       fs,

		ConfigPath: filepath.Join(t.TempDir(), "cowork.json"),
	}
	for _, o := range opts {
		o(&deps)
	}
	srv := New(DefaultConfig(), deps)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		engine.Close()
		bus.Close()
	})
	return &testEnv{srv: srv, ts: ts, store: store, bus: bus, engine: engine, agent: fake, fs: fs, live: live, configPath: deps.ConfigPath}
}

// command posts cmd to /command and returns the response.
func (e *testEnv) command(t *testing.T, cmd types.Command) *http.Response {
	t.Helper()
	body, err := types.EncodeCommand(cmd)
	require.NoError(t, err)
	return e.post(t, "/command", body)
}

func (e *testEnv) post(t *testing.T, path string, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(e.ts.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) put(t *testing.T, path string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, e.ts.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.ts.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// waitStatus polls the store until the session reaches status.
func (e *testEnv) waitStatus(t *testing.T, id string, status types.SessionStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		sess, ok := e.store.GetSession(id)
		return ok && sess.Status == status
	}, waitFor, 10*time.Millisecond)
}
