package runner

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/cowork/internal/agent"
	"github.com/opencode-ai/cowork/internal/agent/agenttest"
	"github.com/opencode-ai/cowork/internal/event"
	"github.com/opencode-ai/cowork/internal/permission"
	"github.com/opencode-ai/cowork/pkg/types"
)

type recorder struct {
	mu      sync.Mutex
	events  []event.Event
	updates []types.SessionUpdate
	seen    chan event.Event
}

func newRecorder() *recorder {
	return &recorder{seen: make(chan event.Event, 64)}
}

func (r *recorder) onEvent(ev event.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.seen <- ev
}

func (r *recorder) onUpdate(u types.SessionUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) types() []event.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) next(t *testing.T) event.Event {
	t.Helper()
	select {
	case ev := <-r.seen:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return event.Event{}
	}
}

func wait(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not finish")
	}
}

var session = types.Session{ID: "s1", Title: "Test", Cwd: "/work", AllowedTools: "Read,Write"}

func TestRun_RelaysMessagesInOrder(t *testing.T) {
	fake := agenttest.New(agenttest.Reply(
		agenttest.Init("claude-1"),
		agenttest.Text("one"),
		agenttest.Text("two"),
		agenttest.Result(true),
	))
	rec := newRecorder()
	h := New(fake).Run(Options{Prompt: "hi", Session: session, OnEvent: rec.onEvent, OnSessionUpdate: rec.onUpdate})
	wait(t, h)

	require.Equal(t, []event.EventType{event.StreamMessage, event.StreamMessage, event.StreamMessage, event.StreamMessage}, rec.types())
	var texts []string
	for _, ev := range rec.events[1:3] {
		texts = append(texts, ev.Data.(event.StreamMessageData).Message.Content()[0].Text)
	}
	assert.Equal(t, []string{"one", "two"}, texts)

	require.Len(t, rec.updates, 1)
	assert.Equal(t, "claude-1", *rec.updates[0].ResumeID)

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/work", reqs[0].Cwd)
	assert.Equal(t, []string{"Read", "Write"}, reqs[0].AllowedTools)
}

func TestRun_PreambleOnlyOnFirstTurn(t *testing.T) {
	fake := agenttest.New(agenttest.Reply(agenttest.Result(true)), agenttest.Reply(agenttest.Result(true)))
	r := New(fake)

	wait(t, r.Run(Options{Prompt: "first", Session: session}))
	wait(t, r.Run(Options{Prompt: "second", Session: session, ResumeID: "claude-1"}))

	reqs := fake.Requests()
	require.Len(t, reqs, 2)
	assert.True(t, strings.HasPrefix(reqs[0].Prompt, "<SYSTEM_CONTEXT>"))
	assert.Contains(t, reqs[0].Prompt, "/work")
	assert.True(t, strings.HasSuffix(reqs[0].Prompt, "first"))
	assert.Equal(t, "second", reqs[1].Prompt)
	assert.Equal(t, "claude-1", reqs[1].ResumeID)
}

func TestRun_CompletedWhenStreamEndsWithoutResult(t *testing.T) {
	rec := newRecorder()
	h := New(agenttest.New(agenttest.Reply(agenttest.Text("hi")))).Run(Options{Session: session, OnEvent: rec.onEvent})
	wait(t, h)

	require.Equal(t, []event.EventType{event.StreamMessage, event.SessionStatus}, rec.types())
	st := rec.events[1].Data.(event.SessionStatusData)
	assert.Equal(t, types.StatusCompleted, st.Status)
	assert.Equal(t, "Test", st.Title)
}

func TestRun_FailureReportsError(t *testing.T) {
	rec := newRecorder()
	h := New(agenttest.New(agenttest.Fail(errors.New("agent exited: exit status 1")))).Run(Options{Session: session, OnEvent: rec.onEvent})
	wait(t, h)

	require.Equal(t, []event.EventType{event.SessionStatus}, rec.types())
	st := rec.events[0].Data.(event.SessionStatusData)
	assert.Equal(t, types.StatusError, st.Status)
	assert.Equal(t, "agent exited: exit status 1", st.Error)
}

func TestRun_ConfigMissing(t *testing.T) {
	fake := agenttest.New()
	fake.Err = agent.ErrConfigMissing
	rec := newRecorder()
	wait(t, New(fake).Run(Options{Session: session, OnEvent: rec.onEvent}))

	require.Len(t, rec.events, 1)
	st := rec.events[0].Data.(event.SessionStatusData)
	assert.Equal(t, types.StatusError, st.Status)
	assert.Equal(t, "API configuration not found", st.Error)
}

func TestRun_AbortReportsNothing(t *testing.T) {
	rec := newRecorder()
	h := New(agenttest.New(agenttest.Hang(agenttest.Text("working")))).Run(Options{Session: session, OnEvent: rec.onEvent})

	assert.Equal(t, event.StreamMessage, rec.next(t).Type)
	h.Abort()
	wait(t, h)
	h.Abort()

	assert.Equal(t, []event.EventType{event.StreamMessage}, rec.types())
}

func TestRun_NonInteractiveToolsAutoApproved(t *testing.T) {
	decided := make(chan types.PermissionResult, 1)
	rec := newRecorder()
	h := New(agenttest.New(agenttest.Ask("Write", `{"file_path":"a.txt"}`, decided, agenttest.Result(true)))).
		Run(Options{Session: session, Policy: permission.DefaultPolicy(), OnEvent: rec.onEvent})
	wait(t, h)

	res := <-decided
	assert.True(t, res.Allowed())
	assert.JSONEq(t, `{"file_path":"a.txt"}`, string(res.UpdatedInput))
	assert.NotContains(t, rec.types(), event.PermissionRequest)
}

func TestRun_InteractiveToolRoundTrip(t *testing.T) {
	decided := make(chan types.PermissionResult, 1)
	reg := permission.NewRegistry()
	rec := newRecorder()
	h := New(agenttest.New(agenttest.Ask("AskUserQuestion", `{"questions":[]}`, decided, agenttest.Result(true)))).
		Run(Options{Session: session, Registry: reg, Policy: permission.DefaultPolicy(), OnEvent: rec.onEvent})

	ev := rec.next(t)
	require.Equal(t, event.PermissionRequest, ev.Type)
	req := ev.Data.(event.PermissionRequestData)
	assert.Equal(t, "s1", req.SessionID)
	assert.Equal(t, "AskUserQuestion", req.ToolName)
	assert.NotEmpty(t, req.ToolUseID)

	want := types.Allow([]byte(`{"answers":{"q":"yes"}}`))
	require.True(t, reg.Resolve(req.ToolUseID, want))
	wait(t, h)
	assert.Equal(t, want, <-decided)
}

func TestRun_AbortDeniesPendingApproval(t *testing.T) {
	decided := make(chan types.PermissionResult, 1)
	reg := permission.NewRegistry()
	rec := newRecorder()
	h := New(agenttest.New(agenttest.Ask("AskUserQuestion", `{}`, decided, agenttest.Text("never")))).
		Run(Options{Session: session, Registry: reg, Policy: permission.DefaultPolicy(), OnEvent: rec.onEvent})

	require.Equal(t, event.PermissionRequest, rec.next(t).Type)
	h.Abort()
	assert.Zero(t, reg.Len(), "pending approvals are resolved before Abort returns")

	res := <-decided
	assert.Equal(t, types.BehaviorDeny, res.Behavior)
	assert.Equal(t, permission.AbortMessage, res.Message)
	wait(t, h)
	assert.Equal(t, []event.EventType{event.PermissionRequest}, rec.types())
}
