package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/cowork/pkg/types"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func mustMessage(t *testing.T, raw string) types.StreamMessage {
	t.Helper()
	msg, err := types.ParseStreamMessage([]byte(raw))
	require.NoError(t, err)
	return msg
}

func TestStore_CreateAndGet(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, CreateParams{Title: "t", Cwd: "/w", Prompt: "hi", AllowedTools: "Read"})
	require.NoError(t, err)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, types.StatusIdle, sess.Status)
	assert.Equal(t, "hi", sess.LastPrompt)
	assert.Equal(t, sess.CreatedAt, sess.UpdatedAt)

	got, ok := s.GetSession(sess.ID)
	require.True(t, ok)
	assert.Equal(t, sess, got)

	_, ok = s.GetSession("missing")
	assert.False(t, ok)
}

func TestStore_CreateSession_CanceledLeavesNothing(t *testing.T) {
	s, _ := openTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.CreateSession(ctx, CreateParams{Title: "t", Cwd: "/w"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.ListSessions())
	assert.Empty(t, s.ListRecentCwds(0))
}

// rejectInserts makes SQLite refuse inserts into table that match when.
func rejectInserts(t *testing.T, s *Store, table, when string) {
	t.Helper()
	_, err := s.db.Exec(fmt.Sprintf(
		`CREATE TRIGGER reject_%s BEFORE INSERT ON %s WHEN %s BEGIN SELECT RAISE(ABORT, 'rejected'); END`,
		table, table, when))
	require.NoError(t, err)
}

func TestStore_CreateSession_FailedInsertIsRolledBack(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()
	rejectInserts(t, s, "sessions", "NEW.title = 'doomed'")

	_, err := s.CreateSession(ctx, CreateParams{Title: "doomed", Cwd: "/doomed"})
	require.Error(t, err)
	assert.Empty(t, s.ListSessions())
	assert.Empty(t, s.ListRecentCwds(0))

	kept, err := s.CreateSession(ctx, CreateParams{Title: "kept"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	list := reopened.ListSessions()
	require.Len(t, list, 1)
	assert.Equal(t, kept.ID, list[0].ID)
}

func TestStore_UpdateSession(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, CreateParams{Title: "t"})
	require.NoError(t, err)

	updated, err := s.UpdateSession(ctx, sess.ID, types.SessionUpdate{
		Status:   types.Ptr(types.StatusRunning),
		ResumeID: types.Ptr("claude-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, updated.Status)
	assert.Equal(t, "claude-1", updated.ResumeID)
	assert.Equal(t, "t", updated.Title)
	assert.Greater(t, updated.UpdatedAt, sess.UpdatedAt)

	_, err = s.UpdateSession(ctx, "missing", types.SessionUpdate{Title: types.Ptr("x")})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_ListSessionsByRecency(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	a, _ := s.CreateSession(ctx, CreateParams{Title: "a"})
	b, _ := s.CreateSession(ctx, CreateParams{Title: "b"})
	c, _ := s.CreateSession(ctx, CreateParams{Title: "c"})

	_, err := s.UpdateSession(ctx, a.ID, types.SessionUpdate{Title: types.Ptr("a2")})
	require.NoError(t, err)

	list := s.ListSessions()
	require.Len(t, list, 3)
	assert.Equal(t, []string{a.ID, c.ID, b.ID}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestStore_RecordMessageAndHistory(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	sess, _ := s.CreateSession(ctx, CreateParams{Title: "t"})

	require.NoError(t, s.RecordMessage(sess.ID, types.NewUserPrompt("hello")))
	require.NoError(t, s.RecordMessage(sess.ID, mustMessage(t, `{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}`)))
	require.NoError(t, s.RecordMessage(sess.ID, mustMessage(t, `{"type":"result","subtype":"success"}`)))

	h, ok := s.GetSessionHistory(sess.ID)
	require.True(t, ok)
	require.Len(t, h.Messages, 3)
	assert.Equal(t, types.MessageUserPrompt, h.Messages[0].Type)
	assert.Equal(t, types.MessageAssistant, h.Messages[1].Type)
	assert.Equal(t, types.MessageResult, h.Messages[2].Type)
	for _, m := range h.Messages {
		assert.NotZero(t, m.Timestamp)
	}

	assert.ErrorIs(t, s.RecordMessage("missing", types.NewUserPrompt("x")), ErrNotFound)

	_, ok = s.GetSessionHistory("missing")
	assert.False(t, ok)
}

func TestStore_HistoryIsACopy(t *testing.T) {
	s, _ := openTemp(t)
	sess, _ := s.CreateSession(context.Background(), CreateParams{Title: "t"})
	require.NoError(t, s.RecordMessage(sess.ID, types.NewUserPrompt("one")))

	h, _ := s.GetSessionHistory(sess.ID)
	h.Messages[0] = types.NewUserPrompt("mutated")

	again, _ := s.GetSessionHistory(sess.ID)
	assert.Equal(t, "one", again.Messages[0].Prompt())
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	sess, _ := s.CreateSession(ctx, CreateParams{Title: "t"})
	require.NoError(t, s.RecordMessage(sess.ID, types.NewUserPrompt("x")))

	require.NoError(t, s.DeleteSession(ctx, sess.ID))
	require.NoError(t, s.DeleteSession(ctx, sess.ID))
	require.NoError(t, s.DeleteSession(ctx, "never-existed"))

	_, ok := s.GetSession(sess.ID)
	assert.False(t, ok)
	assert.Empty(t, s.ListSessions())
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)

	kept, _ := s.CreateSession(ctx, CreateParams{Title: "kept", Cwd: "/w"})
	gone, _ := s.CreateSession(ctx, CreateParams{Title: "gone"})
	_, err = s.UpdateSession(ctx, kept.ID, types.SessionUpdate{
		Status:   types.Ptr(types.StatusRunning),
		ResumeID: types.Ptr("claude-9"),
	})
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		require.NoError(t, s.RecordMessage(kept.ID, types.NewUserPrompt(fmt.Sprintf("p%d", i))))
	}
	require.NoError(t, s.DeleteSession(ctx, gone.ID))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	list := s2.ListSessions()
	require.Len(t, list, 1)
	assert.Equal(t, kept.ID, list[0].ID)
	assert.Equal(t, "claude-9", list[0].ResumeID)
	assert.Equal(t, types.StatusIdle, list[0].Status, "running sessions are reset on open")

	h, ok := s2.GetSessionHistory(kept.ID)
	require.True(t, ok)
	require.Len(t, h.Messages, 50)
	for i, m := range h.Messages {
		assert.Equal(t, fmt.Sprintf("p%d", i), m.Prompt())
	}

	// Appends after a lazy load continue the sequence.
	require.NoError(t, s2.RecordMessage(kept.ID, types.NewUserPrompt("p50")))
	require.NoError(t, s2.Flush(ctx))
	h, _ = s2.GetSessionHistory(kept.ID)
	assert.Len(t, h.Messages, 51)
}

func TestStore_Lock(t *testing.T) {
	_, path := openTemp(t)

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestStore_ListRecentCwds(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	s.CreateSession(ctx, CreateParams{Title: "1", Cwd: "/a"})
	s.CreateSession(ctx, CreateParams{Title: "2", Cwd: "/b"})
	s.CreateSession(ctx, CreateParams{Title: "3", Cwd: "/a"})
	s.CreateSession(ctx, CreateParams{Title: "4"})
	s.CreateSession(ctx, CreateParams{Title: "5", Cwd: "/c"})

	assert.Equal(t, []string{"/c", "/a", "/b"}, s.ListRecentCwds(10))
	assert.Equal(t, []string{"/c", "/a"}, s.ListRecentCwds(2))
}

func TestStore_MemoryPath(t *testing.T) {
	s, err := Open(MemoryPath)
	require.NoError(t, err)
	defer s.Close()

	sess, err := s.CreateSession(context.Background(), CreateParams{Title: "mem"})
	require.NoError(t, err)
	require.NoError(t, s.RecordMessage(sess.ID, types.NewUserPrompt("x")))
	require.NoError(t, s.Flush(context.Background()))
}

func TestStore_ConcurrentRecord(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	ids := make([]string, 4)
	for i := range ids {
		sess, err := s.CreateSession(ctx, CreateParams{Title: fmt.Sprint(i)})
		require.NoError(t, err)
		ids[i] = sess.ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s.RecordMessage(id, types.NewUserPrompt(fmt.Sprint(j)))
			}
		}(id)
	}
	wg.Wait()
	require.NoError(t, s.Flush(ctx))

	for _, id := range ids {
		h, ok := s.GetSessionHistory(id)
		require.True(t, ok)
		require.Len(t, h.Messages, 200)
		assert.Equal(t, "199", h.Messages[199].Prompt())
	}
}

// writeErrors collects reports from Store.OnWriteError.
type writeErrors struct {
	mu  sync.Mutex
	ids []string
}

func (w *writeErrors) record(id string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ids = append(w.ids, id)
}

func (w *writeErrors) list() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.ids...)
}

func TestStore_WriteErrorReachesHandler(t *testing.T) {
	s, _ := openTemp(t)
	sess, err := s.CreateSession(context.Background(), CreateParams{Title: "t"})
	require.NoError(t, err)

	var reported writeErrors
	s.OnWriteError(reported.record)
	require.NoError(t, s.db.Close())

	// The append itself succeeds; the failure arrives from the writer.
	require.NoError(t, s.RecordMessage(sess.ID, types.NewUserPrompt("lost")))
	assert.Eventually(t, func() bool {
		return slices.Contains(reported.list(), sess.ID)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStore_FailedWriteKeepsOtherSessions(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	good, err := s.CreateSession(ctx, CreateParams{Title: "good"})
	require.NoError(t, err)
	bad, err := s.CreateSession(ctx, CreateParams{Title: "bad"})
	require.NoError(t, err)
	rejectInserts(t, s, "messages", fmt.Sprintf("NEW.session_id = '%s'", bad.ID))

	t.Run("commit", func(t *testing.T) {
		errs := s.w.commit([]op{
			{kind: opMessage, sessionID: good.ID, seq: 100, message: types.NewUserPrompt("a")},
			{kind: opMessage, sessionID: bad.ID, seq: 100, message: types.NewUserPrompt("b")},
			{kind: opMessage, sessionID: good.ID, seq: 101, message: types.NewUserPrompt("c")},
		})
		require.Len(t, errs, 3)
		assert.NoError(t, errs[0])
		assert.Error(t, errs[1])
		assert.NoError(t, errs[2])
	})

	t.Run("queued", func(t *testing.T) {
		var reported writeErrors
		s.OnWriteError(reported.record)

		require.NoError(t, s.RecordMessage(good.ID, types.NewUserPrompt("1")))
		require.NoError(t, s.RecordMessage(bad.ID, types.NewUserPrompt("2")))
		require.NoError(t, s.RecordMessage(good.ID, types.NewUserPrompt("3")))
		require.NoError(t, s.Flush(ctx))

		assert.Equal(t, []string{bad.ID}, reported.list())
	})

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, good.ID).Scan(&n))
	assert.Equal(t, 4, n)
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, bad.ID).Scan(&n))
	assert.Zero(t, n)
}
