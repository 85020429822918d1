// Package storage is the persisted session store: session rows and per-session
// message logs in SQLite, fronted by an in-memory cache so the router never
// waits on disk while a turn is streaming.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/cowork/pkg/types"
)

// ErrNotFound is returned for operations on a session that does not exist.
var ErrNotFound = errors.New("not found")

// MemoryPath opens a private in-memory database with no lock file.
const MemoryPath = ":memory:"

// CreateParams are the fields supplied when a session is started.
type CreateParams struct {
	Title        string
	Cwd          string
	Prompt       string
	AllowedTools string
}

// History is a session together with its ordered messages.
type History struct {
	Session  types.Session
	Messages []types.StreamMessage
}

// Store is the session store. All reads are served from memory; writes are
// applied to memory immediately and persisted in order by a background writer.
type Store struct {
	db   *sql.DB
	path string
	lock *FileLock
	w    *writer

	closeOnce sync.Once
	closeErr  error

	mu       sync.RWMutex
	sessions map[string]*types.Session
	history  map[string][]types.StreamMessage
	lastTime int64
}

// Open opens (creating if needed) the store at path and takes the process lock.
// Sessions left running by a previous process are reset to idle, since no
// runner survives a restart.
func Open(path string) (*Store, error) {
	var lock *FileLock
	dsn := "file::memory:?cache=private"
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		lock = NewFileLock(path)
		if err := lock.TryLock(); err != nil {
			return nil, err
		}
		dsn = path + "?_journal=WAL&_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		if lock != nil {
			lock.Unlock()
		}
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serializes the writer with lazy history loads and keeps
	// an in-memory database alive.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:       db,
		path:     path,
		lock:     lock,
		sessions: make(map[string]*types.Session),
		history:  make(map[string][]types.StreamMessage),
	}
	if err := s.migrate(); err != nil {
		s.closeDB()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.load(); err != nil {
		s.closeDB()
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	s.w = newWriter(db)
	go s.w.run()
	return s, nil
}

func (s *Store) load() error {
	if _, err := s.db.Exec(`UPDATE sessions SET status = ? WHERE status = ?`,
		types.StatusIdle, types.StatusRunning); err != nil {
		return err
	}

	rows, err := s.db.Query(`
		SELECT id, title, status, cwd, claude_session_id, allowed_tools, last_prompt, created_at, updated_at
		FROM sessions`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var sess types.Session
		var status string
		if err := rows.Scan(&sess.ID, &sess.Title, &status, &sess.Cwd, &sess.ResumeID,
			&sess.AllowedTools, &sess.LastPrompt, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return err
		}
		sess.Status = types.SessionStatus(status)
		s.sessions[sess.ID] = &sess
		if sess.UpdatedAt > s.lastTime {
			s.lastTime = sess.UpdatedAt
		}
	}
	return rows.Err()
}

// now returns a strictly increasing millisecond timestamp so recency ordering
// is total even for mutations within the same millisecond.
func (s *Store) now() int64 {
	t := time.Now().UnixMilli()
	if t <= s.lastTime {
		t = s.lastTime + 1
	}
	s.lastTime = t
	return t
}

// CreateSession allocates an id and persists a new idle session. It either
// returns the session or leaves no trace of it: ctx is only checked before the
// insert is queued, and a failed insert is rolled back from memory.
func (s *Store) CreateSession(ctx context.Context, p CreateParams) (types.Session, error) {
	if err := ctx.Err(); err != nil {
		return types.Session{}, err
	}

	s.mu.Lock()
	now := s.now()
	sess := &types.Session{
		ID:           ulid.Make().String(),
		Title:        p.Title,
		Status:       types.StatusIdle,
		Cwd:          p.Cwd,
		AllowedTools: p.AllowedTools,
		LastPrompt:   p.Prompt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.sessions[sess.ID] = sess
	s.history[sess.ID] = nil
	snapshot := *sess
	done := s.w.enqueue(op{kind: opUpsert, session: snapshot}, true)
	s.mu.Unlock()

	if err := <-done; err != nil {
		s.mu.Lock()
		delete(s.sessions, sess.ID)
		delete(s.history, sess.ID)
		s.w.enqueue(op{kind: opDelete, sessionID: sess.ID}, false)
		s.mu.Unlock()
		return types.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return snapshot, nil
}

// UpdateSession merges upd into the session and bumps updatedAt.
func (s *Store) UpdateSession(ctx context.Context, id string, upd types.SessionUpdate) (types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return types.Session{}, ErrNotFound
	}
	upd.Apply(sess)
	sess.UpdatedAt = s.now()
	s.w.enqueue(op{kind: opUpsert, session: *sess}, false)
	return *sess, nil
}

// GetSession returns a copy of the session.
func (s *Store) GetSession(id string) (types.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return types.Session{}, false
	}
	return *sess, true
}

// ListSessions returns all sessions, most recently updated first.
func (s *Store) ListSessions() []types.Session {
	s.mu.RLock()
	out := make([]types.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// RecordMessage appends msg to the session's history. The write is queued;
// ordering with respect to other writes is preserved.
func (s *Store) RecordMessage(id string, msg types.StreamMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	msgs, err := s.historyLocked(id)
	if err != nil {
		return err
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	seq := len(msgs)
	s.history[id] = append(msgs, msg)
	s.w.enqueue(op{kind: opMessage, sessionID: id, seq: seq, message: msg}, false)
	return nil
}

// GetSessionHistory returns the session and a copy of its messages.
func (s *Store) GetSessionHistory(id string) (History, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return History{}, false
	}
	msgs, err := s.historyLocked(id)
	if err != nil {
		return History{}, false
	}
	return History{Session: *sess, Messages: slices.Clone(msgs)}, true
}

// historyLocked returns the cached history, loading it from disk on first use.
// Callers hold s.mu.
func (s *Store) historyLocked(id string) ([]types.StreamMessage, error) {
	if msgs, ok := s.history[id]; ok {
		return msgs, nil
	}

	rows, err := s.db.Query(`SELECT raw, created_at FROM messages WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var msgs []types.StreamMessage
	for rows.Next() {
		var raw []byte
		var ts int64
		if err := rows.Scan(&raw, &ts); err != nil {
			return nil, err
		}
		msg, err := types.ParseStreamMessage(raw)
		if err != nil {
			continue
		}
		msg.Timestamp = ts
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.history[id] = msgs
	return msgs, nil
}

// DeleteSession removes the session and its history. Deleting an unknown id
// is not an error.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	delete(s.history, id)
	s.w.enqueue(op{kind: opDelete, sessionID: id}, false)
	return nil
}

// ListRecentCwds returns distinct working directories, most recent first.
func (s *Store) ListRecentCwds(limit int) []string {
	if limit <= 0 {
		limit = 8
	}
	seen := make(map[string]bool)
	var out []string
	for _, sess := range s.ListSessions() {
		if sess.Cwd == "" || seen[sess.Cwd] {
			continue
		}
		seen[sess.Cwd] = true
		out = append(out, sess.Cwd)
		if len(out) == limit {
			break
		}
	}
	return out
}

// OnWriteError registers fn to hear about queued writes that could not be
// persisted, such as messages from RecordMessage. Writes whose caller waits
// for the outcome report to that caller instead. fn runs on the writer
// goroutine and must not wait on the store.
func (s *Store) OnWriteError(fn func(sessionID string, err error)) {
	s.w.setErrorHandler(fn)
}

// Flush blocks until every write queued before the call is on disk.
func (s *Store) Flush(ctx context.Context) error {
	done := s.w.enqueue(op{kind: opBarrier}, true)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending writes, closes the database and releases the lock.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		flushErr := s.Flush(ctx)
		s.w.stop()
		s.closeErr = errors.Join(flushErr, s.closeDB())
	})
	return s.closeErr
}

func (s *Store) closeDB() error {
	err := s.db.Close()
	if s.lock != nil {
		s.lock.Unlock()
	}
	return err
}
