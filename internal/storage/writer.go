package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mattn/go-sqlite3"

	"github.com/opencode-ai/cowork/internal/logging"
	"github.com/opencode-ai/cowork/pkg/types"
)

type opKind int

const (
	opUpsert opKind = iota
	opMessage
	opDelete
	opBarrier
)

// op is one queued write. done, when set, receives the result of the op.
type op struct {
	kind      opKind
	session   types.Session
	sessionID string
	seq       int
	message   types.StreamMessage
	done      chan error
}

// target is the session the op writes to, or "" for barriers.
func (o op) target() string {
	if o.kind == opUpsert {
		return o.session.ID
	}
	return o.sessionID
}

// writer drains an unbounded FIFO of ops into SQLite, one transaction per
// batch. Enqueue never blocks on disk.
type writer struct {
	db *sql.DB

	mu      sync.Mutex
	queue   []op
	onError func(sessionID string, err error)
	wake    chan struct{}
	quit    chan struct{}
	stopped chan struct{}
}

func newWriter(db *sql.DB) *writer {
	return &writer{
		db:      db,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (w *writer) enqueue(o op, wait bool) <-chan error {
	if wait {
		o.done = make(chan error, 1)
	}
	w.mu.Lock()
	w.queue = append(w.queue, o)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return o.done
}

func (w *writer) run() {
	defer close(w.stopped)
	for {
		select {
		case <-w.wake:
			w.drain()
		case <-w.quit:
			w.drain()
			return
		}
	}
}

func (w *writer) setErrorHandler(fn func(sessionID string, err error)) {
	w.mu.Lock()
	w.onError = fn
	w.mu.Unlock()
}

func (w *writer) drain() {
	for {
		w.mu.Lock()
		batch := w.queue
		w.queue = nil
		onError := w.onError
		w.mu.Unlock()

		if len(batch) == 0 {
			return
		}

		errs := w.commit(batch)
		for i, o := range batch {
			err := errs[i]
			if o.done != nil {
				o.done <- err
				continue
			}
			if err == nil {
				continue
			}
			logging.Error().Err(err).Str("sessionID", o.target()).Msg("Failed to persist session store write")
			if onError != nil && o.target() != "" {
				onError(o.target(), err)
			}
		}
	}
}

// commit writes batch in one transaction and returns the outcome of each op.
// When the transaction fails, the ops are retried one at a time in order, so
// a write that cannot be applied costs only its own session.
func (w *writer) commit(batch []op) []error {
	errs := make([]error, len(batch))
	err := w.writeWithRetry(batch)
	if err == nil || len(batch) == 1 {
		for i := range errs {
			errs[i] = err
		}
		return errs
	}

	logging.Warn().Err(err).Int("ops", len(batch)).Msg("Session store batch failed, retrying writes one by one")
	for i, o := range batch {
		errs[i] = w.writeWithRetry([]op{o})
	}
	return errs
}

func (w *writer) writeWithRetry(batch []op) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second

	return backoff.Retry(func() error {
		err := w.write(batch)
		if err != nil && !isBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func (w *writer) write(batch []op) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, o := range batch {
		if err := apply(tx, o); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func apply(tx *sql.Tx, o op) error {
	switch o.kind {
	case opUpsert:
		s := o.session
		_, err := tx.Exec(`
			INSERT INTO sessions (id, title, status, cwd, claude_session_id, allowed_tools, last_prompt, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				status = excluded.status,
				cwd = excluded.cwd,
				claude_session_id = excluded.claude_session_id,
				allowed_tools = excluded.allowed_tools,
				last_prompt = excluded.last_prompt,
				updated_at = excluded.updated_at
		`, s.ID, s.Title, string(s.Status), s.Cwd, s.ResumeID, s.AllowedTools, s.LastPrompt, s.CreatedAt, s.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert session %s: %w", s.ID, err)
		}
	case opMessage:
		_, err := tx.Exec(`INSERT OR REPLACE INTO messages (session_id, seq, type, raw, created_at) VALUES (?, ?, ?, ?, ?)`,
			o.sessionID, o.seq, o.message.Type, []byte(o.message.Raw), o.message.Timestamp)
		if err != nil {
			return fmt.Errorf("insert message %s/%d: %w", o.sessionID, o.seq, err)
		}
	case opDelete:
		if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, o.sessionID); err != nil {
			return fmt.Errorf("delete messages %s: %w", o.sessionID, err)
		}
		if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, o.sessionID); err != nil {
			return fmt.Errorf("delete session %s: %w", o.sessionID, err)
		}
	case opBarrier:
	}
	return nil
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

func (w *writer) stop() {
	select {
	case <-w.quit:
	default:
		close(w.quit)
	}
	<-w.stopped
}
