package storage

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"
)

// ErrLocked is returned when another process already holds the store.
var ErrLocked = errors.New("store is locked by another process")

// FileLock is an advisory flock held on <path>.lock for the lifetime of a Store.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates a lock for the given database path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path + ".lock"}
}

// TryLock acquires the lock without blocking. The holder's pid is written
// into the lock file so a conflicting process can report who owns it.
func (l *FileLock) TryLock() error {
	if l.file != nil {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		owner, _ := os.ReadFile(l.path)
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			if len(owner) > 0 {
				return fmt.Errorf("%w (pid %s)", ErrLocked, owner)
			}
			return ErrLocked
		}
		return fmt.Errorf("flock: %w", err)
	}

	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)
	l.file = f
	return nil
}

// Unlock releases the lock and removes the lock file.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}

	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
	os.Remove(l.path)

	l.file = nil
	return nil
}
