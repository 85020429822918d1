// Package debounce coalesces bursts of per-key activity into a single callback
// that runs once the key has been quiet for a fixed window.
package debounce

import (
	"sync"
	"time"
)

// Timer is a cancellable pending callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer before it fired.
	Stop() bool
}

// Clock schedules callbacks. RealClock uses time.AfterFunc; tests use a
// ManualClock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type entry struct {
	timer Timer
}

// Scheduler runs fn(key) once per burst of Schedule calls for that key. Each
// Schedule re-arms the key's timer; fn runs only after window elapses with no
// further Schedule. Callbacks run on the clock's goroutine.
type Scheduler struct {
	window time.Duration
	clock  Clock
	fn     func(key string)

	mu      sync.Mutex
	pending map[string]*entry
	stopped bool
}

// New creates a scheduler. A nil clock means RealClock.
func New(window time.Duration, clock Clock, fn func(key string)) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{
		window:  window,
		clock:   clock,
		fn:      fn,
		pending: make(map[string]*entry),
	}
}

// Schedule arms, or re-arms, the timer for key.
func (s *Scheduler) Schedule(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if prev, ok := s.pending[key]; ok {
		prev.timer.Stop()
	}

	e := &entry{}
	s.pending[key] = e
	e.timer = s.clock.AfterFunc(s.window, func() { s.fire(key, e) })
}

func (s *Scheduler) fire(key string, e *entry) {
	s.mu.Lock()
	// A timer that lost a race with Stop may still run; only the entry that
	// is currently armed for the key may fire.
	if s.stopped || s.pending[key] != e {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	s.mu.Unlock()

	s.fn(key)
}

// Cancel drops any pending run for key.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.pending[key]; ok {
		e.timer.Stop()
		delete(s.pending, key)
	}
}

// Pending reports whether a run is armed for key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Stop cancels every pending run. Later Schedule calls are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for key, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, key)
	}
}
