package config

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/opencode-ai/cowork/internal/debounce"
	"github.com/opencode-ai/cowork/internal/logging"
	"github.com/opencode-ai/cowork/pkg/types"
)

// Live holds the current configuration and is safe for concurrent use.
type Live struct {
	cfg atomic.Pointer[types.Config]
}

// NewLive returns a holder initialised with cfg.
func NewLive(cfg *types.Config) *Live {
	l := &Live{}
	if cfg == nil {
		cfg = &types.Config{}
	}
	l.cfg.Store(cfg)
	return l
}

// reloadWindow coalesces the write bursts editors produce when saving.
const reloadWindow = 100 * time.Millisecond

// Get returns the current configuration. Callers must not modify it.
func (l *Live) Get() *types.Config {
	return l.cfg.Load()
}

// Set replaces the current configuration.
func (l *Live) Set(cfg *types.Config) {
	l.cfg.Store(cfg)
}

// Watcher reloads the configuration when one of its source files changes.
type Watcher struct {
	watcher   *fsnotify.Watcher
	directory string
	live      *Live
	files     map[string]bool
	onChange  func(*types.Config)
	reloads   *debounce.Scheduler

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.Mutex
}

// NewWatcher watches the directories holding the config sources of
// directory. Directories that do not exist are skipped.
func NewWatcher(directory string, live *Live, onChange func(*types.Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	files := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, p := range append(Sources(directory), ClaudeSettingsPath(), filepath.Join(directory, ".env")) {
		files[filepath.Clean(p)] = true
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		// Watch the directory so editors that replace files are noticed.
		if err := w.Add(dir); err != nil {
			logging.Debug().Err(err).Str("dir", dir).Msg("not watching config directory")
		}
	}

	cw := &Watcher{
		watcher:   w,
		directory: directory,
		live:      live,
		files:     files,
		onChange:  onChange,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	cw.reloads = debounce.New(reloadWindow, debounce.RealClock{}, func(string) { cw.Reload() })
	return cw, nil
}

// Start begins watching.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

// directoryKey is the single debounce key; every source reloads the whole config.
const directoryKey = "config"

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if w.files[filepath.Clean(ev.Name)] {
				w.reloads.Schedule(directoryKey)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error().Err(err).Msg("config watcher error")
		}
	}
}

// Reload loads the configuration again and publishes it.
func (w *Watcher) Reload() {
	cfg, err := Load(w.directory)
	if err != nil {
		logging.Warn().Err(err).Msg("config reload failed")
		return
	}
	w.live.Set(cfg)
	logging.Info().Bool("hasAPI", cfg.HasAPI()).Msg("configuration reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	if started {
		<-w.doneCh
	}
	w.reloads.Stop()
	return w.watcher.Close()
}
