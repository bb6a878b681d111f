package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file when it changes and hands valid new configs
// to a callback. It watches the file's directory with fsnotify so editors
// that replace the file are seen too, and falls back to mtime polling when
// fsnotify is unavailable.
type Watcher struct {
	path     string
	interval time.Duration
	debounce time.Duration
	onChange func(old, new *Config)

	mu       sync.Mutex
	current  *Config
	lastHash [sha256.Size]byte
	lastMod  time.Time

	polling  bool
	fs       *fsnotify.Watcher
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval used without fsnotify. Default 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithDebounce sets how long to wait after a file event before reloading,
// so a burst of writes causes one reload. Default 100ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithPolling disables fsnotify.
func WithPolling() WatcherOption {
	return func(w *Watcher) { w.polling = true }
}

// NewWatcher loads path and starts watching it. An invalid initial file is
// an error; later invalid edits are logged and ignored.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		debounce: 100 * time.Millisecond,
		onChange: onChange,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	cfg, hash, mod, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.lastHash, w.lastMod = cfg, hash, mod

	if !w.polling {
		w.fs = openNotify(path)
	}
	if w.fs == nil {
		go w.poll()
	} else {
		go w.watch()
	}
	return w, nil
}

// openNotify watches the directory of path, or returns nil when fsnotify
// cannot be used.
func openNotify(path string) *fsnotify.Watcher {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config watcher: fsnotify unavailable, polling instead", "err", err)
		return nil
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		slog.Warn("config watcher: cannot watch directory, polling instead", "path", path, "err", err)
		fsw.Close()
		return nil
	}
	return fsw
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends watching and waits for the background goroutine.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		<-w.stopped
	})
}

func (w *Watcher) watch() {
	defer close(w.stopped)
	defer w.fs.Close()

	target := filepath.Clean(w.path)
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher: fsnotify error", "err", err)
		case <-fire:
			fire = nil
			w.check(true)
		}
	}
}

func (w *Watcher) poll() {
	defer close(w.stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check(false)
		}
	}
}

// check reloads the file when its content hash differs. Polling first
// compares mtimes to avoid rereading an untouched file.
func (w *Watcher) check(force bool) {
	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
			return
		}
		w.mu.Lock()
		same := info.ModTime().Equal(w.lastMod)
		w.mu.Unlock()
		if same {
			return
		}
	}

	cfg, hash, mod, err := w.load()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	w.lastMod = mod
	if hash == w.lastHash {
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current, w.lastHash = cfg, hash
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

func (w *Watcher) load() (*Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
