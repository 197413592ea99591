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

// Watcher monitors a config file and calls a callback when its content
// changes to another valid config. It watches the file's directory with
// fsnotify, so editors that replace the file by rename are seen, and falls
// back to polling when fsnotify is unavailable.
type Watcher struct {
	path     string
	interval time.Duration
	debounce time.Duration
	polling  bool
	onChange func(old, new *Config)

	fs *fsnotify.Watcher

	mu       sync.Mutex
	current  *Config
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// last known file state for change detection
	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval used when fsnotify is unavailable
// or [WithPolling] is set. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithDebounce sets how long the file must stay quiet after a change event
// before it is reloaded. The default is 250ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithPolling disables fsnotify. Useful on network filesystems.
func WithPolling() WatcherOption {
	return func(w *Watcher) { w.polling = true }
}

// NewWatcher creates a config file watcher. It loads the initial config
// immediately and starts watching in a background goroutine.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher: %w", err)
	}
	w := &Watcher{
		path:     abs,
		interval: 5 * time.Second,
		debounce: 250 * time.Millisecond,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, mtime, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = mtime

	if !w.polling {
		if err := w.startNotify(); err != nil {
			slog.Warn("config watcher: fsnotify unavailable, polling instead", "path", w.path, "err", err)
			w.polling = true
		}
	}

	w.wg.Add(1)
	if w.polling {
		go w.poll()
	} else {
		go w.notifyLoop()
	}
	return w, nil
}

func (w *Watcher) startNotify() error {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory containing the config file.
	if err := fs.Add(filepath.Dir(w.path)); err != nil {
		fs.Close()
		return err
	}
	w.fs = fs
	return nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Polling reports whether the watcher fell back to polling.
func (w *Watcher) Polling() bool { return w.polling }

// Stop stops the watcher and waits for its goroutine. No callback runs after
// Stop returns.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		if w.fs != nil {
			w.fs.Close()
		}
	})
}

func (w *Watcher) notifyLoop() {
	defer w.wg.Done()

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(w.debounce)

		case <-debounce.C:
			w.check(false)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher: fsnotify error", "path", w.path, "err", err)
		}
	}
}

func (w *Watcher) poll() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check(true)
		}
	}
}

// check reads the config file and, if its content changed and is valid,
// calls onChange and updates the current config. With useMtime an unchanged
// modification time skips the read.
func (w *Watcher) check(useMtime bool) {
	if useMtime {
		info, err := os.Stat(w.path)
		if err != nil {
			slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
			return
		}
		w.mu.Lock()
		mtime := w.lastMtime
		w.mu.Unlock()
		if info.ModTime().Equal(mtime) {
			return
		}
	}

	cfg, hash, newMtime, err := w.loadAndHash()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		// Touched, same content.
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)

	// Outside the lock so the callback can call Current.
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// loadAndHash reads, parses and validates the config file and returns it with
// the content's SHA-256 and the modification time.
func (w *Watcher) loadAndHash() (*Config, [sha256.Size]byte, time.Time, error) {
	var zeroHash [sha256.Size]byte

	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}
	hash := sha256.Sum256(data)

	cfg, err := Decode(bytes.NewReader(data), FormatFor(w.path))
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}
	return cfg, hash, info.ModTime(), nil
}
