package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the file.
const DefaultWatchInterval = 2 * time.Second

// Reload describes an accepted configuration change.
type Reload struct {
	Old  *Config
	New  *Config
	Diff ConfigDiff
}

// Watcher polls a config file and hands every valid content change to a
// callback. An edit that fails to parse or validate is reported once and the
// last good config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onReload func(Reload)

	mu       sync.Mutex
	current  *Config
	modTime  time.Time
	size     int64
	accepted [sha256.Size]byte
	rejected [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a watcher holding it as the current
// config. Polling starts with [Watcher.Run].
func NewWatcher(path string, onReload func(Reload), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onReload: onReload,
	}
	for _, opt := range opts {
		opt(w)
	}

	info, data, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.modTime, w.size = info.ModTime(), info.Size()
	w.accepted = sha256.Sum256(data)
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done. Failures are logged and polling continues.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := w.Check(); err != nil {
				slog.Warn("config watcher: keeping previous configuration", "path", w.path, "err", err)
			}
		}
	}
}

// Check inspects the file once and reports whether a new config was
// accepted. A file whose size and mtime are unchanged is not read. Content
// that was already rejected is ignored until it changes again.
func (w *Watcher) Check() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, fmt.Errorf("config: stat %q: %w", w.path, err)
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.modTime) && info.Size() == w.size
	w.mu.Unlock()
	if unchanged {
		return false, nil
	}

	info, data, err := w.read()
	if err != nil {
		return false, err
	}
	hash := sha256.Sum256(data)

	w.mu.Lock()
	w.modTime, w.size = info.ModTime(), info.Size()
	if hash == w.accepted || hash == w.rejected {
		w.mu.Unlock()
		return false, nil
	}
	w.mu.Unlock()

	cfg, err := parse(data)

	w.mu.Lock()
	if err != nil {
		w.rejected = hash
		w.mu.Unlock()
		return false, err
	}
	r := Reload{Old: w.current, New: cfg, Diff: Diff(w.current, cfg)}
	w.current = cfg
	w.accepted = hash
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"hot_reloadable", r.Diff.Any(),
		"restart_required", r.Diff.RestartRequired,
	)

	// Outside the lock so the callback may call Current.
	if w.onReload != nil {
		w.onReload(r)
	}
	return true, nil
}

func (w *Watcher) read() (os.FileInfo, []byte, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, nil, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, nil, err
	}
	return info, data, nil
}
