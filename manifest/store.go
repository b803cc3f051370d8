package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Store holds the current Manifest and lets it be replaced while readers
// keep using it.
type Store struct {
	cur atomic.Pointer[Manifest]
}

var _ Provider = (*Store)(nil)

// NewStore returns a Store holding m, which may be nil.
func NewStore(m *Manifest) *Store {
	s := &Store{}
	if m != nil {
		s.cur.Store(m)
	}
	return s
}

// Current returns the stored manifest, or nil if none has been set.
func (s *Store) Current() *Manifest {
	return s.cur.Load()
}

// Set replaces the stored manifest.
func (s *Store) Set(m *Manifest) {
	s.cur.Store(m)
}

// Paths implements Provider. An empty store knows no modules.
func (s *Store) Paths(module string) ([]string, bool) {
	m := s.cur.Load()
	if m == nil {
		return nil, false
	}
	return m.Paths(module)
}

// Modules implements Provider.
func (s *Store) Modules() []string {
	m := s.cur.Load()
	if m == nil {
		return nil
	}
	return m.Modules()
}

const defaultDebounce = 10 * time.Millisecond

// WatchOption configures Watch.
type WatchOption func(*watchConfig)

type watchConfig struct {
	logger   *slog.Logger
	debounce time.Duration
	onReload func(*Manifest, error)
}

// WithLogger sets the logger for reload events.
func WithLogger(logger *slog.Logger) WatchOption {
	return func(c *watchConfig) {
		c.logger = logger
	}
}

// WithDebounce sets how long Watch waits for a burst of file events to
// settle before re-reading the manifest.
func WithDebounce(d time.Duration) WatchOption {
	return func(c *watchConfig) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// WithReloadHook registers fn to run after every reload attempt with the
// new manifest or the parse error.
func WithReloadHook(fn func(*Manifest, error)) WatchOption {
	return func(c *watchConfig) {
		c.onReload = fn
	}
}

// Watch reloads the manifest at path into s whenever the file changes,
// until ctx is done. A manifest that fails to parse is logged and the
// previous one is kept.
//
// The containing directory is watched so editors that replace the file by
// renaming are followed.
func Watch(ctx context.Context, path string, s *Store, opts ...WatchOption) error {
	cfg := watchConfig{debounce: defaultDebounce}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	log := cfg.logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("manifest: watch %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("manifest: create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("manifest: watch %s: %w", path, err)
	}

	timer := time.NewTimer(cfg.debounce)
	timer.Stop()
	defer timer.Stop()

	reload := func() {
		m, err := Load(abs)
		if err != nil {
			log.Error("manifest reload failed", "path", abs, "error", err)
		} else {
			s.Set(m)
			log.Info("manifest reloaded", "path", abs, "count", m.Len())
		}
		if cfg.onReload != nil {
			cfg.onReload(m, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug("manifest changed", "path", abs, "op", ev.Op.String())
			timer.Reset(cfg.debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("manifest watcher error", "path", abs, "error", err)
		case <-timer.C:
			reload()
		}
	}
}
