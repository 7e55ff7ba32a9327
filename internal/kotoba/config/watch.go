package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Holder is the live configuration. Readers call Load; the watcher swaps in
// validated replacements.
type Holder struct {
	cur atomic.Pointer[snapshot]
}

type snapshot struct {
	cfg  *Config
	hash string
}

// NewHolder returns a Holder serving cfg.
func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.Store(cfg, "")
	return h
}

// Open loads path and returns a Holder serving it.
func Open(path string) (*Holder, error) {
	cfg, hash, err := load(path)
	if err != nil {
		return nil, err
	}
	h := &Holder{}
	h.Store(cfg, hash)
	return h, nil
}

// Load returns the current configuration. Callers must not modify it.
func (h *Holder) Load() *Config { return h.cur.Load().cfg }

// Hash returns the SHA-256 hex digest of the file the current configuration
// was read from, or "" when it did not come from a file.
func (h *Holder) Hash() string { return h.cur.Load().hash }

// Store replaces the configuration.
func (h *Holder) Store(cfg *Config, hash string) {
	h.cur.Store(&snapshot{cfg: cfg, hash: hash})
}

// Reload reads path and swaps the result in. An invalid file leaves the
// current configuration in place and returns the error. changed is false
// when the file content is unchanged.
func (h *Holder) Reload(path string) (prev, next *Config, changed bool, err error) {
	cfg, hash, err := load(path)
	if err != nil {
		return nil, nil, false, err
	}
	old := h.cur.Load()
	if old.hash == hash {
		return old.cfg, old.cfg, false, nil
	}
	h.Store(cfg, hash)
	return old.cfg, cfg, true, nil
}

// debounce collapses the burst of events an editor produces on save.
var debounce = 300 * time.Millisecond

// Watch reloads path into holder whenever the file is written or replaced,
// calling onChange with the previous and new configuration after each
// successful swap. It blocks until ctx is done.
//
// The parent directory is watched rather than the file so that editors that
// save by rename keep being followed.
func Watch(ctx context.Context, path string, holder *Holder, onChange func(prev, next *Config), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	path = filepath.Clean(path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}
	logger.Info("config: watching for changes", "path", path)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config: watcher error", "err", err)

		case <-fire:
			fire = nil
			prev, next, changed, err := holder.Reload(path)
			if err != nil {
				logger.Error("config: reload rejected, keeping previous config", "path", path, "err", err)
				continue
			}
			if !changed {
				continue
			}
			logger.Info("config: reloaded", "path", path, "hash", holder.Hash()[:12])
			if onChange != nil {
				onChange(prev, next)
			}
		}
	}
}
