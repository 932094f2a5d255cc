package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the configuration file when it changes on disk.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
}

// NewWatcher watches the directory containing path, so that editors which
// replace the file by rename are also seen.
func NewWatcher(path string, logger zerolog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch dir %q: %w", dir, err)
	}
	return &Watcher{
		path:    filepath.Clean(path),
		watcher: w,
		logger:  logger.With().Str("component", "config-watcher").Str("file", path).Logger(),
	}, nil
}

// Run blocks until ctx is done. Each valid reload is passed to onChange;
// files that fail to load or validate are logged and skipped.
func (w *Watcher) Run(ctx context.Context, onChange func(*Config)) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			cfg, err := LoadFrom(w.path)
			if err == nil {
				err = cfg.Validate()
			}
			if err != nil {
				w.logger.Warn().Err(err).Msg("Ignoring invalid configuration change")
				continue
			}
			w.logger.Info().Msg("Configuration reloaded")
			onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
