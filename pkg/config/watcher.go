package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reloads a configuration file whenever it is written or replaced
// and hands the new configuration to a callback. A file that fails to load
// is logged and the previous configuration stays in effect.
type Watcher struct {
	path     string
	log      logrus.FieldLogger
	onChange func(*Config)
	watcher  *fsnotify.Watcher
}

// NewWatcher watches the directory holding path so that editors which
// replace the file by rename are still observed.
func NewWatcher(path string, log logrus.FieldLogger, onChange func(*Config)) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}
	if log == nil {
		log = logrus.New()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	return &Watcher{
		path:     filepath.Clean(path),
		log:      log.WithField("config_file", path),
		onChange: onChange,
		watcher:  fsw,
	}, nil
}

// Run blocks processing file events until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("Config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.WithError(err).Error("Failed to reload configuration, keeping previous")
		return
	}
	w.log.Info("Configuration reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
