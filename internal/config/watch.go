package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Iseeumhmm/projectace-demo/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// Watch reloads the configuration whenever its file is written, until ctx
// is cancelled. The parent directory is watched so that editors replacing
// the file by rename are picked up. A reload that fails validation keeps the
// previous configuration.
func (cm *ConfigManager) Watch(ctx context.Context) error {
	path := cm.Path()
	if path == "" {
		return fmt.Errorf("no config path set")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	log := logger.Named("config")
	target := filepath.Clean(path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := cm.Reload(); err != nil {
					log.Warn("config reload rejected", "path", path, "error", err)
					continue
				}
				log.Info("config reloaded", "path", path)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error("config watcher error", "error", err)

			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}
