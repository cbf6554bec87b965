package config

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/mcpambassador/server/pkg/logging"
)

// WatchLogLevel watches the config file and applies log-level changes at
// runtime. Other fields require a restart; the watcher deliberately ignores
// them. Returns immediately if path is empty.
func WatchLogLevel(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					logging.Warn("Config", "Ignoring config reload, file invalid: %v", err)
					continue
				}
				logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
				logging.Info("Config", "Applied log level %s from %s", cfg.LogLevel, path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("Config", "Config watcher error: %v", err)
			}
		}
	}()

	return nil
}
