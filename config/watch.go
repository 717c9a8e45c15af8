package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchArtifacts calls onChange whenever one of paths is written, replaced
// or removed. Parent directories are watched so atomic renames are seen.
// The watcher stops when ctx is done.
func WatchArtifacts(ctx context.Context, paths []string, log *zap.Logger, onChange func(path string)) error {
	if log == nil {
		log = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	targets := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			watcher.Close()
			return fmt.Errorf("resolve %s: %w", path, err)
		}
		targets[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
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
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
					!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				name, err := filepath.Abs(event.Name)
				if err != nil || !targets[name] {
					continue
				}
				onChange(name)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("artifact watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
