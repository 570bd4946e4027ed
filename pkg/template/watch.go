package template

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceDelay = 200 * time.Millisecond

// Watch reloads the registry whenever the custom template file changes,
// until ctx is cancelled. The parent directory is watched so that atomic
// replacements of the file are seen.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		return errors.New("no custom template file configured")
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}

	go r.watchLoop(ctx, watcher)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	target := filepath.Clean(r.path)
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) &&
				!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				if err := r.Reload(); err != nil {
					r.logger.Warn("reload templates, keeping current set", zap.Error(err))
					return
				}
				r.logger.Info("templates reloaded", zap.String("path", r.path))
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("template watcher error", zap.Error(err))
		}
	}
}
