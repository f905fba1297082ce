package transit

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchTargets reloads the targets file into f whenever it changes. It
// blocks until ctx is cancelled. The parent directory is watched rather
// than the file, so editors that save by rename are picked up. A file
// that fails to parse or validate is logged and the previous targets
// stay in effect.
func WatchTargets(ctx context.Context, path string, f *Fetcher, onReload func(), logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving targets path: %w", err)
	}

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching targets directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if filepath.Clean(event.Name) != abs {
				continue
			}

			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}

			reload(abs, f, onReload, logger)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}
			// Non-fatal; the next event may still reload the file.
			logger.Warn("targets watcher error", slog.String("error", err.Error()))
		}
	}
}

func reload(path string, f *Fetcher, onReload func(), logger *slog.Logger) {
	targets, err := LoadTargets(path)
	if err != nil {
		logger.Warn("keeping previous transit targets", slog.String("error", err.Error()))
		return
	}

	f.SetTargets(targets)
	logger.Info("transit targets reloaded", slog.Int("count", len(targets)))

	if onReload != nil {
		onReload()
	}
}
