package stop

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchFile raises sig when the stop file appears. A stale stop file left by
// a previous run is removed before watching begins, so only a fresh touch
// stops this run. Blocks until ctx is done; run it in its own goroutine.
func WatchFile(ctx context.Context, path string, sig *Signal) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear stale stop file: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("stop file dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("stop watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Name == path && ev.Op.Has(fsnotify.Create) || ev.Name == path && ev.Op.Has(fsnotify.Write) {
				slog.Info("stop file detected", "path", path)
				sig.Set("stop_file")
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("stop watcher error", "error", err)
		}
	}
}

// Touch creates the stop file, signalling any watching run to stop.
func Touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("stop file dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("touch stop file: %w", err)
	}
	return f.Close()
}
