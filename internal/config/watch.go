package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 300 * time.Millisecond

// Watch calls onChange (debounced) whenever the config file at path is written,
// created or replaced, until ctx is cancelled. The parent directory is watched
// because editors usually save through a rename.
func Watch(ctx context.Context, path string, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}
	base := filepath.Base(path)

	go func() {
		defer w.Close()
		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				pending = time.After(watchDebounce)
			case <-pending:
				pending = nil
				onChange()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("config watch error", "path", path, "error", err)
			}
		}
	}()
	return nil
}
