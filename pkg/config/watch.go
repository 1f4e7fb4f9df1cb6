package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events an editor produces on save.
const watchDebounce = 250 * time.Millisecond

// Watch reloads the file at path whenever it changes and hands the result to
// onChange. Parse failures go to onError and the previous configuration stays
// in effect. The parent directory is watched so that editors which replace
// the file by rename are followed. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func(File, []string), onError func(error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config: watch directory %q: %w", filepath.Dir(abs), err)
	}

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			reload = time.After(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			onError(fmt.Errorf("config: watch: %w", err))
		case <-reload:
			reload = nil
			f, warnings, err := Load(abs)
			if err != nil {
				onError(err)
				continue
			}
			onChange(f, warnings)
		}
	}
}
