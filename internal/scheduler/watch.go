package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the scheduler whenever the task file changes, until ctx is
// done. The directory is watched rather than the file because the store
// replaces the file by rename.
func (s *Scheduler) Watch(ctx context.Context) error {
	path := filepath.Clean(s.store.Path())
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create task dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.logger.Debug("watching task file", "path", path)

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			debounce = time.After(reloadDebounce)

		case <-debounce:
			debounce = nil
			if err := s.Reload(); err != nil {
				s.logger.Error("reload tasks", "error", err)
				continue
			}
			s.logger.Info("tasks reloaded", "scheduled", len(s.Entries()))

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("task watcher error", "error", err)
		}
	}
}
