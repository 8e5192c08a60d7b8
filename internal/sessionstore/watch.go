package sessionstore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"marketplace-client/internal/logging"
	"marketplace-client/internal/session"
)

// Watch calls onChange with the stored snapshot whenever another process
// writes or removes the session file. It blocks until ctx is done.
func (s *FileStore) Watch(ctx context.Context, logger *logging.Logger, onChange func(session.Snapshot)) error {
	if err := s.ensureDir(); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to initialize fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch session directory %s: %w", dir, err)
	}
	logger.Debug("watching session file", logging.Field("path", s.path))

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			logger.Debugf("session file event: op=%s", event.Op.String())
			snapshot, err := s.Load()
			if err != nil {
				logger.Warn("failed to reload session file", logging.Field("error", err))
				continue
			}
			onChange(snapshot)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("session watcher error", logging.Field("error", err))
		}
	}
}
