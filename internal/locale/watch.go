package locale

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the overrides from path whenever the file is written or
// replaced, until ctx is done. The parent directory is watched so editors
// that save by rename are picked up too.
func (l *Localizer) Watch(ctx context.Context, path string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("locale watcher: %w", err)
	}
	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != target || !(evt.Has(fsnotify.Write) || evt.Has(fsnotify.Create)) {
					continue
				}
				if err := l.Reload(target); err != nil {
					logger.Warn("locale overrides not reloaded", zap.String("path", target), zap.Error(err))
					continue
				}
				logger.Info("locale overrides reloaded", zap.String("path", target))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("locale watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
