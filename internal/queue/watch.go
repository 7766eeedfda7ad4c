// internal/queue/watch.go
package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
)

// DefaultDebounce collapses the burst of events editors produce on save.
const DefaultDebounce = 300 * time.Millisecond

// WatchPromptFile reloads path after it changes and hands the prompts to c. Changes made while
// the queue is running are logged and skipped. It blocks until ctx ends.
func WatchPromptFile(ctx context.Context, c *Controller, path string, debounce time.Duration, logger *zap.Logger) error {
	return Watch(ctx, path, debounce, logger, func(prompts []string) error {
		if err := c.Load(prompts); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				logger.Info("Prompt file changed while running; pause or stop to reload.", zap.String("path", path))
				return nil
			}
			return err
		}
		return nil
	})
}

// Watch calls reload with the file's prompts each time it is written, created or renamed into
// place. The parent directory is watched so atomic-rename saves are seen.
func Watch(ctx context.Context, path string, debounce time.Duration, logger *zap.Logger, reload func([]string) error) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("expand watch path: %w", err)
	}
	target, err := filepath.Abs(expanded)
	if err != nil {
		return fmt.Errorf("resolve watch path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	logger = logger.With(zap.String("path", target))
	logger.Debug("Watching prompt file.")

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Prompt file watcher error.", zap.Error(err))

		case <-timer.C:
			prompts, err := LoadPromptFile(target)
			if err != nil {
				// The file may be mid-replace; the next event retries.
				logger.Debug("Prompt file not readable yet.", zap.Error(err))
				continue
			}
			if err := reload(prompts); err != nil {
				return err
			}
			logger.Info("Prompt file reloaded.", zap.Int("prompts", len(prompts)))
		}
	}
}
