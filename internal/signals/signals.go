// Package signals lets another process cancel a run by dropping a file into
// the run's state directory.
package signals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// CancelFile is the signal file name that requests cancellation.
const CancelFile = "cancel"

// PollInterval is how often the signal file is checked in case the watcher
// misses an event or cannot be created.
var PollInterval = 500 * time.Millisecond

// Dir returns the signals directory under a state directory.
func Dir(stateDir string) string {
	return filepath.Join(stateDir, "signals")
}

func cancelPath(stateDir string) string {
	return filepath.Join(Dir(stateDir), CancelFile)
}

// SendCancel writes the cancel signal file.
func SendCancel(stateDir string) error {
	if err := os.MkdirAll(Dir(stateDir), 0755); err != nil {
		return fmt.Errorf("create signals directory: %w", err)
	}
	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(cancelPath(stateDir), []byte(stamp), 0644); err != nil {
		return fmt.Errorf("write cancel signal: %w", err)
	}
	return nil
}

// Clear removes a stale cancel signal. A missing file is not an error.
func Clear(stateDir string) error {
	err := os.Remove(cancelPath(stateDir))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear cancel signal: %w", err)
	}
	return nil
}

// Pending reports whether a cancel signal file exists.
func Pending(stateDir string) bool {
	_, err := os.Stat(cancelPath(stateDir))
	return err == nil
}

// Watch calls onCancel once when the cancel file appears under stateDir.
// It blocks until ctx is done and returns nil then. If the file already
// exists, onCancel is called immediately.
func Watch(ctx context.Context, stateDir string, onCancel func(), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	dir := Dir(stateDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create signals directory: %w", err)
	}

	var once sync.Once
	fire := func(source string) {
		once.Do(func() {
			logger.Info("cancel signal received", "source", source, "path", cancelPath(stateDir))
			onCancel()
		})
	}

	if Pending(stateDir) {
		fire("existing")
	}

	// Without a watcher the poll loop still catches the file.
	var events <-chan fsnotify.Event
	var errs <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("file watcher unavailable, polling for signals", "error", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(dir); err != nil {
			logger.Warn("watch signals directory failed, polling for signals", "error", err)
		} else {
			events = watcher.Events
			errs = watcher.Errors
		}
	}

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(event.Name) == CancelFile && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				fire("watcher")
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Debug("signal watcher error", "error", err)
		case <-ticker.C:
			if Pending(stateDir) {
				fire("poll")
			}
		}
	}
}
