// Package watcher re-runs an action when asset files change on disk.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// DefaultDebounce absorbs the burst of events editors emit for one save
const DefaultDebounce = 500 * time.Millisecond

// Handler is called once per settled change. Calls never overlap.
type Handler func(ctx context.Context, path string) error

// Watcher watches a set of files
type Watcher struct {
	paths    []string
	handler  Handler
	debounce time.Duration
	log      logr.Logger
}

// New creates a watcher for paths
func New(paths []string, handler Handler, log logr.Logger) *Watcher {
	return &Watcher{
		paths:    paths,
		handler:  handler,
		debounce: DefaultDebounce,
		log:      log,
	}
}

// WithDebounce sets the debounce duration
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Watch blocks until ctx is cancelled. Handler errors are logged and
// watching continues.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	// Watch directories rather than files so editors that replace the file
	// on save are still seen
	watchedDirs := make(map[string]bool)
	fileSet := make(map[string]bool)
	for _, path := range w.paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", path, err)
		}
		dir := filepath.Dir(abs)
		if !watchedDirs[dir] {
			if err := fw.Add(dir); err != nil {
				return fmt.Errorf("watch %s: %w", dir, err)
			}
			watchedDirs[dir] = true
		}
		fileSet[abs] = true
		w.log.Info("Watching for changes", "path", abs)
	}

	fire := make(chan string)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !fileSet[abs] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if t, exists := timers[abs]; exists {
				t.Stop()
			}
			timers[abs] = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- abs:
				case <-ctx.Done():
				}
			})

		case path := <-fire:
			w.log.Info("File changed", "path", path)
			if err := w.handler(ctx, path); err != nil {
				w.log.Error(err, "Change handler failed", "path", path)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error(err, "Watcher error")

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
