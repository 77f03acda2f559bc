// Package watcher reports files that settle in a watched directory.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DirWatcher watches directories and fires a callback once a matching file
// has stopped changing for the debounce interval
type DirWatcher struct {
	watcher    *fsnotify.Watcher
	mu         sync.Mutex
	debounce   time.Duration
	extensions []string
	timers     map[string]*time.Timer

	// OnError receives watcher errors; nil discards them
	OnError func(error)
}

// New creates a watcher for files with the given extensions (".stl").
// No extensions matches every file.
func New(debounce time.Duration, extensions ...string) (*DirWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	lowered := make([]string, len(extensions))
	for i, ext := range extensions {
		lowered[i] = strings.ToLower(ext)
	}

	return &DirWatcher{
		watcher:    watcher,
		debounce:   debounce,
		extensions: lowered,
		timers:     make(map[string]*time.Timer),
	}, nil
}

// Add starts watching a directory
func (dw *DirWatcher) Add(dir string) error {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve path %s: %w", dir, err)
	}
	if err := dw.watcher.Add(absPath); err != nil {
		return fmt.Errorf("failed to watch %s: %w", absPath, err)
	}
	return nil
}

// Matches reports whether a path has one of the watched extensions
func (dw *DirWatcher) Matches(path string) bool {
	if len(dw.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, want := range dw.extensions {
		if ext == want {
			return true
		}
	}
	return false
}

// Run delivers settled files to callback until ctx is done or the watcher
// is closed
func (dw *DirWatcher) Run(ctx context.Context, callback func(string)) {
	for {
		select {
		case <-ctx.Done():
			dw.stopTimers()
			return

		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			// Only trigger on write or create events
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 && dw.Matches(event.Name) {
				dw.schedule(event.Name, callback)
			}

		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			if dw.OnError != nil {
				dw.OnError(err)
			}
		}
	}
}

// schedule restarts the debounce timer for a path
func (dw *DirWatcher) schedule(path string, callback func(string)) {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if timer, exists := dw.timers[path]; exists {
		timer.Stop()
	}
	dw.timers[path] = time.AfterFunc(dw.debounce, func() {
		dw.mu.Lock()
		delete(dw.timers, path)
		dw.mu.Unlock()
		callback(path)
	})
}

func (dw *DirWatcher) stopTimers() {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	for path, timer := range dw.timers {
		timer.Stop()
		delete(dw.timers, path)
	}
}

// Close stops the watcher
func (dw *DirWatcher) Close() error {
	dw.stopTimers()
	return dw.watcher.Close()
}
