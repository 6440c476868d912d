// Package watch re-runs a callback when pipeline files change on disk.
// Rapid bursts of file events, such as an editor writing a swap file and
// then renaming it over the original, are debounced into one invocation.
package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kilnworks/kiln/internal/ctxlog"
)

// Watcher triggers a callback when any watched path changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	callback func()

	mu             sync.Mutex
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
}

// New creates a watcher over the given paths. Directories watch their
// direct entries, which covers the usual one-directory pipeline layout.
func New(paths []string, callback func()) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}

	return &Watcher{
		watcher:        watcher,
		callback:       callback,
		debouncePeriod: 500 * time.Millisecond,
	}, nil
}

// Start processes file events until the context is canceled.
func (w *Watcher) Start(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Info("Pipeline change detected.", "file", event.Name, "op", event.Op.String())
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("Watcher error.", "error", err)
		}
	}
}

// Close stops the watcher and releases its OS resources.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// schedule debounces rapid file changes into one callback invocation.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debouncePeriod, w.callback)
}
