package upload

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher retries uploads as soon as new retry markers appear under the
// output root, instead of waiting for the next process start.
type Watcher struct {
	watcher  *fsnotify.Watcher
	root     string
	debounce time.Duration
}

// WatchOption configures the watcher.
type WatchOption func(*Watcher)

// WithDebounce sets how long to wait after a marker event before
// rescanning, coalescing bursts of failed uploads.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher watches root for new retry markers.
func NewWatcher(root string, opts ...WatchOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{watcher: fsw, root: root, debounce: 2 * time.Second}
	for _, opt := range opts {
		opt(w)
	}
	if err := fsw.Add(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run blocks until ctx is done, rescanning the root whenever a marker
// file is created or rewritten.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, RetrySuffix) {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("retry watcher error", "error", err)
		case <-fire:
			timer = nil
			fire = nil
			result := RetryScan(ctx, w.root)
			slog.Info("retry scan finished",
				"attempted", result.Attempted, "delivered", result.Delivered,
				"remaining", result.Remaining, "corrupt", result.Corrupt)
		}
	}
}
