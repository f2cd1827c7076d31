package events

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/logging"
)

// debounceWindow collapses editor save bursts into one event.
const debounceWindow = 500 * time.Millisecond

// Watcher turns filesystem changes under a workspace into
// workspace-changed events on the bus.
type Watcher struct {
	path    string
	bus     Bus
	log     *logging.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher watches path. Only the top-level directory is registered;
// change detection for cache invalidation does not need recursion, any
// churn in the workspace invalidates the same namespace.
func NewWatcher(path string, bus Bus, log *logging.Logger) (*Watcher, error) {
	if log == nil {
		log = logging.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", path, err)
	}
	return &Watcher{path: path, bus: bus, log: log, watcher: fsw}, nil
}

// Run pumps filesystem events until ctx is done. Blocking; launched on its
// own goroutine.
func (w *Watcher) Run(ctx context.Context) {
	defer func() {
		if err := w.watcher.Close(); err != nil {
			w.log.Warn(ctx, "closing filesystem watcher", zap.Error(err))
		}
	}()

	var (
		timer   *time.Timer
		pending string
	)
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending = ev.Name
			if timer == nil {
				timer = time.AfterFunc(debounceWindow, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(debounceWindow)
			}
		case <-fire:
			timer = nil
			if err := w.bus.Publish(ctx, Event{
				Type:      TypeWorkspaceChanged,
				Namespace: w.path,
				Detail:    pending,
			}); err != nil {
				w.log.Warn(ctx, "publishing workspace change", zap.Error(err))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn(ctx, "filesystem watcher error", zap.Error(err))
		}
	}
}
