package restore

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/prefsd/internal/logfields"
)

// Refresher is what the watcher triggers; Engine implements it.
type Refresher interface {
	RefreshDefaults(ctx context.Context) error
}

// DefaultsWatcher refreshes defaults when the default specification file changes.
type DefaultsWatcher struct {
	path         string
	target       Refresher
	watcher      *fsnotify.Watcher
	mu           sync.Mutex
	stopOnce     sync.Once
	stopChan     chan struct{}
	reloadChan   chan struct{}
	debounceTime time.Duration
	onReload     func(error)
}

// NewDefaultsWatcher creates a watcher for path. debounce collapses bursts of writes.
func NewDefaultsWatcher(path string, target Refresher, debounce time.Duration) (*DefaultsWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to resolve defaults path: %w", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &DefaultsWatcher{
		path:         absPath,
		target:       target,
		watcher:      watcher,
		stopChan:     make(chan struct{}),
		reloadChan:   make(chan struct{}, 1),
		debounceTime: debounce,
	}, nil
}

// OnReload registers a callback invoked after each refresh attempt.
func (w *DefaultsWatcher) OnReload(fn func(error)) {
	w.mu.Lock()
	w.onReload = fn
	w.mu.Unlock()
}

// Start watches the directory containing the file, which survives atomic replacement.
func (w *DefaultsWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch defaults directory %s: %w", dir, err)
	}
	slog.Info("Starting defaults watcher", logfields.Path(w.path))

	go w.watchLoop(ctx)
	go w.reloadLoop(ctx)
	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (w *DefaultsWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopChan)
		err = w.watcher.Close()
	})
	return err
}

func (w *DefaultsWatcher) watchLoop(ctx context.Context) {
	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			switch {
			case event.Has(fsnotify.Write), event.Has(fsnotify.Create), event.Has(fsnotify.Rename):
				slog.Debug("Defaults file change detected", logfields.Path(event.Name), slog.String("op", event.Op.String()))
				w.triggerReload()
			case event.Has(fsnotify.Remove):
				slog.Warn("Defaults file removed", logfields.Path(event.Name))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Defaults watcher error", logfields.Error(err))
		}
	}
}

func (w *DefaultsWatcher) reloadLoop(ctx context.Context) {
	var timer *time.Timer
	stop := func() {
		if timer != nil {
			timer.Stop()
		}
	}
	for {
		select {
		case <-ctx.Done():
			stop()
			return
		case <-w.stopChan:
			stop()
			return
		case <-w.reloadChan:
			stop()
			timer = time.AfterFunc(w.debounceTime, func() { w.reload(ctx) })
		}
	}
}

func (w *DefaultsWatcher) triggerReload() {
	select {
	case w.reloadChan <- struct{}{}:
	default:
	}
}

func (w *DefaultsWatcher) reload(ctx context.Context) {
	err := w.target.RefreshDefaults(ctx)
	if err != nil {
		slog.Error("Failed to refresh defaults", logfields.Path(w.path), logfields.Error(err))
	} else {
		slog.Info("Defaults refreshed", logfields.Path(w.path))
	}
	w.mu.Lock()
	fn := w.onReload
	w.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
