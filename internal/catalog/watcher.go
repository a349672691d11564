package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of file events into one sync.
const DefaultDebounce = 500 * time.Millisecond

// Watcher re-syncs the catalog whenever a definition changes.
type Watcher struct {
	syncer   *Syncer
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
	synced  chan SyncResult
}

// NewWatcher creates a watcher for the syncer's directory.
func NewWatcher(syncer *Syncer, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		syncer:   syncer,
		debounce: debounce,
		logger:   syncer.logger.With("subcomponent", "watcher"),
		synced:   make(chan SyncResult, 1),
	}
}

// Synced delivers the result of the latest debounced sync. Older results
// are dropped when nobody reads them.
func (w *Watcher) Synced() <-chan SyncResult {
	return w.synced
}

// Run watches the catalog directory until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	err = filepath.WalkDir(w.syncer.Dir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.syncer.Dir(), err)
	}

	w.mu.Lock()
	w.watcher = fw
	w.mu.Unlock()
	w.logger.Info("watching catalog", "dir", w.syncer.Dir())

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("catalog watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		// New subdirectories are watched too.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err == nil {
				w.logger.Debug("watching new directory", "dir", event.Name)
			}
		}
	}

	ext := filepath.Ext(event.Name)
	relevant := ext == ".yaml" || ext == ".yml" || event.Op&(fsnotify.Remove|fsnotify.Rename) != 0
	if !relevant || event.Op == fsnotify.Chmod {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.resync(ctx) })
}

func (w *Watcher) resync(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := w.syncer.Sync(ctx)
	if err != nil {
		w.logger.Error("catalog sync failed", "error", err)
		return
	}
	select {
	case <-w.synced:
	default:
	}
	select {
	case w.synced <- res:
	default:
	}
}
