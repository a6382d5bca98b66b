// Package fswatch keeps the vector store in sync with directories on disk.
// Written files are re-ingested, deleted or renamed files are removed.
package fswatch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	dombatch "github.com/kailas-cloud/vecrag/internal/domain/batch"
)

// DefaultDebounce is how long a path must stay quiet before it is processed.
const DefaultDebounce = 500 * time.Millisecond

// Ingester applies file changes to the store.
type Ingester interface {
	IngestFile(ctx context.Context, path string) dombatch.Result
	RemoveFile(ctx context.Context, path string) error
}

// Filter selects the files worth ingesting.
type Filter interface {
	Supports(path string) bool
}

// Watcher debounces filesystem events and forwards them to an Ingester.
type Watcher struct {
	ingester Ingester
	filter   Filter
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period per path.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a watcher.
func New(ing Ingester, f Filter, opts ...Option) *Watcher {
	w := &Watcher{
		ingester: ing,
		filter:   f,
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
		pending:  make(map[string]time.Time),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run watches dirs recursively until ctx is done.
func (w *Watcher) Run(ctx context.Context, dirs []string) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	for _, d := range dirs {
		if err := addTree(fw, d); err != nil {
			return err
		}
	}
	w.logger.Info("Watching directories", zap.Strings("dirs", dirs), zap.Duration("debounce", w.debounce))

	ticker := time.NewTicker(max(w.debounce/2, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(fw, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		case now := <-ticker.C:
			w.flush(ctx, now)
		}
	}
}

func (w *Watcher) handle(fw *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := addTree(fw, ev.Name); err != nil {
				w.logger.Warn("Failed to watch new directory", zap.String("dir", ev.Name), zap.Error(err))
			}
			return
		}
	}
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return
	}
	w.track(ev.Name, time.Now())
}

// track records a change. Unsupported and hidden files are ignored.
func (w *Watcher) track(path string, at time.Time) {
	if strings.HasPrefix(filepath.Base(path), ".") || !w.filter.Supports(path) {
		return
	}
	w.mu.Lock()
	w.pending[path] = at
	w.mu.Unlock()
}

// flush processes paths that have been quiet for the debounce period.
// The file state on disk decides between ingest and removal.
func (w *Watcher) flush(ctx context.Context, now time.Time) {
	w.mu.Lock()
	var ready []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		info, err := os.Stat(path)
		switch {
		case err == nil && info.Mode().IsRegular():
			res := w.ingester.IngestFile(ctx, path)
			if res.Err() != nil {
				w.logger.Error("Re-ingest failed", zap.String("path", path), zap.Error(res.Err()))
				continue
			}
			w.logger.Info("File re-ingested",
				zap.String("path", path),
				zap.Int("chunks", res.Chunks()),
				zap.String("status", string(res.Status())),
			)
		case errors.Is(err, fs.ErrNotExist):
			if err := w.ingester.RemoveFile(ctx, path); err != nil {
				w.logger.Error("Remove failed", zap.String("path", path), zap.Error(err))
				continue
			}
			w.logger.Info("File removed from index", zap.String("path", path))
		case err != nil:
			w.logger.Warn("Cannot stat changed file", zap.String("path", path), zap.Error(err))
		}
	}
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}
