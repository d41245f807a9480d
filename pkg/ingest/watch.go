package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must stay quiet before it is handled.
const DefaultDebounce = 500 * time.Millisecond

// Handler is called once per settled text file. Handler errors are logged
// and do not stop the watcher.
type Handler func(ctx context.Context, path string) error

// Watcher reports text files created or modified under a directory.
type Watcher struct {
	dir      string
	debounce time.Duration
	handler  Handler
	logger   *slog.Logger
}

// NewWatcher creates a Watcher for dir. A zero debounce takes
// DefaultDebounce.
func NewWatcher(dir string, debounce time.Duration, handler Handler, logger *slog.Logger) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watching %s: not a directory", dir)
	}
	if handler == nil {
		return nil, errors.New("watcher requires a handler")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{dir: dir, debounce: debounce, handler: handler, logger: logger}, nil
}

// Scan hands every existing text file under the directory to the handler in
// lexical order.
func (w *Watcher) Scan(ctx context.Context) error {
	var paths []string
	err := filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsText(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning %s: %w", w.dir, err)
	}

	sort.Strings(paths)
	for _, p := range paths {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.handle(ctx, p)
	}
	return nil
}

// Run scans the directory and then handles changes until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating folder watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	if err := w.Scan(ctx); err != nil {
		return err
	}

	pending := map[string]time.Time{}
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !IsText(event.Name) {
				continue
			}
			pending[event.Name] = time.Now()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("folder watcher error: %w", err)
		case now := <-ticker.C:
			var ready []string
			for path, seen := range pending {
				if now.Sub(seen) >= w.debounce {
					ready = append(ready, path)
				}
			}
			sort.Strings(ready)
			for _, path := range ready {
				delete(pending, path)
				w.handle(ctx, path)
			}
		}
	}
}

func (w *Watcher) handle(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	if err := w.handler(ctx, path); err != nil {
		w.logger.Warn("handling watched file", "path", path, "error", err)
	}
}
