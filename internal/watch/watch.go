// Package watch adds audio files that appear in a directory to the queue.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"aura/internal/logging"
	"aura/internal/queue"
	"aura/internal/scan"
)

// DefaultDelay coalesces the create and write bursts of a file copy.
const DefaultDelay = 500 * time.Millisecond

// Sink receives scanned items. queue.Engine satisfies it.
type Sink interface {
	AddItems(items ...queue.Item) int
}

// Watcher monitors a directory tree for new supported audio files.
type Watcher struct {
	root      string
	recursive bool
	scanner   *scan.Scanner
	sink      Sink
	logger    *slog.Logger
	delay     time.Duration

	watcher *fsnotify.Watcher

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
	added  func(queue.Item)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDelay overrides the per-path debounce.
func WithDelay(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithRecursive also watches subdirectories, including ones created later.
func WithRecursive(recursive bool) Option {
	return func(w *Watcher) { w.recursive = recursive }
}

// OnAdded registers a callback for every item that was newly queued.
func OnAdded(fn func(queue.Item)) Option {
	return func(w *Watcher) { w.added = fn }
}

// New creates a watcher for root.
func New(root string, scanner *scan.Scanner, sink Sink, logger *slog.Logger, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("watch directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch directory: %s is not a directory", abs)
	}
	w := &Watcher{
		root:    abs,
		scanner: scanner,
		sink:    sink,
		logger:  logging.NewComponentLogger(logger, "watch"),
		delay:   DefaultDelay,
		timers:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run watches until ctx is cancelled. Pending debounced files are dropped on
// shutdown.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	w.watcher = fw
	defer func() {
		w.stopTimers()
		fw.Close()
		w.wg.Wait()
	}()

	dirs := 0
	err = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("error walking directory", logging.String(logging.FieldFile, path), logging.Error(err))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && !w.recursive {
			return fs.SkipDir
		}
		if addErr := fw.Add(path); addErr != nil {
			w.logger.Warn("failed to watch directory", logging.String(logging.FieldFile, path), logging.Error(addErr))
			return nil
		}
		dirs++
		return nil
	})
	if err != nil {
		return err
	}
	w.logger.Info("watching directory",
		logging.String(logging.FieldFile, w.root),
		logging.Int("directories", dirs),
		logging.Bool("recursive", w.recursive),
		logging.Duration("settle_delay", w.delay),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fsnotify error", logging.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if !w.recursive || !event.Has(fsnotify.Create) {
			return
		}
		if err := w.watcher.Add(event.Name); err != nil {
			w.logger.Warn("failed to watch new directory", logging.String(logging.FieldFile, event.Name), logging.Error(err))
			return
		}
		w.logger.Debug("watching new directory", logging.String(logging.FieldFile, event.Name))
		return
	}
	if !scan.IsSupported(event.Name) {
		return
	}
	w.schedule(ctx, event.Name)
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(w.delay)
		return
	}
	w.timers[path] = time.AfterFunc(w.delay, func() {
		w.mu.Lock()
		delete(w.timers, path)
		if w.closed {
			w.mu.Unlock()
			return
		}
		w.wg.Add(1)
		w.mu.Unlock()
		defer w.wg.Done()

		w.process(ctx, path)
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	items, err := w.scanner.FilesIn(ctx, w.root, []string{path})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			w.logger.Warn("failed to scan new file", logging.String(logging.FieldFile, path), logging.Error(err))
		}
		return
	}
	if w.sink.AddItems(items...) == 0 {
		w.logger.Debug("file already queued", logging.String(logging.FieldFile, path))
		return
	}
	w.logger.Info("queued new file", logging.String(logging.FieldFile, path))
	if w.added != nil {
		for _, it := range items {
			w.added(it)
		}
	}
}
