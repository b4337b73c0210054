// Package watch monitors a model directory and invokes a callback
// after changes settle, so `trellis watch` can re-plan on edit.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce batches editor save bursts into one callback.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches a directory tree of .sql model files.
type Watcher struct {
	dir       string
	watcher   *fsnotify.Watcher
	debouncer *debouncer
	logf      func(format string, args ...any)
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New sets up a recursive watch over dir. onChanged runs after events
// settle for the debounce window.
func New(dir string, debounce time.Duration, onChanged func(), logf func(format string, args ...any)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		dir:       dir,
		watcher:   fsw,
		debouncer: newDebouncer(debounce, onChanged),
		logf:      logf,
	}
	if err := w.addRecursive(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Start begins delivering events until the context is cancelled or
// Close is called.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handle(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logf("watcher error: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (w *Watcher) handle(event fsnotify.Event) {
	// New subdirectories need their own watch before any file inside
	// them produces events.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logf("failed to watch %s: %v", event.Name, err)
			}
			return
		}
	}
	if !isModelFile(event.Name) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
		w.logf("model change detected: %s", event.Name)
		w.debouncer.trigger()
	}
}

// Close stops the watcher and waits for the event goroutine.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.debouncer.cancel()
	return w.watcher.Close()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func isModelFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".sql")
}

// debouncer coalesces triggers within a window into one callback.
type debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	fn    func()
	timer *time.Timer
}

func newDebouncer(delay time.Duration, fn func()) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
