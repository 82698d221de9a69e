package template

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher notifies subscribers when a template file changes on disk.
// Subscribers reload lazily; a failed reload keeps the last good template.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	handlers map[string][]func()
	logger   *slog.Logger
	done     chan struct{}
}

// NewWatcher starts a filesystem watcher. Callers must Close it.
func NewWatcher(logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher:  fw,
		handlers: make(map[string][]func()),
		logger:   logger,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Subscribe registers a callback for changes to path.
func (w *Watcher) Subscribe(path string, fn func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.handlers[abs]; !ok {
		if err := w.watcher.Add(abs); err != nil {
			return err
		}
	}
	w.handlers[abs] = append(w.handlers[abs], fn)
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			w.mu.Lock()
			handlers := append([]func(){}, w.handlers[abs]...)
			w.mu.Unlock()
			if len(handlers) > 0 {
				w.logger.Info("template file changed", "template", abs, "op", ev.Op.String())
			}
			for _, fn := range handlers {
				fn()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("template watch error", "error", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
