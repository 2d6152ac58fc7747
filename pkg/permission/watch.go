package permission

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher is a Source backed by a device node. It publishes
// ActionUSBPermission when the node appears or becomes read/write accessible
// and ActionUSBPermissionRevoked when it disappears.
type Watcher struct {
	*Broadcaster

	path   string
	fsw    *fsnotify.Watcher
	logger *slog.Logger

	mu   sync.Mutex
	last bool
}

// NewWatcher watches the directory holding path.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("permission: create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("permission: watch %s: %w", filepath.Dir(path), err)
	}
	return &Watcher{
		Broadcaster: NewBroadcaster(),
		path:        filepath.Clean(path),
		fsw:         fsw,
		logger:      logger.With("component", "permission", "node", path),
	}, nil
}

// Accessible reports whether the node can be opened for reading and writing.
func Accessible(path string) bool {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// Check publishes the current state of the node. Run calls it once on
// start; hosts may call it again after subscribing.
func (w *Watcher) Check() {
	w.publish(Accessible(w.path))
}

// Run processes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	w.Check()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			switch {
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				w.publish(false)
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Chmod), ev.Has(fsnotify.Write):
				w.publish(Accessible(w.path))
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// Close stops the underlying watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) publish(accessible bool) {
	w.mu.Lock()
	changed := accessible != w.last
	w.last = accessible
	w.mu.Unlock()

	switch {
	case accessible:
		if changed {
			w.logger.Info("device node accessible")
		}
		// repeated grants reach subscribers added since the last one
		w.Send(ActionUSBPermission)
	case changed:
		w.logger.Info("device node gone")
		w.Send(ActionUSBPermissionRevoked)
	}
}
