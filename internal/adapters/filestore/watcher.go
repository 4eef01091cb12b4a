package filestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/target/sessionkeeper/internal/ports"
)

// WatcherOptions groups dependencies for Watcher.
type WatcherOptions struct {
	Store  *Store
	Logger *slog.Logger
}

// Watcher signals when the session file is changed by another process.
// Writes made through the watched Store are ignored.
type Watcher struct {
	store  *Store
	logger *slog.Logger
}

var _ ports.InvalidationSource = (*Watcher)(nil)

// NewWatcher constructs a Watcher for the given store.
func NewWatcher(opts WatcherOptions) (*Watcher, error) {
	if opts.Store == nil {
		return nil, errors.New("filestore: store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		store:  opts.Store,
		logger: logger.With("component", "filestore_watcher"),
	}, nil
}

// Name identifies the source in logs and metrics.
func (w *Watcher) Name() string { return "file" }

// Listen watches the session file's directory until ctx is cancelled.
func (w *Watcher) Listen(ctx context.Context, fn func(ports.Signal)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	// Renames replace the file, so the directory is watched instead.
	dir := filepath.Dir(w.store.Path())
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Base(w.store.Path())

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if sig, ok := w.classify(ev); ok {
				fn(sig)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) classify(ev fsnotify.Event) (ports.Signal, bool) {
	switch {
	case ev.Has(fsnotify.Remove):
		return ports.Signal{Source: w.Name(), Reason: "removed"}, true
	case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create), ev.Has(fsnotify.Rename):
		data, err := os.ReadFile(w.store.Path())
		if err != nil {
			return ports.Signal{Source: w.Name(), Reason: "removed"}, true
		}
		if w.store.wroteLast(data) {
			return ports.Signal{}, false
		}
		return ports.Signal{Source: w.Name(), Reason: "changed"}, true
	default:
		return ports.Signal{}, false
	}
}
