package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/ianremillard/splicer/internal/ferr"
)

// Watcher reloads a Limits value from disk whenever the backing file
// changes, following ehrlich-b-wingthing's fsnotify-driven reload idiom.
type Watcher struct {
	path string
	fsw  *fsnotify.Watcher
	ch   chan Limits
}

// WatchFile starts watching path's directory for changes to path itself,
// publishing a freshly reloaded Limits on the returned channel each time
// it changes. The directory (not the file) is watched so the watch
// survives editors that replace the file via rename rather than
// in-place write.
func WatchFile(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ferr.Wrap(ferr.KindIO, "create config watcher", err)
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, ferr.Wrap(ferr.KindIO, "watch config directory", err)
	}
	return &Watcher{path: path, fsw: fsw, ch: make(chan Limits, 1)}, nil
}

// Changes returns the channel that receives a freshly reloaded Limits
// each time the watched file changes and parses successfully.
func (w *Watcher) Changes() <-chan Limits { return w.ch }

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error { return w.fsw.Close() }

// Run drives the watch loop until ctx is cancelled. Parse failures are
// ignored: the previous Limits value (already in effect) is kept.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.ch)
	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			lim, err := Load(w.path)
			if err != nil {
				continue
			}
			select {
			case w.ch <- lim:
			default:
				// a reload is already pending: replace it with this newer one
				select {
				case <-w.ch:
				default:
				}
				select {
				case w.ch <- lim:
				default:
				}
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}
