package fileio

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/brindlecore/reactor/asyncerr"
	"github.com/brindlecore/reactor/loop"
)

// Event is a single filesystem change delivered to a Watch callback.
type Event struct {
	Path string
	Op   string // "create", "write", "remove", "rename", "chmod"
}

// Watcher is a live filesystem watch on one path, grounded on
// JeelKantaria-db-bouncer/internal/config.Watcher's fsnotify usage.
type Watcher struct {
	loop    *loop.Loop
	fsw     *fsnotify.Watcher
	onEvent func(Event)
	onError func(error)
	stopCh  chan struct{}
	once    sync.Once
}

func opString(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "create"
	case op&fsnotify.Write != 0:
		return "write"
	case op&fsnotify.Remove != 0:
		return "remove"
	case op&fsnotify.Rename != 0:
		return "rename"
	case op&fsnotify.Chmod != 0:
		return "chmod"
	default:
		return "unknown"
	}
}

// Watch begins watching path; onEvent and onError are invoked on the loop
// goroutine via loop.Submit (spec §4.7 "watch/unwatch").
func Watch(l *loop.Loop, path string, onEvent func(Event), onError func(error)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, asyncerr.Wrap(asyncerr.KindFileIO, "create watcher", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, asyncerr.Wrap(asyncerr.KindFileIO, "watch "+path, err)
	}

	w := &Watcher{loop: l, fsw: fsw, onEvent: onEvent, onError: onError, stopCh: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.onEvent != nil {
				e := Event{Path: ev.Name, Op: opString(ev.Op)}
				w.loop.Submit(func() { w.onEvent(e) })
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.loop.Submit(func() { w.onError(asyncerr.Wrap(asyncerr.KindFileIO, "watch error", err)) })
			}
		case <-w.stopCh:
			return
		}
	}
}

// Unwatch stops the watch and releases its underlying fsnotify handle.
// Idempotent.
func (w *Watcher) Unwatch() {
	w.once.Do(func() {
		close(w.stopCh)
		w.fsw.Close()
	})
}
