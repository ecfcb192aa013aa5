// Package confwatcher contains a configuration file watcher.
package confwatcher

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haishinkit/haishin/internal/logger"
)

const (
	defaultMinInterval = 1 * time.Second

	// time given to the editor to finish writing
	settleTime = 10 * time.Millisecond
)

// ConfWatcher signals changes of a configuration file.
// The parent directory is watched, in order to follow files that are
// replaced by a rename or that are reached through a symlink.
type ConfWatcher struct {
	FilePath string

	// minimum time between two signals.
	MinInterval time.Duration

	Parent logger.Writer

	inner   *fsnotify.Watcher
	absPath string

	terminate chan struct{}
	signal    chan struct{}
	done      chan struct{}
}

// Initialize initializes ConfWatcher.
func (w *ConfWatcher) Initialize() error {
	if _, err := os.Stat(w.FilePath); err != nil {
		return err
	}

	if w.MinInterval == 0 {
		w.MinInterval = defaultMinInterval
	}

	var err error
	w.inner, err = fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// absolute paths are needed on Darwin
	w.absPath, _ = filepath.Abs(w.FilePath)

	err = w.inner.Add(filepath.Dir(w.absPath))
	if err != nil {
		w.inner.Close() //nolint:errcheck
		return err
	}

	w.terminate = make(chan struct{})
	w.signal = make(chan struct{})
	w.done = make(chan struct{})

	go w.run()

	return nil
}

// Close closes ConfWatcher.
func (w *ConfWatcher) Close() {
	close(w.terminate)
	<-w.done
}

// Log implements logger.Writer.
func (w *ConfWatcher) Log(level logger.Level, format string, args ...interface{}) {
	if w.Parent != nil {
		w.Parent.Log(level, "[conf watcher] "+format, args...)
	}
}

func resolve(p string) string {
	p, _ = filepath.Abs(p)
	p, _ = filepath.EvalSymlinks(p)
	return p
}

// changed reports whether an event concerns the watched file.
// target is the file the watched path currently resolves to.
func (w *ConfWatcher) changed(ev fsnotify.Event, target string, previous string) bool {
	if target != previous {
		return true
	}

	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}

	return resolve(ev.Name) == target
}

func (w *ConfWatcher) run() {
	defer close(w.done)
	defer close(w.signal)
	defer w.inner.Close() //nolint:errcheck

	var last time.Time
	previous := resolve(w.absPath)

	for {
		select {
		case ev := <-w.inner.Events:
			if time.Since(last) < w.MinInterval {
				continue
			}

			target := resolve(w.absPath)

			// the file has been removed: wait until it is created again
			if target == "" {
				previous = ""
				continue
			}

			if !w.changed(ev, target, previous) {
				continue
			}

			time.Sleep(settleTime)
			previous = target
			last = time.Now()

			w.Log(logger.Debug, "%s has changed", w.FilePath)

			select {
			case w.signal <- struct{}{}:
			case <-w.terminate:
				return
			}

		case err := <-w.inner.Errors:
			w.Log(logger.Warn, "%v", err)
			return

		case <-w.terminate:
			return
		}
	}
}

// Watch returns a channel that receives a value every time the file changes.
// The channel is closed when the watcher stops.
func (w *ConfWatcher) Watch() chan struct{} {
	return w.signal
}
