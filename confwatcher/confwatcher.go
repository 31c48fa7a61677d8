// Package confwatcher reloads a file when it changes on disk.
package confwatcher

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/galaxy-iot/media-relay/event"
)

const (
	defaultMinInterval = 1 * time.Second
	additionalWait     = 10 * time.Millisecond
)

// Watcher watches a file and emits its content after every change.
type Watcher struct {
	FilePath string
	// minimum time between two reloads, defaults to 1s
	MinInterval time.Duration

	inner        *fsnotify.Watcher
	absolutePath string

	onChange event.Emitter[[]byte]
	onError  event.Emitter[error]

	terminate chan struct{}
	done      chan struct{}
}

// OnChange registers a callback receiving the new file content.
// Callbacks must be registered before Initialize.
func (w *Watcher) OnChange(cb func([]byte)) {
	w.onChange.On(cb)
}

// OnError registers a callback fired when the file cannot be read.
func (w *Watcher) OnError(cb func(error)) {
	w.onError.On(cb)
}

// Initialize starts watching.
func (w *Watcher) Initialize() error {
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

	// the parent directory is watched so that atomic renames are detected
	w.absolutePath, _ = filepath.Abs(w.FilePath)

	if err := w.inner.Add(filepath.Dir(w.absolutePath)); err != nil {
		w.inner.Close()
		return err
	}

	w.terminate = make(chan struct{})
	w.done = make(chan struct{})

	go w.run()

	return nil
}

// Close stops watching.
func (w *Watcher) Close() {
	close(w.terminate)
	<-w.done
}

func (w *Watcher) run() {
	defer close(w.done)
	defer w.inner.Close()

	var lastCalled time.Time
	previousPath, _ := filepath.EvalSymlinks(w.absolutePath)

	// reload postponed by MinInterval
	var delayed *time.Timer
	var delayedC <-chan time.Time

	defer func() {
		if delayed != nil {
			delayed.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-w.inner.Events:
			if !ok {
				return
			}

			currentPath, _ := filepath.EvalSymlinks(w.absolutePath)
			eventPath, _ := filepath.Abs(ev.Name)
			eventPath, _ = filepath.EvalSymlinks(eventPath)

			if currentPath == "" {
				// removed; wait for it to be written again
				previousPath = ""
				continue
			}

			if currentPath == previousPath &&
				(eventPath != currentPath || ev.Op&(fsnotify.Write|fsnotify.Create) == 0) {
				continue
			}
			previousPath = currentPath

			if delayedC != nil {
				continue
			}

			if wait := w.MinInterval - time.Since(lastCalled); wait > 0 {
				delayed = time.NewTimer(wait + additionalWait)
				delayedC = delayed.C
				continue
			}

			// let the writer complete its job
			time.Sleep(additionalWait)
			lastCalled = time.Now()
			w.reload()

		case <-delayedC:
			delayed = nil
			delayedC = nil
			lastCalled = time.Now()
			w.reload()

		case err, ok := <-w.inner.Errors:
			if !ok {
				return
			}
			w.onError.Emit(err)
			return

		case <-w.terminate:
			return
		}
	}
}

func (w *Watcher) reload() {
	content, err := os.ReadFile(w.absolutePath)
	if err != nil {
		w.onError.Emit(err)
		return
	}

	w.onChange.Emit(content)
}
