// Package fence contains a startup barrier that waits for a set of
// independent asynchronous steps.
package fence

import (
	"context"
	"errors"
	"sync"

	"github.com/galaxy-iot/media-relay/event"
)

// ErrCheckpointFailed is recorded when a checkpoint fails without a cause.
var ErrCheckpointFailed = errors.New("checkpoint failed")

type state int

const (
	stateWaiting state = iota
	stateReady
	stateFailed
)

// Fence fires ready once every registered checkpoint has been reached.
// The first failed checkpoint moves the fence into a terminal failed state
// in which ready never fires.
type Fence struct {
	mutex   sync.Mutex
	pending map[*Checkpoint]struct{}
	state   state
	errs    []error

	onReady event.Signal
	onError event.Emitter[error]

	done chan struct{}
}

// Checkpoint is a pending condition of a Fence.
// It is resolved exactly once, by Reached or by Failed.
type Checkpoint struct {
	f        *Fence
	resolved bool
}

// New allocates a Fence.
func New() *Fence {
	return &Fence{
		pending: map[*Checkpoint]struct{}{},
		done:    make(chan struct{}),
	}
}

// Checkpoint registers a new pending checkpoint.
// When the fence is already terminal, the returned checkpoint is resolved.
func (f *Fence) Checkpoint() *Checkpoint {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	c := &Checkpoint{f: f}
	if f.state != stateWaiting {
		c.resolved = true
		return c
	}

	f.pending[c] = struct{}{}
	return c
}

// OnReady registers a callback fired when every checkpoint has been reached.
// If the fence is already ready, the callback is called immediately.
func (f *Fence) OnReady(cb func()) {
	f.mutex.Lock()
	if f.state == stateReady {
		f.mutex.Unlock()
		cb()
		return
	}
	f.onReady.On(cb)
	f.mutex.Unlock()
}

// OnError registers a callback fired for every failed checkpoint.
// Failures that happened before registration are replayed.
func (f *Fence) OnError(cb func(error)) {
	f.mutex.Lock()
	errs := append([]error(nil), f.errs...)
	f.onError.On(cb)
	f.mutex.Unlock()

	for _, err := range errs {
		cb(err)
	}
}

// Done returns a channel closed when the fence becomes ready or failed.
func (f *Fence) Done() <-chan struct{} {
	return f.done
}

// Err returns the first failure, or nil.
func (f *Fence) Err() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if len(f.errs) == 0 {
		return nil
	}
	return f.errs[0]
}

// Wait blocks until the fence is ready or failed.
func (f *Fence) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of unresolved checkpoints.
func (f *Fence) Pending() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.pending)
}

// Reached resolves the checkpoint successfully.
func (c *Checkpoint) Reached() {
	f := c.f

	f.mutex.Lock()
	if c.resolved {
		f.mutex.Unlock()
		return
	}
	c.resolved = true
	delete(f.pending, c)

	if f.state != stateWaiting || len(f.pending) != 0 {
		f.mutex.Unlock()
		return
	}

	f.state = stateReady
	close(f.done)
	observers := f.onReady.Observers()
	f.mutex.Unlock()

	for _, cb := range observers {
		cb(struct{}{})
	}
}

// Failed resolves the checkpoint with an error.
// A nil err is recorded as ErrCheckpointFailed.
func (c *Checkpoint) Failed(err error) {
	if err == nil {
		err = ErrCheckpointFailed
	}

	f := c.f

	f.mutex.Lock()
	if c.resolved {
		f.mutex.Unlock()
		return
	}
	c.resolved = true
	delete(f.pending, c)
	f.errs = append(f.errs, err)

	if f.state == stateWaiting {
		f.state = stateFailed
		close(f.done)
	}
	observers := f.onError.Observers()
	f.mutex.Unlock()

	for _, cb := range observers {
		cb(err)
	}
}
