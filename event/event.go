package event

import "sync"

// Emitter is an ordered list of observers.
// The zero value is ready to use.
type Emitter[T any] struct {
	observers     []func(T)
	observersLock sync.RWMutex
}

// On registers an observer.
func (e *Emitter[T]) On(fn func(T)) {
	e.observersLock.Lock()
	defer e.observersLock.Unlock()
	e.observers = append(e.observers, fn)
}

// Emit calls every observer registered so far, in registration order.
// Observers run on the caller's goroutine and may call On or Emit themselves.
func (e *Emitter[T]) Emit(v T) {
	for _, fn := range e.Observers() {
		fn(v)
	}
}

// Observers returns a copy of the registered observers.
func (e *Emitter[T]) Observers() []func(T) {
	e.observersLock.RLock()
	defer e.observersLock.RUnlock()

	observers := make([]func(T), len(e.observers))
	copy(observers, e.observers)
	return observers
}

// Len returns the number of registered observers.
func (e *Emitter[T]) Len() int {
	e.observersLock.RLock()
	defer e.observersLock.RUnlock()
	return len(e.observers)
}

// Signal is an Emitter for notifications that carry no value.
type Signal struct {
	Emitter[struct{}]
}

// On registers an observer.
func (s *Signal) On(fn func()) {
	s.Emitter.On(func(struct{}) { fn() })
}

// Emit notifies every observer.
func (s *Signal) Emit() {
	s.Emitter.Emit(struct{}{})
}
