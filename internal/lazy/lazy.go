// Package lazy defers construction of expensive values until first use.
package lazy

import (
	"context"
	"sync"
)

// Loader builds a value.
type Loader[T any] func(ctx context.Context) (T, error)

// Lazy is a value built at most once. The first Get's context is the one
// the loader runs with; its error is kept like the value.
type Lazy[T any] struct {
	loader Loader[T]
	value  T
	err    error
	loaded bool
	mutex  sync.Mutex
}

// New creates a lazy value
func New[T any](loader Loader[T]) *Lazy[T] {
	return &Lazy[T]{loader: loader}
}

// Get returns the value, loading it if necessary
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if !l.loaded {
		l.value, l.err = l.loader(ctx)
		l.loaded = true
	}
	return l.value, l.err
}

// Peek returns the value only if it was loaded without error.
func (l *Lazy[T]) Peek() (T, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if !l.loaded || l.err != nil {
		var zero T
		return zero, false
	}
	return l.value, true
}

// IsLoaded returns true if the value has been loaded
func (l *Lazy[T]) IsLoaded() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.loaded
}

// Reset clears the value, forcing a reload on next Get
func (l *Lazy[T]) Reset() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	var zero T
	l.value = zero
	l.err = nil
	l.loaded = false
}
