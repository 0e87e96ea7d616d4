// Package syncx provides the lock and event primitives used by the
// communication handler. Unlike sync.Mutex, the lock supports bounded
// acquisition, and the event can be awaited with a timeout or selected on.
package syncx

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrLockTimeout is returned when a bounded lock acquisition expires
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrNotLocked is returned when unlocking a mutex that is not held
	ErrNotLocked = errors.New("mutex is not locked")
)

// Mutex is a mutual-exclusion lock backed by a single-slot channel.
// The zero value is not usable; create one with NewMutex.
type Mutex struct {
	ch chan struct{}
}

// NewMutex creates an unlocked mutex
func NewMutex() *Mutex {
	return &Mutex{ch: make(chan struct{}, 1)}
}

// Lock blocks until the mutex is acquired or ctx is done.
func (m *Mutex) Lock(ctx context.Context) error {
	select {
	case m.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LockTimeout blocks for at most d. A non-positive d tries once.
func (m *Mutex) LockTimeout(d time.Duration) error {
	if d <= 0 {
		if m.TryLock() {
			return nil
		}
		return ErrLockTimeout
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case m.ch <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrLockTimeout
	}
}

// TryLock acquires the mutex if it is free
func (m *Mutex) TryLock() bool {
	select {
	case m.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock releases the mutex.
func (m *Mutex) Unlock() error {
	select {
	case <-m.ch:
		return nil
	default:
		return ErrNotLocked
	}
}

// Event is a manual-reset binary event. Once set it stays set and every
// waiter, present or future, is released.
type Event struct {
	once sync.Once
	ch   chan struct{}
}

// NewEvent creates an event in the unset state
func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

// Set raises the event. Setting an already-set event is a no-op.
func (e *Event) Set() {
	e.once.Do(func() { close(e.ch) })
}

// IsSet reports whether the event has been raised
func (e *Event) IsSet() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed when the event is set
func (e *Event) Done() <-chan struct{} {
	return e.ch
}

// Wait blocks until the event is set or ctx is done.
func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout waits for at most d and reports whether the event was set.
func (e *Event) WaitTimeout(d time.Duration) bool {
	if d <= 0 {
		return e.IsSet()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-e.ch:
		return true
	case <-timer.C:
		return false
	}
}
