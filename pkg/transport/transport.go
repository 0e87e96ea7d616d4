// Package transport moves serialized ROAP messages between peers.
//
// A Transport carries messages produced by the local handler to the remote
// peer; a Receiver, when the same transport also supports it, yields the
// messages the remote peer sent to us.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNoMessage is returned by Receive when no message arrived in time
	ErrNoMessage = errors.New("no message available")

	// ErrClosed is returned when using a closed transport
	ErrClosed = errors.New("transport closed")

	// ErrFull is returned when a bounded transport cannot accept more messages
	ErrFull = errors.New("transport buffer full")
)

// Transport delivers outbound payloads to the remote peer.
type Transport interface {
	Deliver(ctx context.Context, payload string) error
}

// Receiver yields inbound payloads from the remote peer.
type Receiver interface {
	// Receive waits at most timeout for a payload and returns ErrNoMessage
	// if none arrived.
	Receive(ctx context.Context, timeout time.Duration) (string, error)
}

// Memory is an in-process transport backed by buffered channels. Two
// Memory transports joined with Pipe form a bidirectional link.
type Memory struct {
	out    chan string
	in     chan string
	mu     sync.RWMutex
	closed bool
}

// NewMemory creates a transport whose deliveries land in its own inbound
// buffer (loopback).
func NewMemory(bufferSize int) *Memory {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	ch := make(chan string, bufferSize)
	return &Memory{out: ch, in: ch}
}

// Pipe returns two connected transports: what a delivers, b receives, and
// the other way round.
func Pipe(bufferSize int) (*Memory, *Memory) {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	ab := make(chan string, bufferSize)
	ba := make(chan string, bufferSize)
	return &Memory{out: ab, in: ba}, &Memory{out: ba, in: ab}
}

// Deliver queues payload for the peer without blocking.
func (m *Memory) Deliver(ctx context.Context, payload string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	select {
	case m.out <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrFull
	}
}

// Receive waits for the next payload from the peer.
func (m *Memory) Receive(ctx context.Context, timeout time.Duration) (string, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return "", ErrClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case payload := <-m.in:
		return payload, nil
	case <-timer.C:
		return "", ErrNoMessage
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Pending returns the number of payloads waiting to be received
func (m *Memory) Pending() int {
	return len(m.in)
}

// Close marks the transport closed. Buffered payloads are discarded.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
