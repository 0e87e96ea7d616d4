package comm

import (
	"errors"
	"fmt"
)

var (
	// ErrNoServer is returned when the shared DRM server is unavailable
	ErrNoServer = errors.New("drm server unavailable")

	// ErrSharedClosed is returned when acquiring from a closed SharedServer
	ErrSharedClosed = errors.New("shared server closed")

	// ErrNilAgent is returned when Run is called without an agent
	ErrNilAgent = errors.New("agent is nil")

	// ErrNilRequest is returned when sending a nil request
	ErrNilRequest = errors.New("request is nil")

	// ErrAlreadyRunning is returned when Run is called more than once
	ErrAlreadyRunning = errors.New("handler already running")

	// ErrHandlerClosed is returned by operations on a stopping or stopped handler
	ErrHandlerClosed = errors.New("handler closed")

	// ErrMissingParticipant is returned when dispatching without an agent or server
	ErrMissingParticipant = errors.New("agent or server missing")

	// ErrUnknownMessageType is returned for an unrecognized root element
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrNilResponse is returned when the server produces no response for a request
	ErrNilResponse = errors.New("server returned no response")

	// ErrWorkerMisconfigured is returned when the worker finds no agent or server
	ErrWorkerMisconfigured = errors.New("delivery worker has no agent or server")

	// ErrStopTimeout is returned when the worker does not acknowledge a stop in time
	ErrStopTimeout = errors.New("delivery worker did not acknowledge stop")
)

// Kind classifies handler failures.
type Kind int

const (
	// KindInitialization covers missing primitives or server at construction
	KindInitialization Kind = iota + 1
	// KindTransientLock covers expired bounded waits; callers may retry
	KindTransientLock
	// KindProtocol covers decode, unknown type and handler failures
	KindProtocol
	// KindShutdown covers failures while stopping the worker
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindInitialization:
		return "initialization error"
	case KindTransientLock:
		return "transient lock error"
	case KindProtocol:
		return "protocol error"
	case KindShutdown:
		return "shutdown error"
	default:
		return "unknown error"
	}
}

// Error is the error type returned by the handler, dispatcher and shared server.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsInitialization reports whether err is an initialization failure
func IsInitialization(err error) bool { return KindOf(err) == KindInitialization }

// IsTransient reports whether err is a transient lock failure
func IsTransient(err error) bool { return KindOf(err) == KindTransientLock }

// IsProtocol reports whether err is a protocol failure
func IsProtocol(err error) bool { return KindOf(err) == KindProtocol }

// IsShutdown reports whether err is a shutdown failure
func IsShutdown(err error) bool { return KindOf(err) == KindShutdown }
