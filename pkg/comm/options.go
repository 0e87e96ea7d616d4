package comm

import (
	"log"
	"time"

	"github.com/aixgo-dev/drmcomm/pkg/transport"
)

// Config contains the tuning knobs of a Handler
type Config struct {
	// PollInterval bounds how long the worker waits for a stop request or
	// new work before checking the queue again.
	// Default: 100ms
	PollInterval time.Duration

	// LockTimeout bounds every queue lock acquisition.
	// Default: 1s
	LockTimeout time.Duration

	// StopTimeout bounds how long Close waits for the worker to acknowledge a stop.
	// Default: 5s
	StopTimeout time.Duration

	// SendRate limits outbound requests per second (0 = unlimited)
	SendRate float64

	// SendBurst is the limiter burst size when SendRate is set.
	// Default: 1
	SendBurst int

	// DrainOnClose makes Close wait (within StopTimeout) for the queue to empty
	DrainOnClose bool

	// Transport receives produced responses instead of the local queue.
	// When it is also a transport.Receiver, inbound payloads are pumped
	// into the queue while the handler runs.
	Transport transport.Transport

	// Logger receives handler and worker diagnostics.
	// Default: log.Default()
	Logger *log.Logger

	// EnableMetrics enables Prometheus metrics collection.
	// Default: true
	EnableMetrics bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		PollInterval:  100 * time.Millisecond,
		LockTimeout:   time.Second,
		StopTimeout:   5 * time.Second,
		SendBurst:     1,
		Logger:        log.Default(),
		EnableMetrics: true,
	}
}

// Option is a functional option for configuring a Handler
type Option func(*Config)

// WithPollInterval sets the worker poll interval
func WithPollInterval(d time.Duration) Option {
	return func(cfg *Config) {
		if d > 0 {
			cfg.PollInterval = d
		}
	}
}

// WithLockTimeout sets the bounded wait for the queue lock
func WithLockTimeout(d time.Duration) Option {
	return func(cfg *Config) {
		if d > 0 {
			cfg.LockTimeout = d
		}
	}
}

// WithStopTimeout sets the bounded wait for stop acknowledgment
func WithStopTimeout(d time.Duration) Option {
	return func(cfg *Config) {
		if d > 0 {
			cfg.StopTimeout = d
		}
	}
}

// WithSendRate throttles outbound requests
func WithSendRate(perSecond float64, burst int) Option {
	return func(cfg *Config) {
		cfg.SendRate = perSecond
		if burst > 0 {
			cfg.SendBurst = burst
		}
	}
}

// WithDrainOnClose makes Close flush the queue before stopping the worker
func WithDrainOnClose(enabled bool) Option {
	return func(cfg *Config) {
		cfg.DrainOnClose = enabled
	}
}

// WithTransport routes produced responses to t instead of the local queue
func WithTransport(t transport.Transport) Option {
	return func(cfg *Config) {
		cfg.Transport = t
	}
}

// WithLogger sets the logger
func WithLogger(logger *log.Logger) Option {
	return func(cfg *Config) {
		if logger != nil {
			cfg.Logger = logger
		}
	}
}

// WithMetrics enables or disables metrics collection
func WithMetrics(enabled bool) Option {
	return func(cfg *Config) {
		cfg.EnableMetrics = enabled
	}
}
