package comm

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync/atomic"

	"github.com/aixgo-dev/drmcomm/internal/drmserver"
	"github.com/aixgo-dev/drmcomm/internal/syncx"
	"github.com/aixgo-dev/drmcomm/pkg/observability"
	"github.com/aixgo-dev/drmcomm/pkg/roap"
)

// Agent receives the responses produced by the DRM server.
type Agent interface {
	HandleAddContentKeyResponse(ctx context.Context, resp *roap.AddContentKeyResponse)
	HandleAddDeviceRightsResponse(ctx context.Context, resp *roap.AddDeviceRightsResponse)
}

// Server handles requests addressed to the DRM server.
type Server interface {
	HandleAddContentKeyRequest(ctx context.Context, req *roap.AddContentKeyRequest) *roap.AddContentKeyResponse
	HandleAddDeviceRightsRequest(ctx context.Context, req *roap.AddDeviceRightsRequest) *roap.AddDeviceRightsResponse
}

// ServerFactory constructs the shared server on first use.
type ServerFactory func(ctx context.Context) (Server, error)

// FileServerFactory builds the server from the bootstrap document at path.
func FileServerFactory(path string, opts ...drmserver.Option) ServerFactory {
	return func(ctx context.Context) (Server, error) {
		doc, err := roap.DecodeDocumentFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load server info %s: %w", path, err)
		}
		srv, err := drmserver.New(doc.RootElement(), opts...)
		if err != nil {
			return nil, err
		}
		return srv, nil
	}
}

// SharedServer holds the one DRM server shared by every handler created
// from it. The server is built lazily and a failed build is retried on the
// next Acquire.
type SharedServer struct {
	mu      *syncx.Mutex
	factory ServerFactory
	server  Server
	logger  *log.Logger
	metrics bool
	closed  atomic.Bool

	// unlock is swapped in tests to simulate a failing release
	unlock func() error
}

// SharedOption configures a SharedServer
type SharedOption func(*SharedServer)

// WithServerMetrics enables or disables the acquisition counter
func WithServerMetrics(enabled bool) SharedOption {
	return func(s *SharedServer) {
		s.metrics = enabled
	}
}

// NewSharedServer creates an empty shared server slot.
func NewSharedServer(factory ServerFactory, logger *log.Logger, opts ...SharedOption) *SharedServer {
	if logger == nil {
		logger = log.Default()
	}
	s := &SharedServer{
		mu:      syncx.NewMutex(),
		factory: factory,
		logger:  logger,
		metrics: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unlock = s.mu.Unlock
	return s
}

// Acquire returns the shared server, constructing it if needed.
func (s *SharedServer) Acquire(ctx context.Context) (Server, error) {
	const op = "SharedServer.Acquire"

	if err := s.mu.Lock(ctx); err != nil {
		return nil, newError(KindTransientLock, op, err)
	}

	if s.closed.Load() {
		_ = s.unlock()
		return nil, newError(KindInitialization, op, ErrSharedClosed)
	}

	if s.server == nil {
		srv, err := s.build(ctx)
		if err != nil {
			s.logger.Printf("[SharedServer] Failed to create DRM server: %v", err)
		} else {
			s.server = srv
		}
	}
	srv := s.server

	if err := s.unlock(); err != nil {
		s.logger.Printf("[SharedServer] Failed to release lock: %v", err)
		s.server = nil
		srv = nil
	}

	if srv == nil {
		s.record("error")
		return nil, newError(KindInitialization, op, ErrNoServer)
	}
	s.record("ok")
	return srv, nil
}

func (s *SharedServer) record(status string) {
	if s.metrics {
		observability.RecordServerAcquisition(status)
	}
}

func (s *SharedServer) build(ctx context.Context) (srv Server, err error) {
	if s.factory == nil {
		return nil, ErrNoServer
	}
	defer func() {
		if r := recover(); r != nil {
			srv, err = nil, fmt.Errorf("server construction panicked: %v", r)
		}
	}()
	srv, err = s.factory(ctx)
	if err == nil && srv == nil {
		err = ErrNoServer
	}
	return srv, err
}

// Close releases the held server. Later calls to Acquire fail.
func (s *SharedServer) Close(ctx context.Context) error {
	if err := s.mu.Lock(ctx); err != nil {
		return newError(KindShutdown, "SharedServer.Close", err)
	}
	defer func() { _ = s.unlock() }()

	if s.closed.Swap(true) {
		return nil
	}

	srv := s.server
	s.server = nil
	if c, ok := srv.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return newError(KindShutdown, "SharedServer.Close", err)
		}
	}
	return nil
}
