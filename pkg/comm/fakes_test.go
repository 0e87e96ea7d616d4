package comm

import (
	"context"
	"io"
	"log"
	"sync"

	"github.com/aixgo-dev/drmcomm/pkg/roap"
)

var discard = log.New(io.Discard, "", 0)

// recordingAgent remembers every response it is handed, in order.
type recordingAgent struct {
	mu       sync.Mutex
	received []string
	ch       chan string
}

func newRecordingAgent() *recordingAgent {
	return &recordingAgent{ch: make(chan string, 64)}
}

func (a *recordingAgent) HandleAddContentKeyResponse(ctx context.Context, resp *roap.AddContentKeyResponse) {
	a.record(resp.TransactionID)
}

func (a *recordingAgent) HandleAddDeviceRightsResponse(ctx context.Context, resp *roap.AddDeviceRightsResponse) {
	a.record(resp.TransactionID)
}

func (a *recordingAgent) record(id string) {
	a.mu.Lock()
	a.received = append(a.received, id)
	a.mu.Unlock()
	select {
	case a.ch <- id:
	default:
	}
}

func (a *recordingAgent) ids() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.received...)
}

// stubServer answers every request with a fixed status.
type stubServer struct {
	mu       sync.Mutex
	requests int
	nilResp  bool
	panicMsg string
	closed   bool

	// entered is signalled on every request; block, when set, holds the
	// request until it is closed.
	entered chan struct{}
	block   chan struct{}
}

func (s *stubServer) HandleAddContentKeyRequest(ctx context.Context, req *roap.AddContentKeyRequest) *roap.AddContentKeyResponse {
	s.hit()
	if s.nilResp {
		return nil
	}
	return &roap.AddContentKeyResponse{
		TransactionID: req.TransactionID,
		Status:        roap.StatusSuccess,
		ContentID:     req.ContentID,
	}
}

func (s *stubServer) HandleAddDeviceRightsRequest(ctx context.Context, req *roap.AddDeviceRightsRequest) *roap.AddDeviceRightsResponse {
	s.hit()
	if s.nilResp {
		return nil
	}
	return &roap.AddDeviceRightsResponse{
		TransactionID:  req.TransactionID,
		Status:         roap.StatusSuccess,
		DeviceID:       req.DeviceID,
		ContentID:      req.ContentID,
		RightsObjectID: "ro-" + req.TransactionID,
	}
}

func (s *stubServer) hit() {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.block != nil {
		<-s.block
	}
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
}

func (s *stubServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *stubServer) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func sharedWith(srv Server) *SharedServer {
	return NewSharedServer(func(ctx context.Context) (Server, error) {
		return srv, nil
	}, discard)
}

func mustEncode(m roap.Message) string {
	s, err := m.Encode()
	if err != nil {
		panic(err)
	}
	return s
}

func contentKeyResponse(id string) string {
	return mustEncode(&roap.AddContentKeyResponse{TransactionID: id, Status: roap.StatusSuccess, ContentID: "c"})
}
