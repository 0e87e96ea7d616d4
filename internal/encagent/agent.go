// Package encagent is the encoding-agent side of the exchange. It receives
// the DRM server's responses and hands them to whoever is waiting on them.
package encagent

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/aixgo-dev/drmcomm/pkg/roap"
)

// Result is one response received from the DRM server.
type Result struct {
	Tag           string
	TransactionID string
	Status        roap.Status
	Reason        string
	Message       roap.Message
	ReceivedAt    time.Time
}

// OK reports whether the server accepted the request
func (r Result) OK() bool { return r.Status == roap.StatusSuccess }

// Agent logs server responses and publishes them on Results. When the
// buffer is full the oldest result is kept and the new one is dropped.
type Agent struct {
	results chan Result
	logger  *log.Logger

	mu      sync.Mutex
	waiters map[string]chan Result
	dropped int
}

// New creates an agent whose Results channel buffers up to size entries.
func New(size int, logger *log.Logger) *Agent {
	if size <= 0 {
		size = 64
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Agent{
		results: make(chan Result, size),
		logger:  logger,
		waiters: make(map[string]chan Result),
	}
}

// Results returns the channel of received responses
func (a *Agent) Results() <-chan Result { return a.results }

// Dropped returns the number of results discarded because Results was full
func (a *Agent) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// HandleAddContentKeyResponse records the outcome of a content key registration.
func (a *Agent) HandleAddContentKeyResponse(ctx context.Context, resp *roap.AddContentKeyResponse) {
	if resp.Status == roap.StatusSuccess {
		a.logger.Printf("[EncAgent] Content key for %s registered (tx=%s)", resp.ContentID, resp.TransactionID)
	} else {
		a.logger.Printf("[EncAgent] Content key for %s rejected: %s %s (tx=%s)",
			resp.ContentID, resp.Status, resp.Reason, resp.TransactionID)
	}
	a.publish(Result{
		Tag:           resp.Tag(),
		TransactionID: resp.TransactionID,
		Status:        resp.Status,
		Reason:        resp.Reason,
		Message:       resp,
		ReceivedAt:    time.Now(),
	})
}

// HandleAddDeviceRightsResponse records the outcome of a rights request.
func (a *Agent) HandleAddDeviceRightsResponse(ctx context.Context, resp *roap.AddDeviceRightsResponse) {
	if resp.Status == roap.StatusSuccess {
		a.logger.Printf("[EncAgent] Rights object %s issued to %s for %s, valid until %s",
			resp.RightsObjectID, resp.DeviceID, resp.ContentID, resp.NotAfter.Format(time.RFC3339))
	} else {
		a.logger.Printf("[EncAgent] Rights for %s on %s refused: %s %s",
			resp.DeviceID, resp.ContentID, resp.Status, resp.Reason)
	}
	a.publish(Result{
		Tag:           resp.Tag(),
		TransactionID: resp.TransactionID,
		Status:        resp.Status,
		Reason:        resp.Reason,
		Message:       resp,
		ReceivedAt:    time.Now(),
	})
}

// Await blocks until the response for transactionID arrives or ctx is done.
// Call Expect before sending the request so the response cannot be missed.
func (a *Agent) Await(ctx context.Context, transactionID string) (Result, error) {
	ch := a.Expect(transactionID)
	defer a.Forget(transactionID)

	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Expect registers interest in transactionID. The returned channel receives
// the matching response instead of Results, after which the registration is
// dropped. Call Forget if the response may never arrive.
func (a *Agent) Expect(transactionID string) <-chan Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, ok := a.waiters[transactionID]
	if !ok {
		ch = make(chan Result, 1)
		a.waiters[transactionID] = ch
	}
	return ch
}

// Forget drops the registration made by Expect
func (a *Agent) Forget(transactionID string) {
	a.mu.Lock()
	delete(a.waiters, transactionID)
	a.mu.Unlock()
}

func (a *Agent) publish(r Result) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ch, ok := a.waiters[r.TransactionID]; ok {
		select {
		case ch <- r:
			delete(a.waiters, r.TransactionID)
			return
		default:
		}
	}

	select {
	case a.results <- r:
	default:
		a.dropped++
	}
}
