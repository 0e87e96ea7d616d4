package comm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aixgo-dev/drmcomm/internal/syncx"
	"github.com/aixgo-dev/drmcomm/pkg/observability"
	"github.com/aixgo-dev/drmcomm/pkg/roap"
	"github.com/aixgo-dev/drmcomm/pkg/transport"
)

type state int32

const (
	stateIdle state = iota
	stateRunning
	stateStopping
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRunning:
		return "running"
	case stateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// params is the state shared between the handler and its delivery worker.
// queue, agent and server are only touched with mu held.
type params struct {
	mu     *syncx.Mutex
	queue  []string
	stop   *syncx.Event
	exited *syncx.Event
	agent  Agent
	server Server
	logger *log.Logger
}

// Handler queues outbound ROAP requests and delivers them, one at a time,
// from a background worker.
type Handler struct {
	cfg     *Config
	p       *params
	notify  chan struct{}
	limiter *rate.Limiter
	depth   atomic.Int64
	state   atomic.Int32

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	runErr    error
}

// New creates a handler bound to the server held by shared.
func New(ctx context.Context, shared *SharedServer, opts ...Option) (*Handler, error) {
	const op = "New"

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if shared == nil {
		return nil, newError(KindInitialization, op, ErrNoServer)
	}
	server, err := shared.Acquire(ctx)
	if err != nil {
		return nil, newError(KindInitialization, op, err)
	}

	if cfg.EnableMetrics {
		observability.InitMetrics()
	}

	h := &Handler{
		cfg: cfg,
		p: &params{
			mu:     syncx.NewMutex(),
			stop:   syncx.NewEvent(),
			exited: syncx.NewEvent(),
			server: server,
			logger: cfg.Logger,
		},
		notify: make(chan struct{}, 1),
	}
	if cfg.SendRate > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst)
	}

	return h, nil
}

// SendAddContentKeyRequest queues req for delivery to the DRM server
func (h *Handler) SendAddContentKeyRequest(ctx context.Context, req *roap.AddContentKeyRequest) error {
	if req == nil {
		return newError(KindProtocol, "SendAddContentKeyRequest", ErrNilRequest)
	}
	return h.send(ctx, "SendAddContentKeyRequest", req)
}

// SendAddDeviceRightsRequest queues req for delivery to the DRM server
func (h *Handler) SendAddDeviceRightsRequest(ctx context.Context, req *roap.AddDeviceRightsRequest) error {
	if req == nil {
		return newError(KindProtocol, "SendAddDeviceRightsRequest", ErrNilRequest)
	}
	return h.send(ctx, "SendAddDeviceRightsRequest", req)
}

func (h *Handler) send(ctx context.Context, op string, msg roap.Message) error {
	if h.closing() {
		h.recordFailure("send", "closed")
		return newError(KindShutdown, op, ErrHandlerClosed)
	}

	if h.limiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, h.cfg.LockTimeout)
		err := h.limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			h.recordFailure("send", "rate_limited")
			return newError(KindTransientLock, op, fmt.Errorf("rate limit: %w", err))
		}
	}

	payload, err := msg.Encode()
	if err != nil {
		return newError(KindProtocol, op, err)
	}

	if err := h.enqueue(ctx, "send", payload); err != nil {
		var e *Error
		if errors.As(err, &e) {
			e.Op = op
		}
		return err
	}
	return nil
}

// enqueue appends payload to the back of the queue and wakes the worker.
func (h *Handler) enqueue(ctx context.Context, source, payload string) error {
	const op = "enqueue"

	lockCtx, cancel := context.WithTimeout(ctx, h.cfg.LockTimeout)
	defer cancel()

	if err := h.p.mu.Lock(lockCtx); err != nil {
		h.recordLockTimeout("enqueue")
		h.recordFailure(source, "lock_timeout")
		return newError(KindTransientLock, op, fmt.Errorf("%w: %w", syncx.ErrLockTimeout, err))
	}

	if h.closing() {
		h.unlock()
		h.recordFailure(source, "closed")
		return newError(KindShutdown, op, ErrHandlerClosed)
	}

	h.p.queue = append(h.p.queue, payload)
	depth := len(h.p.queue)
	h.depth.Store(int64(depth))
	h.unlock()

	h.wake()
	if h.cfg.EnableMetrics {
		observability.RecordEnqueue(source, depth)
	}
	return nil
}

// Run stores agent and starts the delivery worker. It can succeed at most once.
func (h *Handler) Run(agent Agent) error {
	const op = "Run"

	if agent == nil {
		return newError(KindInitialization, op, ErrNilAgent)
	}

	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	switch s := state(h.state.Load()); s {
	case stateIdle:
	case stateRunning:
		return newError(KindInitialization, op, ErrAlreadyRunning)
	default:
		return newError(KindShutdown, op, ErrHandlerClosed)
	}

	if err := h.p.mu.LockTimeout(h.cfg.LockTimeout); err != nil {
		h.recordLockTimeout("run")
		return newError(KindTransientLock, op, err)
	}
	h.p.agent = agent
	h.unlock()

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return h.deliver(gctx) })
	if recv, ok := h.cfg.Transport.(transport.Receiver); ok {
		g.Go(func() error { return h.pump(gctx, recv) })
	}

	h.cancel = cancel
	h.done = make(chan struct{})
	go func() {
		h.runErr = g.Wait()
		close(h.done)
	}()

	h.state.Store(int32(stateRunning))
	h.p.logger.Printf("[Handler] Started delivery worker (poll=%s, transport=%t)",
		h.cfg.PollInterval, h.cfg.Transport != nil)
	h.wake()
	return nil
}

// Close stops the worker and releases the queue. It waits at most
// StopTimeout for the worker to acknowledge the stop request.
func (h *Handler) Close(ctx context.Context) error {
	const op = "Close"

	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	prev := state(h.state.Load())
	switch prev {
	case stateStopped:
		return nil
	case stateIdle:
		h.state.Store(int32(stateStopped))
		h.release()
		return nil
	}

	if h.cfg.DrainOnClose {
		h.drain(ctx)
	}
	h.state.Store(int32(stateStopping))

	h.p.stop.Set()
	h.wake()

	var errs []error

	timer := time.NewTimer(h.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-h.p.exited.Done():
	case <-timer.C:
		errs = append(errs, ErrStopTimeout)
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("%w: %w", ErrStopTimeout, ctx.Err()))
	}

	h.cancel()
	join := time.NewTimer(h.cfg.StopTimeout)
	defer join.Stop()

	select {
	case <-h.done:
		if h.runErr != nil && !errors.Is(h.runErr, context.Canceled) {
			h.p.logger.Printf("[Handler] Worker exited with error: %v", h.runErr)
		}
	case <-join.C:
		errs = append(errs, errors.New("worker group did not exit"))
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	h.release()
	h.state.Store(int32(stateStopped))
	h.p.logger.Printf("[Handler] Stopped")

	if len(errs) > 0 {
		return newError(KindShutdown, op, errors.Join(errs...))
	}
	return nil
}

// drain waits until the worker has emptied the queue or the stop bound
// expires. New sends are still accepted while draining.
func (h *Handler) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.StopTimeout)
	defer cancel()

	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	for h.Pending() > 0 {
		select {
		case <-ctx.Done():
			h.p.logger.Printf("[Handler] Drain interrupted with %d message(s) pending", h.Pending())
			return
		case <-h.p.exited.Done():
			return
		case <-ticker.C:
		}
	}
}

// release drops the agent and any undelivered messages.
func (h *Handler) release() {
	if err := h.p.mu.LockTimeout(h.cfg.LockTimeout); err != nil {
		h.p.logger.Printf("[Handler] Could not lock queue for release: %v", err)
		return
	}
	if n := len(h.p.queue); n > 0 {
		h.p.logger.Printf("[Handler] Discarding %d undelivered message(s)", n)
	}
	h.p.queue = nil
	h.p.agent = nil
	h.depth.Store(0)
	h.unlock()

	if h.cfg.EnableMetrics {
		observability.SetQueueDepth(0)
	}
}

// Pending returns the number of queued messages
func (h *Handler) Pending() int {
	return int(h.depth.Load())
}

// Healthy returns nil while the delivery worker is running
func (h *Handler) Healthy() error {
	s := state(h.state.Load())
	if s != stateRunning {
		return fmt.Errorf("handler is %s", s)
	}
	if h.p.exited.IsSet() {
		return errors.New("delivery worker exited")
	}
	return nil
}

func (h *Handler) closing() bool {
	return state(h.state.Load()) >= stateStopping
}

func (h *Handler) wake() {
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

func (h *Handler) unlock() {
	if err := h.p.mu.Unlock(); err != nil {
		h.p.logger.Printf("[Handler] Failed to release queue lock: %v", err)
	}
}

func (h *Handler) recordFailure(source, reason string) {
	if h.cfg.EnableMetrics {
		observability.RecordEnqueueFailure(source, reason)
	}
}

func (h *Handler) recordLockTimeout(op string) {
	if h.cfg.EnableMetrics {
		observability.RecordLockTimeout(op)
	}
}
