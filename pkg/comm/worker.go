package comm

import (
	"context"
	"errors"
	"time"

	"github.com/aixgo-dev/drmcomm/pkg/observability"
	"github.com/aixgo-dev/drmcomm/pkg/transport"
)

// deliver is the delivery worker loop. It sleeps until it is woken by an
// enqueue, a stop request, cancellation or the poll tick, then drains the
// queue one message per lock acquisition. The stop acknowledgment is raised
// on every exit path.
func (h *Handler) deliver(ctx context.Context) error {
	p := h.p
	defer p.exited.Set()

	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop.Done():
			p.logger.Printf("[Deliverer] Stop requested, exiting")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-h.notify:
		case <-ticker.C:
		}

		for !p.stop.IsSet() {
			progressed, err := h.step(ctx)
			if err != nil {
				p.logger.Printf("[Deliverer] Exiting: %v", err)
				return err
			}
			if !progressed {
				break
			}
		}
	}
}

// step processes at most one queued message and reports whether it did.
// In loopback mode a produced response is appended to the queue before the
// lock is released; with a transport it is delivered after.
func (h *Handler) step(ctx context.Context) (bool, error) {
	p := h.p

	if err := p.mu.LockTimeout(h.cfg.LockTimeout); err != nil {
		h.recordLockTimeout("deliver")
		return false, nil
	}

	if p.agent == nil || p.server == nil {
		h.unlock()
		return false, newError(KindInitialization, "deliver", ErrWorkerMisconfigured)
	}

	if len(p.queue) == 0 {
		h.unlock()
		return false, nil
	}

	msg := p.queue[0]
	p.queue[0] = ""
	p.queue = p.queue[1:]

	out, err := dispatch(ctx, msg, p.agent, p.server, h.cfg.EnableMetrics)
	if err != nil {
		p.logger.Printf("[Deliverer] Dropping message: %v", err)
		out = ""
	}

	loopback := h.cfg.Transport == nil
	if out != "" && loopback {
		p.queue = append(p.queue, out)
	}
	depth := len(p.queue)
	h.depth.Store(int64(depth))
	h.unlock()

	if h.cfg.EnableMetrics {
		observability.SetQueueDepth(depth)
	}

	if out != "" && !loopback {
		h.forward(ctx, out)
	}
	return true, nil
}

func (h *Handler) forward(ctx context.Context, payload string) {
	status := "ok"
	if err := h.cfg.Transport.Deliver(ctx, payload); err != nil {
		status = "error"
		h.p.logger.Printf("[Deliverer] Transport delivery failed: %v", err)
	}
	if h.cfg.EnableMetrics {
		observability.RecordDelivery(status)
	}
}

// pump moves inbound payloads from recv into the queue until the handler
// stops or the transport closes.
func (h *Handler) pump(ctx context.Context, recv transport.Receiver) error {
	p := h.p

	for {
		select {
		case <-p.stop.Done():
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		payload, err := recv.Receive(ctx, h.cfg.PollInterval)
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrNoMessage):
			continue
		case errors.Is(err, transport.ErrClosed):
			p.logger.Printf("[Deliverer] Inbound transport closed")
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			p.logger.Printf("[Deliverer] Receive failed: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(h.cfg.PollInterval):
			}
			continue
		}

		if err := h.enqueue(ctx, "inbound", payload); err != nil {
			p.logger.Printf("[Deliverer] Dropping inbound message: %v", err)
		}
	}
}
