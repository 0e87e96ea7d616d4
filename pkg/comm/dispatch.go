package comm

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aixgo-dev/drmcomm/internal/observability"
	metrics "github.com/aixgo-dev/drmcomm/pkg/observability"
	"github.com/aixgo-dev/drmcomm/pkg/roap"
)

// Dispatch decodes one queued message and routes it by root element name.
// Requests go to server and their serialized response is returned; responses
// go to agent and produce no output. Every failure, including a panic inside
// a handler, is returned as a protocol *Error.
//
// Dispatch always records dispatch metrics. The delivery worker of a handler
// built with WithMetrics(false) does not.
func Dispatch(ctx context.Context, in string, agent Agent, server Server) (string, error) {
	return dispatch(ctx, in, agent, server, true)
}

func dispatch(ctx context.Context, in string, agent Agent, server Server, record bool) (out string, err error) {
	const op = "Dispatch"

	if agent == nil || server == nil {
		return "", newError(KindProtocol, op, ErrMissingParticipant)
	}

	doc, err := roap.DecodeDocument(in)
	if err != nil {
		if record {
			metrics.RecordDispatch("invalid", "error", 0)
		}
		return "", newError(KindProtocol, op, err)
	}
	root := doc.RootElement()
	tag := root.Name()

	ctx, span := observability.StartSpanWithOtel(ctx, "roap.dispatch")
	span.SetAttributes(attribute.String("roap.type", tag))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			out, err = "", newError(KindProtocol, op, fmt.Errorf("%s handler panicked: %v", tag, r))
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if record {
			metrics.RecordDispatch(metricType(tag), outcome, time.Since(start))
		}
		span.End()
	}()

	out, err = route(ctx, root, agent, server)
	if err != nil {
		return "", newError(KindProtocol, op, err)
	}
	return out, nil
}

func route(ctx context.Context, root *roap.Element, agent Agent, server Server) (string, error) {
	switch root.Name() {
	case roap.TagAddContentKeyRequest:
		req, err := roap.ParseAddContentKeyRequest(root)
		if err != nil {
			return "", err
		}
		resp := server.HandleAddContentKeyRequest(ctx, req)
		if resp == nil {
			return "", fmt.Errorf("%s: %w", root.Name(), ErrNilResponse)
		}
		return resp.Encode()

	case roap.TagAddContentKeyResponse:
		resp, err := roap.ParseAddContentKeyResponse(root)
		if err != nil {
			return "", err
		}
		agent.HandleAddContentKeyResponse(ctx, resp)
		return "", nil

	case roap.TagAddDeviceRightsRequest:
		req, err := roap.ParseAddDeviceRightsRequest(root)
		if err != nil {
			return "", err
		}
		resp := server.HandleAddDeviceRightsRequest(ctx, req)
		if resp == nil {
			return "", fmt.Errorf("%s: %w", root.Name(), ErrNilResponse)
		}
		return resp.Encode()

	case roap.TagAddDeviceRightsResponse:
		resp, err := roap.ParseAddDeviceRightsResponse(root)
		if err != nil {
			return "", err
		}
		agent.HandleAddDeviceRightsResponse(ctx, resp)
		return "", nil

	default:
		return "", fmt.Errorf("%q: %w", root.Name(), ErrUnknownMessageType)
	}
}

// metricType keeps label cardinality bounded for unknown tags.
func metricType(tag string) string {
	switch tag {
	case roap.TagAddContentKeyRequest, roap.TagAddContentKeyResponse,
		roap.TagAddDeviceRightsRequest, roap.TagAddDeviceRightsResponse:
		return tag
	default:
		return "unknown"
	}
}
