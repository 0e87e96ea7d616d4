package comm

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/drmcomm/pkg/observability"
	"github.com/aixgo-dev/drmcomm/pkg/roap"
)

// counterValue sums the counter name over every series carrying labels.
func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			for k, v := range labels {
				found := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == k && lp.GetValue() == v {
						found = true
						break
					}
				}
				if !found {
					continue series
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestMetricsDisabled(t *testing.T) {
	observability.InitMetrics()
	acquired := map[string]string{"status": "ok"}
	dispatched := map[string]string{"type": roap.TagAddContentKeyRequest}

	beforeAcquired := counterValue(t, "drmcomm_server_acquisitions_total", acquired)
	beforeDispatched := counterValue(t, "drmcomm_messages_dispatched_total", dispatched)

	srv := &stubServer{}
	shared := NewSharedServer(func(ctx context.Context) (Server, error) {
		return srv, nil
	}, discard, WithServerMetrics(false))

	h, err := New(context.Background(), shared,
		WithLogger(discard),
		WithMetrics(false),
		WithPollInterval(10*time.Millisecond),
	)
	require.NoError(t, err)
	agent := newRecordingAgent()
	require.NoError(t, h.Run(agent))

	req := roap.NewAddContentKeyRequest("content-1", "a2V5")
	require.NoError(t, h.SendAddContentKeyRequest(context.Background(), req))
	assert.Equal(t, req.TransactionID, waitFor(t, agent.ch))
	require.NoError(t, h.Close(context.Background()))

	assert.Equal(t, beforeAcquired, counterValue(t, "drmcomm_server_acquisitions_total", acquired))
	assert.Equal(t, beforeDispatched, counterValue(t, "drmcomm_messages_dispatched_total", dispatched))

	// Direct calls to Dispatch are always counted.
	_, err = Dispatch(context.Background(), mustEncode(roap.NewAddContentKeyRequest("content-2", "a2V5")), newRecordingAgent(), srv)
	require.NoError(t, err)
	assert.Equal(t, beforeDispatched+1, counterValue(t, "drmcomm_messages_dispatched_total", dispatched))
}
