package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordMetrics(t *testing.T) {
	InitMetrics()
	InitMetrics() // idempotent

	RecordEnqueue("test", 3)
	RecordDispatch("addContentKeyRequest", "ok", 5*time.Millisecond)
	RecordEnqueueFailure("send", "closed")
	RecordLockTimeout("deliver")
	RecordDelivery("ok")
	RecordServerAcquisition("ok")
	RecordRightsPurged(2)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `drmcomm_messages_enqueued_total{source="test"}`)
	assert.Contains(t, body, "drmcomm_queue_depth 3")
	assert.Contains(t, body, `drmcomm_messages_dispatched_total{outcome="ok",type="addContentKeyRequest"}`)
	assert.Contains(t, body, "drmcomm_rights_purged_total")

	SetQueueDepth(0)
}

func TestServerEndpoints(t *testing.T) {
	InitMetrics()
	checker := InitHealthChecker()
	checker.Register(ServerCheck(func(ctx context.Context) (string, error) {
		return "drm-test", nil
	}))
	checker.TrackQueue(func() int { return 4 })

	srv := httptest.NewServer(NewServer(":0").Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var report Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, HealthStatusHealthy, report.Status)
	assert.Equal(t, 4, report.QueueDepth)
	assert.Equal(t, "server drm-test", report.Components["drm_server"].Detail)
}

func TestHealthCheckStatus(t *testing.T) {
	hc := NewHealthChecker()
	queued := 2

	hc.Register(HandlerCheck(func() error { return nil }, func() int { return queued }))
	res := hc.Check(context.Background())
	assert.Equal(t, HealthStatusHealthy, res.Status)
	assert.Equal(t, "2 queued", res.Components["comm_handler"].Detail)
	assert.Zero(t, res.QueueDepth)

	hc.Register(TransportCheck("redis", func(ctx context.Context) (int64, error) {
		return 0, errors.New("connection refused")
	}))
	res = hc.Check(context.Background())
	assert.Equal(t, HealthStatusDegraded, res.Status)
	assert.Equal(t, "connection refused", res.Components["transport_redis"].Error)

	hc.Register(ServerCheck(func(ctx context.Context) (string, error) {
		return "", errors.New("no server")
	}))
	res = hc.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, res.Status)
	assert.True(t, strings.Contains(res.Components["drm_server"].Error, "no server"))
}

func TestHealthCheckTimeout(t *testing.T) {
	hc := NewHealthChecker()
	hc.Register(HealthCheck{
		Name:     "slow",
		Critical: true,
		Timeout:  20 * time.Millisecond,
		Run: func(ctx context.Context) (string, error) {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return "late", nil
		},
	})

	res := hc.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, res.Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), res.Components["slow"].Error)
}

func TestReadinessNotReady(t *testing.T) {
	checker := InitHealthChecker()
	checker.Register(HandlerCheck(func() error { return errors.New("handler is stopped") }, func() int { return 0 }))
	t.Cleanup(func() {
		checker.Register(HandlerCheck(func() error { return nil }, func() int { return 0 }))
	})

	rec := httptest.NewRecorder()
	ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, "handler is stopped", report.Components["comm_handler"].Error)
}
