package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	messagesEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drmcomm_messages_enqueued_total",
			Help: "Total number of messages appended to the handler queue",
		},
		[]string{"source"},
	)

	enqueueFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drmcomm_enqueue_failures_total",
			Help: "Total number of rejected enqueue attempts",
		},
		[]string{"source", "reason"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drmcomm_queue_depth",
			Help: "Number of messages waiting in the handler queue",
		},
	)

	lockTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drmcomm_lock_timeouts_total",
			Help: "Total number of bounded lock acquisitions that expired",
		},
		[]string{"op"},
	)

	// Dispatch metrics
	messagesDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drmcomm_messages_dispatched_total",
			Help: "Total number of messages run through the protocol dispatcher",
		},
		[]string{"type", "outcome"},
	)

	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drmcomm_dispatch_duration_seconds",
			Help:    "Protocol dispatch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// Transport metrics
	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drmcomm_transport_deliveries_total",
			Help: "Total number of payloads handed to the outbound transport",
		},
		[]string{"status"},
	)

	// Shared server metrics
	serverAcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drmcomm_server_acquisitions_total",
			Help: "Total number of shared DRM server acquisitions",
		},
		[]string{"status"},
	)

	rightsPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drmcomm_rights_purged_total",
			Help: "Total number of expired rights objects removed",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the metrics with the default Prometheus registry
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			messagesEnqueuedTotal,
			enqueueFailuresTotal,
			queueDepth,
			lockTimeoutsTotal,
			messagesDispatchedTotal,
			dispatchDuration,
			deliveriesTotal,
			serverAcquisitionsTotal,
			rightsPurgedTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordEnqueue records a message appended to the queue
func RecordEnqueue(source string, depth int) {
	messagesEnqueuedTotal.WithLabelValues(source).Inc()
	queueDepth.Set(float64(depth))
}

// RecordEnqueueFailure records a rejected enqueue
func RecordEnqueueFailure(source, reason string) {
	enqueueFailuresTotal.WithLabelValues(source, reason).Inc()
}

// SetQueueDepth sets the queue depth gauge
func SetQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

// RecordLockTimeout records an expired bounded lock acquisition
func RecordLockTimeout(op string) {
	lockTimeoutsTotal.WithLabelValues(op).Inc()
}

// RecordDispatch records the outcome and latency of one dispatch
func RecordDispatch(msgType, outcome string, duration time.Duration) {
	messagesDispatchedTotal.WithLabelValues(msgType, outcome).Inc()
	dispatchDuration.WithLabelValues(msgType).Observe(duration.Seconds())
}

// RecordDelivery records an outbound transport delivery
func RecordDelivery(status string) {
	deliveriesTotal.WithLabelValues(status).Inc()
}

// RecordServerAcquisition records a shared server acquisition attempt
func RecordServerAcquisition(status string) {
	serverAcquisitionsTotal.WithLabelValues(status).Inc()
}

// RecordRightsPurged records removed rights objects
func RecordRightsPurged(n int) {
	rightsPurgedTotal.Add(float64(n))
}
