package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthStatus is the rolled-up state of the communication path
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck checks one component of the communication path. The detail it
// returns is reported whether or not the check fails.
type HealthCheck struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Run      func(ctx context.Context) (detail string, err error)
}

// ComponentStatus is the outcome of one check
type ComponentStatus struct {
	Status   HealthStatus `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Error    string       `json:"error,omitempty"`
	Duration string       `json:"duration"`
}

// Report is served by /health and /health/ready
type Report struct {
	Status     HealthStatus               `json:"status"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
	QueueDepth int                        `json:"queue_depth"`
	Components map[string]ComponentStatus `json:"components"`
}

// HealthChecker runs the registered checks on demand
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]HealthCheck
	depth  func() int
}

var (
	globalChecker  *HealthChecker
	startTime      = time.Now()
	version        = "dev"
	initHealthOnce sync.Once
)

// NewHealthChecker creates a checker with no checks
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]HealthCheck)}
}

// InitHealthChecker initializes the checker served by the HTTP endpoints
func InitHealthChecker() *HealthChecker {
	initHealthOnce.Do(func() {
		globalChecker = NewHealthChecker()
	})
	return globalChecker
}

// GetHealthChecker returns the checker served by the HTTP endpoints
func GetHealthChecker() *HealthChecker {
	return InitHealthChecker()
}

// SetVersion sets the version reported by health responses
func SetVersion(v string) {
	version = v
}

// Register adds or replaces a check
func (hc *HealthChecker) Register(check HealthCheck) {
	if check.Timeout == 0 {
		check.Timeout = 5 * time.Second
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[check.Name] = check
}

// TrackQueue makes reports include the depth returned by depth.
func (hc *HealthChecker) TrackQueue(depth func() int) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.depth = depth
}

// Check runs every check concurrently and rolls the results up. A failing
// critical check makes the report unhealthy; any other failure degrades it.
func (hc *HealthChecker) Check(ctx context.Context) Report {
	hc.mu.RLock()
	checks := make([]HealthCheck, 0, len(hc.checks))
	for _, c := range hc.checks {
		checks = append(checks, c)
	}
	depth := hc.depth
	hc.mu.RUnlock()

	var (
		mu      sync.Mutex
		g       errgroup.Group
		results = make(map[string]ComponentStatus, len(checks))
		overall = HealthStatusHealthy
	)
	for _, c := range checks {
		g.Go(func() error {
			status := runCheck(ctx, c)

			mu.Lock()
			defer mu.Unlock()
			results[c.Name] = status
			switch {
			case status.Status == HealthStatusUnhealthy:
				overall = HealthStatusUnhealthy
			case status.Status == HealthStatusDegraded && overall == HealthStatusHealthy:
				overall = HealthStatusDegraded
			}
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Status:     overall,
		Version:    version,
		Uptime:     time.Since(startTime).Round(time.Second).String(),
		Components: results,
	}
	if depth != nil {
		report.QueueDepth = depth()
	}
	return report
}

func runCheck(ctx context.Context, check HealthCheck) ComponentStatus {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	type outcome struct {
		detail string
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		detail, err := check.Run(ctx)
		ch <- outcome{detail, err}
	}()

	var o outcome
	select {
	case o = <-ch:
	case <-ctx.Done():
		o.err = ctx.Err()
	}

	status := ComponentStatus{
		Status:   HealthStatusHealthy,
		Detail:   o.detail,
		Duration: time.Since(start).String(),
	}
	if o.err != nil {
		status.Status = HealthStatusDegraded
		if check.Critical {
			status.Status = HealthStatusUnhealthy
		}
		status.Error = o.err.Error()
	}
	return status
}

// HealthHandler serves the full report. Degraded still answers 200.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := GetHealthChecker().Check(r.Context())
		code := http.StatusOK
		if report.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

// ReadinessHandler answers 200 only while every check passes
func ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := GetHealthChecker().Check(r.Context())
		code := http.StatusOK
		if report.Status != HealthStatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

// LivenessHandler answers 200 while the process is serving HTTP
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ServerCheck reports whether the shared DRM server can be acquired.
// acquire returns the server id on success.
func ServerCheck(acquire func(context.Context) (string, error)) HealthCheck {
	return HealthCheck{
		Name:     "drm_server",
		Critical: true,
		Run: func(ctx context.Context) (string, error) {
			id, err := acquire(ctx)
			if err != nil {
				return "", err
			}
			return "server " + id, nil
		},
	}
}

// HandlerCheck reports whether the delivery worker is running and how much
// work it has queued.
func HandlerCheck(healthy func() error, pending func() int) HealthCheck {
	return HealthCheck{
		Name:     "comm_handler",
		Critical: true,
		Timeout:  time.Second,
		Run: func(ctx context.Context) (string, error) {
			return fmt.Sprintf("%d queued", pending()), healthy()
		},
	}
}

// TransportCheck reports the backlog of an outbound transport. Transport
// failures degrade the report but never make it unhealthy.
func TransportCheck(name string, backlog func(context.Context) (int64, error)) HealthCheck {
	return HealthCheck{
		Name:    "transport_" + name,
		Timeout: 2 * time.Second,
		Run: func(ctx context.Context) (string, error) {
			n, err := backlog(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d awaiting pickup", n), nil
		},
	}
}
