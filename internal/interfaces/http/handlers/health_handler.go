package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	prommetrics "github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// HealthChecker is a component that can report its health.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

type checkFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (c checkFunc) Name() string                    { return c.name }
func (c checkFunc) Check(ctx context.Context) error { return c.fn(ctx) }

// NamedCheck adapts fn into a HealthChecker.
func NamedCheck(name string, fn func(ctx context.Context) error) HealthChecker {
	return checkFunc{name: name, fn: fn}
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	checkers []HealthChecker
	version  string
	startAt  time.Time
	metrics  *prommetrics.AppMetrics
	timeout  time.Duration
}

// NewHealthHandler creates a HealthHandler.  metrics may be nil.
func NewHealthHandler(version string, metrics *prommetrics.AppMetrics, checkers ...HealthChecker) *HealthHandler {
	if metrics == nil {
		metrics = prommetrics.NewAppMetrics(nil)
	}
	return &HealthHandler{
		checkers: checkers,
		version:  version,
		startAt:  time.Now(),
		metrics:  metrics,
		timeout:  5 * time.Second,
	}
}

// LivenessResponse is the liveness probe body.
type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// Liveness handles GET /health and /healthz.  It never checks dependencies.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:  "healthy",
		Version: h.version,
		Uptime:  time.Since(h.startAt).Truncate(time.Second).String(),
	})
}

// Readiness handles GET /readyz: 200 when every checker passes, 503 otherwise.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	components := h.checkAll(ctx)
	resp := common.Readiness{Status: "ready", Components: components}
	code := http.StatusOK
	for _, c := range components {
		if c.Status != common.HealthUp {
			resp.Status, code = "not_ready", http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, resp)
}

// checkAll runs every checker concurrently.  Results are ordered by name.
func (h *HealthHandler) checkAll(ctx context.Context) []common.ComponentHealth {
	results := make([]common.ComponentHealth, len(h.checkers))
	var g errgroup.Group
	for i, checker := range h.checkers {
		i, checker := i, checker
		g.Go(func() error {
			start := time.Now()
			err := checker.Check(ctx)
			ch := common.ComponentHealth{
				Name:    checker.Name(),
				Status:  common.HealthUp,
				Latency: time.Since(start),
			}
			if err != nil {
				ch.Status, ch.Message = common.HealthDown, err.Error()
			}
			h.metrics.RecordHealth(ch.Name, err == nil)
			results[i] = ch
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(results, func(a, b int) bool { return results[a].Name < results[b].Name })
	return results
}

//Personal.AI order the ending
