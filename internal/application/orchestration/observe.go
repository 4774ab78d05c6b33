package orchestration

import (
	"context"
	"time"

	prommetrics "github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// EventPublisher receives one event per finished solve.
type EventPublisher interface {
	PublishSolveCompleted(ctx context.Context, ev common.SolveEvent) error
	Topic() string
}

// ResultArchiver keeps a durable copy of each successful solve.  It returns
// the location the copy was written to.
type ResultArchiver interface {
	Archive(ctx context.Context, ev common.SolveEvent, result any) (string, error)
}

// SolveMetrics records solve and store activity.
type SolveMetrics struct {
	app     *prommetrics.AppMetrics
	backend string
}

// NewSolveMetrics records onto app, labelling store metrics with backend.
// A nil app records nothing.
func NewSolveMetrics(app *prommetrics.AppMetrics, backend string) *SolveMetrics {
	if app == nil {
		app = prommetrics.NewAppMetrics(nil)
	}
	return &SolveMetrics{app: app, backend: backend}
}

func (m *SolveMetrics) solve(problemType string, status string, d time.Duration) {
	m.app.RecordSolve(problemType, status, d)
}

func (m *SolveMetrics) modelSize(problemType string, variables int) {
	m.app.RecordModelSize(problemType, variables)
}

func (m *SolveMetrics) store(op string, err error) {
	m.app.RecordStoreOp(m.backend, op, err)
}

func (m *SolveMetrics) swept(n int) {
	m.app.RecordSwept(m.backend, n)
}

func (m *SolveMetrics) event(topic string, err error) {
	m.app.RecordEvent(topic, err)
}

func (m *SolveMetrics) archived(err error) {
	m.app.RecordArchive(err)
}

func (m *SolveMetrics) failure(code string) {
	m.app.RecordError("orchestration", code)
}
