package prometheus

import (
	"strconv"
	"time"
)

// AppMetrics holds every metric family OptiFlow records.
type AppMetrics struct {
	// HTTP layer
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPActiveRequests  GaugeVec

	// Solving
	SolvesTotal    CounterVec
	SolveDuration  HistogramVec
	SolveModelSize HistogramVec

	// Model store
	StoreOperationsTotal CounterVec
	StoreSweptTotal      CounterVec

	// Events and archive
	EventsPublishedTotal CounterVec
	ResultsArchivedTotal CounterVec

	// Health
	HealthCheckStatus GaugeVec
	ErrorsTotal       CounterVec
}

// Bucket layouts.
var (
	DefaultHTTPDurationBuckets  = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultSolveDurationBuckets = []float64{.001, .01, .05, .1, .5, 1, 5, 15, 30, 60, 120}
	DefaultModelSizeBuckets     = []float64{1, 10, 50, 100, 500, 1000, 5000, 20000}
)

// NewAppMetrics registers every family on collector.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	if collector == nil {
		collector = NewNoopCollector()
	}
	return &AppMetrics{
		HTTPRequestsTotal:   collector.RegisterCounter("http_requests_total", "HTTP requests", "method", "route", "status_code"),
		HTTPRequestDuration: collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "route"),
		HTTPActiveRequests:  collector.RegisterGauge("http_active_requests", "In-flight HTTP requests", "method"),

		SolvesTotal:    collector.RegisterCounter("solves_total", "Solves by problem type and outcome status", "problem_type", "status"),
		SolveDuration:  collector.RegisterHistogram("solve_duration_seconds", "End-to-end solve duration", DefaultSolveDurationBuckets, "problem_type"),
		SolveModelSize: collector.RegisterHistogram("solve_model_variables", "Decision variables per compiled model", DefaultModelSizeBuckets, "problem_type"),

		StoreOperationsTotal: collector.RegisterCounter("model_store_operations_total", "Model store operations", "backend", "operation", "result"),
		StoreSweptTotal:      collector.RegisterCounter("model_store_swept_total", "Expired models removed by sweeps", "backend"),

		EventsPublishedTotal: collector.RegisterCounter("events_published_total", "Solve events published", "topic", "result"),
		ResultsArchivedTotal: collector.RegisterCounter("results_archived_total", "Solve results written to the archive", "result"),

		HealthCheckStatus: collector.RegisterGauge("health_check_status", "Component health (1=up, 0=down)", "component"),
		ErrorsTotal:       collector.RegisterCounter("errors_total", "Errors by component and code", "component", "code"),
	}
}

// RecordHTTPRequest records one finished request.
func (m *AppMetrics) RecordHTTPRequest(method, route string, statusCode int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordSolve records one dispatched solve.
func (m *AppMetrics) RecordSolve(problemType, status string, d time.Duration) {
	m.SolvesTotal.WithLabelValues(problemType, status).Inc()
	m.SolveDuration.WithLabelValues(problemType).Observe(d.Seconds())
}

// RecordStoreOp records a model store call.
func (m *AppMetrics) RecordStoreOp(backend, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.StoreOperationsTotal.WithLabelValues(backend, op, result).Inc()
}

// RecordSwept counts entries removed by an expiry sweep.
func (m *AppMetrics) RecordSwept(backend string, n int) {
	if n > 0 {
		m.StoreSweptTotal.WithLabelValues(backend).Add(float64(n))
	}
}

// RecordModelSize observes the variable count of a compiled model.
func (m *AppMetrics) RecordModelSize(problemType string, variables int) {
	m.SolveModelSize.WithLabelValues(problemType).Observe(float64(variables))
}

// RecordEvent counts one publish attempt.
func (m *AppMetrics) RecordEvent(topic string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EventsPublishedTotal.WithLabelValues(topic, result).Inc()
}

// RecordArchive counts one archive write.
func (m *AppMetrics) RecordArchive(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ResultsArchivedTotal.WithLabelValues(result).Inc()
}

// RecordHealth sets a component's health gauge.
func (m *AppMetrics) RecordHealth(component string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.HealthCheckStatus.WithLabelValues(component).Set(v)
}

// RecordError counts an error by component and error code.
func (m *AppMetrics) RecordError(component, code string) {
	m.ErrorsTotal.WithLabelValues(component, code).Inc()
}

//Personal.AI order the ending
