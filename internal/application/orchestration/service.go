package orchestration

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/uuid"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/internal/domain/routing"
	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// ─────────────────────────────────────────────────────────────────────────────
// Request / Result
// ─────────────────────────────────────────────────────────────────────────────

// Request is a solve or build call.  An empty Type selects the generic
// model definition path.  Payload is the whole request body; the flow
// ignores the "type" key.
type Request struct {
	Type    string
	Payload json.RawMessage
}

// NewRequest reads the "type" key out of body.
func NewRequest(body []byte) (Request, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return Request{}, errors.Validation("malformed request").WithCause(err).WithDetail(err.Error())
	}
	return Request{Type: head.Type, Payload: body}, nil
}

// Result is the answer of every solve.  Solution is the normalized domain
// structure, or the raw variable values on the generic path, and is nil
// unless Status is OPTIMAL or FEASIBLE.
type Result struct {
	Type           string         `json:"type,omitempty"`
	ModelID        string         `json:"model_id,omitempty"`
	Status         model.Status   `json:"status"`
	Solution       any            `json:"solution,omitempty"`
	ObjectiveValue *float64       `json:"objective_value,omitempty"`
	SolveTime      float64        `json:"solve_time"`
	Iterations     int            `json:"iterations,omitempty"`
	Diagnostics    map[string]any `json:"diagnostics,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Service interface
// ─────────────────────────────────────────────────────────────────────────────

// LinearCapability solves canonical models.  SolveStrict turns INFEASIBLE,
// UNBOUNDED and FAILED into errors.
type LinearCapability interface {
	Solve(ctx context.Context, m *model.Model) (*model.Solution, error)
	SolveStrict(ctx context.Context, m *model.Model) (*model.Solution, error)
}

// Service is the orchestration entry point used by every interface layer.
type Service interface {
	Solve(ctx context.Context, req Request) (*Result, error)
	SolvePath(ctx context.Context, path string, payload json.RawMessage) (*Result, error)
	Build(ctx context.Context, req Request) (*common.BuildResponse, error)
	Run(ctx context.Context, id string, overrides map[string]any) (*Result, error)
	Delete(ctx context.Context, id string) error
	Flows() []common.FlowInfo
	OpenAPI() *openapi3.T
	Ping(ctx context.Context) error
	Close() error
}

// ServiceConfig holds the collaborators of a Service.
type ServiceConfig struct {
	Registry *Registry
	Store    model.Store
	LP       LinearCapability
	MIP      LinearCapability // defaults to LP
	Router   routing.Capability
	Metrics  *SolveMetrics
	Events   EventPublisher
	Archive  ResultArchiver
	Logger   logging.Logger
	Version  string

	// EventTimeout bounds one asynchronous publish or archive write.
	EventTimeout time.Duration
}

type serviceImpl struct {
	registry *Registry
	store    model.Store
	lp       LinearCapability
	mip      LinearCapability
	router   routing.Capability
	metrics  *SolveMetrics
	events   EventPublisher
	archive  ResultArchiver
	logger   logging.Logger

	catalog      []common.FlowInfo
	doc          *openapi3.T
	eventTimeout time.Duration
	pending      sync.WaitGroup
}

// NewService validates cfg and builds the flow catalog.
func NewService(cfg ServiceConfig) (Service, error) {
	if cfg.Registry == nil {
		return nil, errors.Validation("orchestration service requires a registry")
	}
	if cfg.Store == nil {
		return nil, errors.Validation("orchestration service requires a model store")
	}
	if cfg.LP == nil {
		return nil, errors.Validation("orchestration service requires a linear capability")
	}
	if cfg.MIP == nil {
		cfg.MIP = cfg.LP
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewSolveMetrics(nil, "")
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 5 * time.Second
	}
	logger := logging.OrNop(cfg.Logger).Named("orchestration")
	flows := cfg.Registry.Flows()
	return &serviceImpl{
		registry:     cfg.Registry,
		store:        cfg.Store,
		lp:           cfg.LP,
		mip:          cfg.MIP,
		router:       cfg.Router,
		metrics:      cfg.Metrics,
		events:       cfg.Events,
		archive:      cfg.Archive,
		logger:       logger,
		catalog:      describeFlows(flows, logger),
		doc:          openAPIDocument(flows, cfg.Version, logger),
		eventTimeout: cfg.EventTimeout,
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Solve
// ─────────────────────────────────────────────────────────────────────────────

func (s *serviceImpl) Solve(ctx context.Context, req Request) (*Result, error) {
	key := req.Type
	if key == "" {
		key = KeyLP
	}
	f, err := s.registry.Lookup(key)
	if err != nil {
		s.metrics.failure(string(errors.GetCode(err)))
		return nil, err
	}
	return s.solveFlow(ctx, f, req.Payload)
}

func (s *serviceImpl) SolvePath(ctx context.Context, path string, payload json.RawMessage) (*Result, error) {
	f, err := s.registry.LookupPath(path)
	if err != nil {
		s.metrics.failure(string(errors.GetCode(err)))
		return nil, err
	}
	return s.solveFlow(ctx, f, payload)
}

func (s *serviceImpl) solveFlow(ctx context.Context, f *Flow, payload json.RawMessage) (res *Result, err error) {
	start := time.Now()
	defer func() { s.finish(f.Key, "", start, res, err) }()

	switch {
	case f.Kind == KindDirect:
		out, err := f.direct(ctx, s.router, payload)
		if err != nil {
			return nil, annotate(f.Key, err)
		}
		return &Result{
			Type:        f.Key,
			Status:      out.Status,
			Solution:    out.Solution,
			SolveTime:   time.Since(start).Seconds(),
			Diagnostics: map[string]any{"flow": KindDirect.String()},
		}, nil
	default:
		m, err := f.build(payload)
		if err != nil {
			return nil, annotate(f.Key, err)
		}
		res, err := s.solveModel(ctx, f, m)
		if err != nil {
			return nil, annotate(f.Key, err)
		}
		return res, nil
	}
}

// solveModel runs m through the linear capability.  The generic path is
// strict; domain flows report the status and normalize the solution.
func (s *serviceImpl) solveModel(ctx context.Context, f *Flow, m *model.Model) (*Result, error) {
	capability, name := s.lp, KeyLP
	if m.HasIntegrality() {
		capability, name = s.mip, KeyMIP
	}
	s.metrics.modelSize(flowKey(f, name), len(m.Variables))
	diagnostics := map[string]any{
		"capability":  name,
		"variables":   len(m.Variables),
		"constraints": len(m.Constraints),
	}

	if f == nil || f.Generic() {
		sol, err := capability.SolveStrict(ctx, m)
		if err != nil {
			return nil, err
		}
		return &Result{
			Type:           flowKey(f, name),
			Status:         sol.Status,
			Solution:       sol.Values,
			ObjectiveValue: sol.ObjectiveValue,
			SolveTime:      sol.SolveTime,
			Iterations:     sol.Iterations,
			Diagnostics:    diagnostics,
		}, nil
	}

	sol, err := capability.Solve(ctx, m)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Type:           f.Key,
		Status:         sol.Status,
		ObjectiveValue: sol.ObjectiveValue,
		SolveTime:      sol.SolveTime,
		Iterations:     sol.Iterations,
		Diagnostics:    diagnostics,
	}
	if sol.Status.HasSolution() {
		if res.Solution, err = f.normalize(m.Metadata.Request, sol); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func flowKey(f *Flow, fallback string) string {
	if f == nil {
		return fallback
	}
	return f.Key
}

// annotate names the problem type on err while keeping its code.
func annotate(key string, err error) error {
	return errors.Wrap(err, errors.CodeUnknown, "problem type "+key)
}

// ─────────────────────────────────────────────────────────────────────────────
// Build / Run / Delete
// ─────────────────────────────────────────────────────────────────────────────

func (s *serviceImpl) Build(ctx context.Context, req Request) (*common.BuildResponse, error) {
	key := req.Type
	if key == "" {
		key = KeyLP
	}
	f, err := s.registry.Lookup(key)
	if err != nil {
		return nil, err
	}
	if f.Kind == KindDirect {
		return nil, errors.Validationf("problem type %s cannot be stored; solve it directly", key).
			WithDetail("field=type")
	}
	m, err := f.build(req.Payload)
	if err != nil {
		return nil, annotate(key, err)
	}
	id, err := s.store.Save(ctx, m)
	s.metrics.store("save", err)
	if err != nil {
		return nil, annotate(key, err)
	}
	s.logger.Info("model built", logging.Problem(key), logging.ModelID(id), logging.Int("variables", len(m.Variables)))
	return &common.BuildResponse{ModelID: id, Status: "built"}, nil
}

func (s *serviceImpl) Run(ctx context.Context, id string, overrides map[string]any) (res *Result, err error) {
	start := time.Now()
	key := ""
	defer func() { s.finish(key, id, start, res, err) }()

	removed, sweepErr := s.store.SweepExpired(ctx)
	s.metrics.store("sweep", sweepErr)
	s.metrics.swept(removed)
	if sweepErr != nil {
		s.logger.Warn("lazy sweep failed", logging.Err(sweepErr))
	}

	m, err := s.store.Get(ctx, id)
	s.metrics.store("get", err)
	if err != nil {
		return nil, err
	}
	m = m.WithParameters(overrides)

	var f *Flow
	if pt := m.Metadata.ProblemType; pt != "" {
		if f, err = s.registry.Lookup(pt); err != nil {
			return nil, err
		}
	}
	key = flowKey(f, KeyLP)
	res, err = s.solveModel(ctx, f, m)
	if err != nil {
		return nil, annotate(key, err)
	}
	res.ModelID = id
	return res, nil
}

func (s *serviceImpl) Delete(ctx context.Context, id string) error {
	err := s.store.Delete(ctx, id)
	s.metrics.store("delete", err)
	return err
}

// ─────────────────────────────────────────────────────────────────────────────
// Discovery, health, shutdown
// ─────────────────────────────────────────────────────────────────────────────

func (s *serviceImpl) Flows() []common.FlowInfo {
	out := make([]common.FlowInfo, len(s.catalog))
	copy(out, s.catalog)
	return out
}

func (s *serviceImpl) OpenAPI() *openapi3.T { return s.doc }

type pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks the model store when it supports a health check.
func (s *serviceImpl) Ping(ctx context.Context) error {
	if p, ok := s.store.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close waits for in-flight event publishes.
func (s *serviceImpl) Close() error {
	s.pending.Wait()
	return nil
}

// finish records metrics and emits the solve event.
func (s *serviceImpl) finish(key, modelID string, start time.Time, res *Result, err error) {
	elapsed := time.Since(start)
	if key == "" {
		key = "unknown"
	}
	ev := common.SolveEvent{
		RequestID:   uuid.NewString(),
		ProblemType: key,
		ModelID:     modelID,
		DurationMs:  elapsed.Milliseconds(),
		CompletedAt: time.Now().UTC(),
	}
	if err != nil {
		code := string(errors.GetCode(err))
		ev.Status, ev.ErrorCode = "ERROR", code
		s.metrics.failure(code)
		s.logger.Warn("solve failed", logging.Problem(key), logging.Duration("elapsed", elapsed), logging.Err(err))
	} else {
		ev.Status, ev.ObjectiveValue = string(res.Status), res.ObjectiveValue
		s.logger.Info("solve finished", logging.Problem(key),
			logging.String("status", ev.Status), logging.Duration("elapsed", elapsed))
	}
	s.metrics.solve(key, ev.Status, elapsed)
	s.publish(ev)
	if err == nil {
		s.archiveResult(ev, res)
	}
}

func (s *serviceImpl) publish(ev common.SolveEvent) {
	if s.events == nil {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.eventTimeout)
		defer cancel()
		err := s.events.PublishSolveCompleted(ctx, ev)
		s.metrics.event(s.events.Topic(), err)
		if err != nil {
			s.logger.Warn("solve event not published", logging.Problem(ev.ProblemType), logging.Err(err))
		}
	}()
}

// archiveResult hands a successful result to the archive.
func (s *serviceImpl) archiveResult(ev common.SolveEvent, res *Result) {
	if s.archive == nil || res == nil {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.eventTimeout)
		defer cancel()
		location, err := s.archive.Archive(ctx, ev, res)
		s.metrics.archived(err)
		if err != nil {
			s.logger.Warn("result not archived", logging.Problem(ev.ProblemType), logging.Err(err))
			return
		}
		s.logger.Debug("result archived", logging.Problem(ev.ProblemType), logging.String("location", location))
	}()
}
