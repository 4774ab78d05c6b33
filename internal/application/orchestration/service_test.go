package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/OptiFlow/internal/domain/fleet"
	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/internal/domain/risk"
	"github.com/turtacn/OptiFlow/internal/domain/routing"
	"github.com/turtacn/OptiFlow/internal/infrastructure/database/memory"
	"github.com/turtacn/OptiFlow/internal/infrastructure/solver/lp"
	"github.com/turtacn/OptiFlow/internal/infrastructure/solver/vrp"
	"github.com/turtacn/OptiFlow/internal/testutil"
	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fixtures
// ─────────────────────────────────────────────────────────────────────────────

type recordingPublisher struct {
	mu     sync.Mutex
	events []common.SolveEvent
	err    error
}

func (p *recordingPublisher) PublishSolveCompleted(_ context.Context, ev common.SolveEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Topic() string { return "test.solve" }

func (p *recordingPublisher) Events() []common.SolveEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]common.SolveEvent(nil), p.events...)
}

type archivedResult struct {
	event  common.SolveEvent
	result *Result
}

type recordingArchive struct {
	mu      sync.Mutex
	results []archivedResult
	err     error
}

func (a *recordingArchive) Archive(_ context.Context, ev common.SolveEvent, result any) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.results = append(a.results, archivedResult{event: ev, result: result.(*Result)})
	return "results/" + ev.RequestID + ".json", nil
}

func (a *recordingArchive) Results() []archivedResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]archivedResult(nil), a.results...)
}

type harness struct {
	svc     Service
	store   *memory.Store
	clock   *testutil.FakeClock
	events  *recordingPublisher
	archive *recordingArchive
	logger  *testutil.MockLogger
}

func newHarness(t *testing.T, withRouter bool) *harness {
	t.Helper()
	reg, err := Catalog()
	require.NoError(t, err)

	clock := testutil.NewFakeClock()
	store := memory.NewStore(memory.WithClock(clock.Now))
	logger := testutil.NewMockLogger()
	h := &harness{store: store, clock: clock, events: &recordingPublisher{}, archive: &recordingArchive{}, logger: logger}

	cfg := ServiceConfig{
		Registry: reg,
		Store:    store,
		LP:       lp.NewSolver(lp.Config{}, nil),
		Events:   h.events,
		Archive:  h.archive,
		Logger:   logger,
		Version:  "test",
	}
	if withRouter {
		cfg.Router = vrp.NewSolver(nil)
	}
	h.svc, err = NewService(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.svc.Close() })
	return h
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

const productMix = `{
	"variables": [
		{"name": "x", "type": "continuous", "lower_bound": 0},
		{"name": "y", "type": "continuous", "lower_bound": 0}
	],
	"constraints": [
		{"name": "capacity", "expression": "x + y", "operator": "<=", "rhs": 4},
		{"name": "labor", "expression": "x + 3*y", "operator": "<=", "rhs": 6},
		{"name": "demand", "expression": "x", "operator": "<=", "rhs": 3}
	],
	"objective": {"type": "maximize", "expression": "3*x + 2*y"}
}`

const contradiction = `{
	"variables": [{"name": "x", "type": "continuous"}],
	"constraints": [
		{"name": "lo", "expression": "x", "operator": ">=", "rhs": 5},
		{"name": "hi", "expression": "x", "operator": "<=", "rhs": 3}
	],
	"objective": {"type": "minimize", "expression": "x"}
}`

const integerPacking = `{
	"variables": [
		{"name": "x", "type": "integer", "lower_bound": 0},
		{"name": "y", "type": "integer", "lower_bound": 0}
	],
	"constraints": [{"name": "room", "expression": "2*x + 2*y", "operator": "<=", "rhs": 5}],
	"objective": {"type": "maximize", "expression": "x + y"}
}`

func lineMatrix(n int) [][]float64 {
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
		for j := range d[i] {
			d[i][j] = float64(max(i-j, j-i))
		}
	}
	return d
}

func vapRequest() map[string]any {
	task := func(id, loc int) map[string]any {
		return map[string]any{"id": id, "duration": 1, "location": map[string]any{"id": loc, "latitude": 0, "longitude": 0}}
	}
	return map[string]any{
		"type":            "vap",
		"vehicles":        []map[string]any{{"id": 7, "capacity": 10}},
		"tasks":           []map[string]any{task(1, 1), task(2, 2), task(3, 3)},
		"distance_matrix": lineMatrix(4),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Construction
// ─────────────────────────────────────────────────────────────────────────────

func TestNewService_RequiresCollaborators(t *testing.T) {
	reg, err := Catalog()
	require.NoError(t, err)
	store := memory.NewStore()
	solver := lp.NewSolver(lp.Config{}, nil)

	for name, cfg := range map[string]ServiceConfig{
		"registry": {Store: store, LP: solver},
		"store":    {Registry: reg, LP: solver},
		"lp":       {Registry: reg, Store: store},
	} {
		_, err := NewService(cfg)
		assert.True(t, errors.IsValidation(err), name)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Generic path
// ─────────────────────────────────────────────────────────────────────────────

func TestSolve_GenericLinearProgram(t *testing.T) {
	h := newHarness(t, false)

	res, err := h.svc.Solve(context.Background(), Request{Type: KeyLP, Payload: json.RawMessage(productMix)})
	require.NoError(t, err)

	assert.Equal(t, model.StatusOptimal, res.Status)
	require.NotNil(t, res.ObjectiveValue)
	assert.InDelta(t, 11.0, *res.ObjectiveValue, 1e-6)
	values, ok := res.Solution.(map[string]float64)
	require.True(t, ok, "generic solutions are raw variable values")
	assert.InDelta(t, 3.0, values["x"], 1e-6)
	assert.InDelta(t, 1.0, values["y"], 1e-6)
	assert.Equal(t, "lp", res.Diagnostics["capability"])
	assert.Equal(t, 2, res.Diagnostics["variables"])
	assert.Equal(t, 3, res.Diagnostics["constraints"])
}

func TestSolve_EmptyTypeIsGeneric(t *testing.T) {
	h := newHarness(t, false)

	req, err := NewRequest([]byte(productMix))
	require.NoError(t, err)
	assert.Empty(t, req.Type)

	res, err := h.svc.Solve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, KeyLP, res.Type)
}

func TestSolve_IntegerModelUsesMIPCapability(t *testing.T) {
	h := newHarness(t, false)

	res, err := h.svc.Solve(context.Background(), Request{Type: KeyMIP, Payload: json.RawMessage(integerPacking)})
	require.NoError(t, err)
	assert.Equal(t, "mip", res.Diagnostics["capability"])
	require.NotNil(t, res.ObjectiveValue)
	assert.InDelta(t, 2.0, *res.ObjectiveValue, 1e-6)
}

func TestSolve_GenericInfeasibleIsAnError(t *testing.T) {
	h := newHarness(t, false)

	res, err := h.svc.Solve(context.Background(), Request{Type: KeyLP, Payload: json.RawMessage(contradiction)})
	assert.Nil(t, res)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInfeasible), "got %v", err)
	assert.Contains(t, err.Error(), "problem type lp")
}

func TestSolve_UnknownVariableInExpression(t *testing.T) {
	h := newHarness(t, false)
	body := `{"variables":[{"name":"x","type":"continuous"}],"constraints":[],
		"objective":{"type":"minimize","expression":"x + ghost"}}`

	_, err := h.svc.Solve(context.Background(), Request{Payload: json.RawMessage(body)})
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownVariable), "got %v", err)
}

func TestSolve_UnsupportedProblemType(t *testing.T) {
	h := newHarness(t, false)

	_, err := h.svc.Solve(context.Background(), Request{Type: "teleportation", Payload: json.RawMessage(`{}`)})
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnsupportedProblemType))

	_, err = h.svc.SolvePath(context.Background(), "teleportation", json.RawMessage(`{}`))
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnsupportedProblemType))
}

// ─────────────────────────────────────────────────────────────────────────────
// Domain flows
// ─────────────────────────────────────────────────────────────────────────────

func TestSolve_VehicleAssignmentIsNormalized(t *testing.T) {
	h := newHarness(t, false)

	res, err := h.svc.Solve(context.Background(), Request{Type: "vap", Payload: payload(t, vapRequest())})
	require.NoError(t, err)

	assert.Equal(t, "vap", res.Type)
	assert.Equal(t, model.StatusOptimal, res.Status)
	out, ok := res.Solution.(*fleet.VehicleAssignmentSolution)
	require.True(t, ok, "got %T", res.Solution)
	assert.Len(t, out.Assignments, 3)
	assert.InDelta(t, 6.0, out.TotalDistance, 1e-6)
}

func TestSolvePath_MatchesSolveByKey(t *testing.T) {
	h := newHarness(t, false)
	body := payload(t, vapRequest())

	byKey, err := h.svc.Solve(context.Background(), Request{Type: "vap", Payload: body})
	require.NoError(t, err)
	byPath, err := h.svc.SolvePath(context.Background(), "vehicle-assignment", body)
	require.NoError(t, err)

	assert.Equal(t, byKey.Status, byPath.Status)
	assert.Equal(t, byKey.ObjectiveValue, byPath.ObjectiveValue)
}

func TestSolve_ValidationNamesTheField(t *testing.T) {
	h := newHarness(t, false)
	req := vapRequest()
	delete(req, "vehicles")

	_, err := h.svc.Solve(context.Background(), Request{Type: "vap", Payload: payload(t, req)})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, "field=vehicles", errors.DetailOf(err))
}

func TestSolve_VehicleRoutingIsDirect(t *testing.T) {
	h := newHarness(t, true)
	body := payload(t, map[string]any{
		"type":            "vrp",
		"vehicles":        1,
		"depot":           0,
		"distance_matrix": lineMatrix(3),
	})

	res, err := h.svc.Solve(context.Background(), Request{Type: "vrp", Payload: body})
	require.NoError(t, err)

	assert.Equal(t, model.StatusFeasible, res.Status)
	assert.Equal(t, "direct", res.Diagnostics["flow"])
	out, ok := res.Solution.(*routing.Solution)
	require.True(t, ok, "got %T", res.Solution)
	assert.Empty(t, out.Unserved)
	assert.InDelta(t, 4.0, out.TotalDistance, 1e-6)
}

func TestSolve_RoutingWithoutCapability(t *testing.T) {
	h := newHarness(t, false)
	body := payload(t, map[string]any{"vehicles": 1, "distance_matrix": lineMatrix(2)})

	_, err := h.svc.Solve(context.Background(), Request{Type: "vrp", Payload: body})
	assert.True(t, errors.IsCode(err, errors.ErrCodeCapabilityFailure), "got %v", err)
}

func TestSolve_RiskSimulationReportsOptimal(t *testing.T) {
	h := newHarness(t, false)
	body := payload(t, map[string]any{
		"project_network": []map[string]any{
			{"id": 1, "duration": 2},
			{"id": 2, "duration": 3, "predecessors": []int{1}},
		},
		"num_simulations": 20,
		"seed":            3,
	})

	res, err := h.svc.Solve(context.Background(), Request{Type: "risk_simulation", Payload: body})
	require.NoError(t, err)
	assert.Equal(t, model.StatusOptimal, res.Status)
	out, ok := res.Solution.(*risk.SimulationSolution)
	require.True(t, ok, "got %T", res.Solution)
	assert.Equal(t, 20, out.Simulations)
}

// ─────────────────────────────────────────────────────────────────────────────
// Build / Run / Delete
// ─────────────────────────────────────────────────────────────────────────────

func TestBuildRunDelete_Generic(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	built, err := h.svc.Build(ctx, Request{Payload: json.RawMessage(productMix)})
	require.NoError(t, err)
	assert.Equal(t, "built", built.Status)
	assert.NotEmpty(t, built.ModelID)
	assert.Equal(t, 1, h.store.Len())

	res, err := h.svc.Run(ctx, built.ModelID, map[string]any{"time_limit": 5})
	require.NoError(t, err)
	assert.Equal(t, built.ModelID, res.ModelID)
	assert.Equal(t, model.StatusOptimal, res.Status)
	require.NotNil(t, res.ObjectiveValue)
	assert.InDelta(t, 11.0, *res.ObjectiveValue, 1e-6)

	// The same stored model runs again.
	_, err = h.svc.Run(ctx, built.ModelID, nil)
	require.NoError(t, err)

	require.NoError(t, h.svc.Delete(ctx, built.ModelID))
	_, err = h.svc.Run(ctx, built.ModelID, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeModelNotFound))

	// Deleting twice is fine.
	assert.NoError(t, h.svc.Delete(ctx, built.ModelID))
}

func TestRun_DomainModelIsNormalized(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	built, err := h.svc.Build(ctx, Request{Type: "vap", Payload: payload(t, vapRequest())})
	require.NoError(t, err)

	res, err := h.svc.Run(ctx, built.ModelID, nil)
	require.NoError(t, err)
	assert.Equal(t, "vap", res.Type)
	_, ok := res.Solution.(*fleet.VehicleAssignmentSolution)
	assert.True(t, ok, "got %T", res.Solution)
}

func TestRun_ExpiredModelIsNotFound(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	built, err := h.svc.Build(ctx, Request{Payload: json.RawMessage(productMix)})
	require.NoError(t, err)

	h.clock.Advance(model.DefaultTTL + time.Second)
	_, err = h.svc.Run(ctx, built.ModelID, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeModelNotFound))
	assert.Zero(t, h.store.Len(), "run sweeps expired entries first")
}

func TestRun_UnknownModel(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.svc.Run(context.Background(), "missing", nil)
	assert.True(t, errors.IsNotFound(err))
}

func TestBuild_DirectFlowsCannotBeStored(t *testing.T) {
	h := newHarness(t, true)
	body := payload(t, map[string]any{"vehicles": 1, "distance_matrix": lineMatrix(2)})

	_, err := h.svc.Build(context.Background(), Request{Type: "vrp", Payload: body})
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, "field=type", errors.DetailOf(err))
	assert.Zero(t, h.store.Len())
}

func TestBuild_InvalidPayloadStoresNothing(t *testing.T) {
	h := newHarness(t, false)

	_, err := h.svc.Build(context.Background(), Request{Type: "vap", Payload: json.RawMessage(`{"vehicles": "many"}`)})
	assert.True(t, errors.IsValidation(err))
	assert.Zero(t, h.store.Len())
}

// ─────────────────────────────────────────────────────────────────────────────
// Events and logging
// ─────────────────────────────────────────────────────────────────────────────

func TestSolve_PublishesCompletionEvents(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	_, err := h.svc.Solve(ctx, Request{Type: KeyLP, Payload: json.RawMessage(productMix)})
	require.NoError(t, err)
	_, err = h.svc.Solve(ctx, Request{Type: KeyLP, Payload: json.RawMessage(contradiction)})
	require.Error(t, err)
	require.NoError(t, h.svc.Close())

	events := h.events.Events()
	require.Len(t, events, 2)
	byStatus := map[string]common.SolveEvent{}
	for _, ev := range events {
		assert.Equal(t, KeyLP, ev.ProblemType)
		assert.NotEmpty(t, ev.RequestID)
		byStatus[ev.Status] = ev
	}
	ok := byStatus[string(model.StatusOptimal)]
	require.NotNil(t, ok.ObjectiveValue)
	assert.InDelta(t, 11.0, *ok.ObjectiveValue, 1e-6)
	assert.Equal(t, string(errors.ErrCodeInfeasible), byStatus["ERROR"].ErrorCode)

	assert.True(t, h.logger.HasMessage("warn", "solve failed"))
	assert.True(t, h.logger.HasMessage("info", "solve finished"))
}

func TestSolve_PublishFailureIsOnlyLogged(t *testing.T) {
	h := newHarness(t, false)
	h.events.err = fmt.Errorf("broker down")

	_, err := h.svc.Solve(context.Background(), Request{Type: KeyLP, Payload: json.RawMessage(productMix)})
	require.NoError(t, err)
	require.NoError(t, h.svc.Close())

	entry, ok := h.logger.Find("warn", "solve event not published")
	require.True(t, ok)
	pt, _ := entry.Field("problem_type")
	assert.Equal(t, KeyLP, pt)
}

func TestRun_EventCarriesModelID(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	built, err := h.svc.Build(ctx, Request{Payload: json.RawMessage(productMix)})
	require.NoError(t, err)
	_, err = h.svc.Run(ctx, built.ModelID, nil)
	require.NoError(t, err)
	require.NoError(t, h.svc.Close())

	events := h.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, built.ModelID, events[0].ModelID)
}

func TestSolve_ArchivesOnlySuccessfulResults(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	_, err := h.svc.Solve(ctx, Request{Type: KeyLP, Payload: json.RawMessage(productMix)})
	require.NoError(t, err)
	_, err = h.svc.Solve(ctx, Request{Type: KeyLP, Payload: json.RawMessage(contradiction)})
	require.Error(t, err)
	require.NoError(t, h.svc.Close())

	archived := h.archive.Results()
	require.Len(t, archived, 1)
	assert.Equal(t, string(model.StatusOptimal), archived[0].event.Status)
	assert.Equal(t, model.StatusOptimal, archived[0].result.Status)
	require.NotNil(t, archived[0].result.ObjectiveValue)
	assert.InDelta(t, 11.0, *archived[0].result.ObjectiveValue, 1e-6)
}

func TestSolve_ArchiveFailureIsOnlyLogged(t *testing.T) {
	h := newHarness(t, false)
	h.archive.err = fmt.Errorf("bucket missing")

	_, err := h.svc.Solve(context.Background(), Request{Type: KeyLP, Payload: json.RawMessage(productMix)})
	require.NoError(t, err)
	require.NoError(t, h.svc.Close())

	assert.True(t, h.logger.HasMessage("warn", "result not archived"))
}

// ─────────────────────────────────────────────────────────────────────────────
// Discovery
// ─────────────────────────────────────────────────────────────────────────────

func TestFlows_ListsEveryRegisteredKey(t *testing.T) {
	h := newHarness(t, false)

	flows := h.svc.Flows()
	byID := make(map[string]common.FlowInfo, len(flows))
	for _, f := range flows {
		byID[f.ID] = f
	}
	for _, key := range []string{
		"lp", "mip", "vap", "fleet_mix", "maintenance", "fuel", "vrp",
		"employee_schedule", "task_assignment", "break_schedule", "labor_cost",
		"workforce_capacity", "shift_coverage", "labor_scheduling",
		"equipment_allocation", "material_delivery_planning", "risk_simulation",
		"crew_allocation", "equipment_resource_planning", "subcontractor_scheduling",
		"material_delivery_optimization", "portfolio_balancing", "change_order_impact",
		"compliance_planning",
	} {
		assert.Contains(t, byID, key)
	}

	vap := byID["vap"]
	assert.Equal(t, "/api/v1/solve/vehicle-assignment", vap.Endpoint)
	assert.Equal(t, "fleet", vap.Family)
	assert.Equal(t, "array<object>", vap.Payload["vehicles"])
	assert.Equal(t, "array<array<number>>", vap.Payload["distance_matrix"])

	// Callers get a copy.
	flows[0].ID = "changed"
	assert.NotEqual(t, "changed", h.svc.Flows()[0].ID)
}

func TestOpenAPI_DescribesEverySolveEndpoint(t *testing.T) {
	h := newHarness(t, false)

	doc := h.svc.OpenAPI()
	require.NotNil(t, doc)
	assert.Equal(t, "test", doc.Info.Version)
	assert.Equal(t, len(h.svc.Flows()), doc.Paths.Len())

	item := doc.Paths.Value("/api/v1/solve/generic")
	require.NotNil(t, item)
	require.NotNil(t, item.Post)
	assert.Equal(t, "solve_lp", item.Post.OperationID)
	assert.NotNil(t, item.Post.Responses.Status(200))
	assert.NotNil(t, item.Post.Responses.Status(422))
	require.NotNil(t, item.Post.RequestBody)
	assert.True(t, item.Post.RequestBody.Value.Required)

	vr := doc.Paths.Value("/api/v1/solve/vehicle-routing")
	require.NotNil(t, vr)
	assert.Equal(t, []string{"fleet"}, vr.Post.Tags)
}

func TestPing_UsesStore(t *testing.T) {
	h := newHarness(t, false)
	assert.NoError(t, h.svc.Ping(context.Background()))
}
