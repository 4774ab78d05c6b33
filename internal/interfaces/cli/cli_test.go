package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/OptiFlow/internal/app"
	"github.com/turtacn/OptiFlow/internal/config"
	"github.com/turtacn/OptiFlow/internal/infrastructure/messaging/kafka"
	httpapi "github.com/turtacn/OptiFlow/internal/interfaces/http"
	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

const productMixYAML = `
variables:
  - {name: x, type: continuous, lower_bound: 0}
  - {name: y, type: continuous, lower_bound: 0}
constraints:
  - {name: capacity, expression: "x + y", operator: "<=", rhs: 4}
  - {name: labor, expression: "x + 3*y", operator: "<=", rhs: 6}
  - {name: demand, expression: "x", operator: "<=", rhs: 3}
objective:
  type: maximize
  expression: "3*x + 2*y"
`

const routingJSON = `{"vehicles": 1, "depot": 0, "distance_matrix": [[0,1,2],[1,0,1],[2,1,0]]}`

const testConfigYAML = `
log:
  level: error
grpc:
  enabled: false
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

// sharedBackend serves every invocation of one test from the same
// in-process service so that stored models survive between commands.
func sharedBackend(t *testing.T) func(*CLIContext) (Backend, error) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Kafka.Enabled = false
	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	b := &localBackend{svc: a.Service}
	return func(*CLIContext) (Backend, error) { return b, nil }
}

func execute(t *testing.T, factory func(*CLIContext) (Backend, error), args ...string) (string, string, error) {
	t.Helper()
	cfgPath := writeFile(t, "optiflow.yaml", testConfigYAML)
	cmd := newRootCommand(factory)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", cfgPath, "--no-color"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func decodeResult(t *testing.T, out string) common.Result {
	t.Helper()
	var res common.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	return res
}

// ---------------------------------------------------------------------------
// Root
// ---------------------------------------------------------------------------

func TestNewRootCommand_Structure(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "optiflow", cmd.Use)
	assert.NotEmpty(t, cmd.Short)

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"serve", "solve", "model", "flows", "events", "db", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
	for _, flag := range []string{"config", "log-level", "output", "verbose", "no-color", "timeout", "server"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestRoot_RejectsUnknownOutputFormat(t *testing.T) {
	_, _, err := execute(t, sharedBackend(t), "version", "-o", "xml")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestRoot_MissingConfigFile(t *testing.T) {
	cmd := newRootCommand(defaultBackend)
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "version"})
	cmd.SetOut(&bytes.Buffer{})
	assert.ErrorContains(t, cmd.ExecuteContext(context.Background()), "config initialization failed")
}

func TestVersion_JSON(t *testing.T) {
	out, _, err := execute(t, sharedBackend(t), "version", "-o", "json")
	require.NoError(t, err)
	var info BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

// ---------------------------------------------------------------------------
// Solve
// ---------------------------------------------------------------------------

func TestSolve_YAMLDocumentInProcess(t *testing.T) {
	file := writeFile(t, "mix.yaml", productMixYAML)
	out, _, err := execute(t, defaultBackend, "solve", "-f", file, "-o", "json")
	require.NoError(t, err)

	res := decodeResult(t, out)
	assert.Equal(t, "OPTIMAL", res.Status)
	require.NotNil(t, res.ObjectiveValue)
	assert.InDelta(t, 11, *res.ObjectiveValue, 1e-6)
	assert.JSONEq(t, `{"x":3,"y":1}`, roundValues(t, res.Solution))
}

func roundValues(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var v map[string]float64
	require.NoError(t, json.Unmarshal(raw, &v))
	for k, x := range v {
		v[k] = float64(int(x + 0.5))
	}
	out, _ := json.Marshal(v)
	return string(out)
}

func TestSolve_TableOutput(t *testing.T) {
	file := writeFile(t, "mix.yaml", productMixYAML)
	out, _, err := execute(t, sharedBackend(t), "solve", "-f", file, "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "OPTIMAL")
	assert.Contains(t, out, "VARIABLE")
	assert.Contains(t, out, "11")
}

func TestSolve_TextOutputFromStdin(t *testing.T) {
	cmd := newRootCommand(sharedBackend(t))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(productMixYAML))
	cmd.SetArgs([]string{"--config", writeFile(t, "c.yaml", testConfigYAML), "--no-color", "solve", "-f", "-"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "status:     OPTIMAL")
	assert.Contains(t, out.String(), "objective:  11")
}

func TestSolve_TypeFlagAndPath(t *testing.T) {
	factory := sharedBackend(t)
	file := writeFile(t, "routes.json", routingJSON)

	out, _, err := execute(t, factory, "solve", "-f", file, "--type", "vrp", "-o", "json")
	require.NoError(t, err)
	res := decodeResult(t, out)
	assert.Equal(t, "FEASIBLE", res.Status)
	assert.Equal(t, "vrp", res.Type)

	out, _, err = execute(t, factory, "solve", "-f", file, "--path", "vehicle-routing", "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "FEASIBLE", decodeResult(t, out).Status)

	_, _, err = execute(t, factory, "solve", "-f", file, "--type", "vrp", "--path", "vehicle-routing")
	assert.Error(t, err, "flags are mutually exclusive")
}

func TestSolve_Errors(t *testing.T) {
	factory := sharedBackend(t)

	_, _, err := execute(t, factory, "solve")
	assert.Error(t, err, "file is required")

	_, _, err = execute(t, factory, "solve", "-f", writeFile(t, "empty.json", "  "))
	assert.True(t, errors.IsValidation(err))

	_, _, err = execute(t, factory, "solve", "-f", writeFile(t, "x.json", `{"type":"teleport"}`))
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnsupportedProblemType), "got %v", err)

	_, _, err = execute(t, factory, "solve", "-f", writeFile(t, "bad.yaml", "a: [1, 2"))
	assert.True(t, errors.IsValidation(err))
}

func TestSolve_RemoteServer(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Metrics.Enabled = false
	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	srv := httptest.NewServer(httpapi.NewRouter(*a.Router()))
	t.Cleanup(srv.Close)

	file := writeFile(t, "mix.yaml", productMixYAML)
	out, _, err := execute(t, defaultBackend, "--server", srv.URL, "solve", "-f", file, "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "OPTIMAL", decodeResult(t, out).Status)

	out, _, err = execute(t, defaultBackend, "--server", srv.URL, "flows", "-o", "json")
	require.NoError(t, err)
	var flows []common.FlowInfo
	require.NoError(t, json.Unmarshal([]byte(out), &flows))
	assert.NotEmpty(t, flows)

	_, _, err = execute(t, defaultBackend, "--server", srv.URL, "model", "run", "missing-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MDL_003")
}

// ---------------------------------------------------------------------------
// Model lifecycle and flows
// ---------------------------------------------------------------------------

func TestModel_BuildRunDelete(t *testing.T) {
	factory := sharedBackend(t)
	file := writeFile(t, "mix.json", `{"variables":[{"name":"x","type":"continuous","lower_bound":0,"upper_bound":5}],"objective":{"type":"maximize","expression":"2*x"}}`)

	out, _, err := execute(t, factory, "model", "build", "-f", file, "-o", "json")
	require.NoError(t, err)
	var built common.BuildResponse
	require.NoError(t, json.Unmarshal([]byte(out), &built))
	require.NotEmpty(t, built.ModelID)

	out, _, err = execute(t, factory, "model", "run", built.ModelID, "--param", "time_limit=5", "-o", "json")
	require.NoError(t, err)
	res := decodeResult(t, out)
	assert.Equal(t, built.ModelID, res.ModelID)
	require.NotNil(t, res.ObjectiveValue)
	assert.InDelta(t, 10, *res.ObjectiveValue, 1e-6)

	out, _, err = execute(t, factory, "model", "delete", built.ModelID)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")

	_, _, err = execute(t, factory, "model", "run", built.ModelID)
	assert.True(t, errors.IsNotFound(err))

	_, _, err = execute(t, factory, "model", "run", built.ModelID, "--param", "novalue")
	assert.True(t, errors.IsValidation(err))
}

func TestFlows_Table(t *testing.T) {
	out, _, err := execute(t, sharedBackend(t), "flows", "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "vehicle-assignment")
	assert.Contains(t, out, "risk_simulation")
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func TestDB_RequiresPostgresHost(t *testing.T) {
	_, _, err := execute(t, sharedBackend(t), "db", "status")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, "field=postgres.host", errors.DetailOf(err))
}

func TestDB_RollbackStepsFlag(t *testing.T) {
	cmd := NewDBCmd()
	rollback, _, err := cmd.Find([]string{"rollback"})
	require.NoError(t, err)
	flag := rollback.Flags().Lookup("steps")
	require.NotNil(t, flag)
	assert.Equal(t, "1", flag.DefValue)
}

func TestMigrationStatus_String(t *testing.T) {
	assert.Equal(t, "optiflow: schema version 1 (clean)", MigrationStatus{Database: "optiflow", Version: 1}.String())
	assert.Equal(t, "optiflow: schema version 2 (dirty)", MigrationStatus{Database: "optiflow", Version: 2, Dirty: true}.String())
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments("param", []string{"n=3", "tol=0.5", "strict=true", "name=fast", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": int64(3), "tol": 0.5, "strict": true, "name": "fast", "empty": ""}, got)

	got, err = parseAssignments("param", nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseAssignments("param", []string{"=1"})
	assert.Equal(t, "field=param", errors.DetailOf(err))
}

func TestWithType(t *testing.T) {
	doc, err := withType([]byte(`{"type":"lp","a":1}`), "vap")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"vap","a":1}`, string(doc))

	same, err := withType([]byte(`[1]`), "")
	require.NoError(t, err)
	assert.Equal(t, `[1]`, string(same))

	_, err = withType([]byte(`[1]`), "vap")
	assert.True(t, errors.IsValidation(err))
}

func TestEventPrinter(t *testing.T) {
	obj := 42.0
	ev := common.SolveEvent{
		ProblemType:    "vap",
		Status:         "OPTIMAL",
		ObjectiveValue: &obj,
		DurationMs:     12,
		ModelID:        "m-1",
		CompletedAt:    time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
	}
	env, err := kafka.NewEventEnvelope(kafka.EventSolveCompleted, ev)
	require.NoError(t, err)
	other, err := kafka.NewEventEnvelope("model.built", map[string]string{})
	require.NoError(t, err)

	var out bytes.Buffer
	cancelled := 0
	handle := eventPrinter(&out, OutputText, 1, func() { cancelled++ })
	require.NoError(t, handle(context.Background(), other))
	assert.Zero(t, cancelled, "other event types are skipped")
	require.NoError(t, handle(context.Background(), env))

	line := out.String()
	assert.Contains(t, line, "09:00:00.000")
	assert.Contains(t, line, "vap")
	assert.Contains(t, line, "objective=42")
	assert.Contains(t, line, "model=m-1")
	assert.Equal(t, 1, cancelled)

	out.Reset()
	handle = eventPrinter(&out, OutputJSON, 0, func() { t.Fatal("unbounded printer must not cancel") })
	require.NoError(t, handle(context.Background(), env))
	var decoded common.SolveEvent
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "m-1", decoded.ModelID)
}

//Personal.AI order the ending
