package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]Option{WithRetryWait(time.Millisecond, 5*time.Millisecond)}, opts...)
	client, err := NewClient(server.URL, opts...)
	require.NoError(t, err)
	return client
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type testLogger struct {
	count int32
}

func (l *testLogger) Debugf(string, ...interface{}) { atomic.AddInt32(&l.count, 1) }
func (l *testLogger) Infof(string, ...interface{})  { atomic.AddInt32(&l.count, 1) }
func (l *testLogger) Errorf(string, ...interface{}) { atomic.AddInt32(&l.count, 1) }

// ---------------------------------------------------------------------------
// Constructor Tests
// ---------------------------------------------------------------------------

func TestNewClient_Success(t *testing.T) {
	c, err := NewClient("http://optiflow.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "http://optiflow.example.com", c.baseURL)
	assert.Equal(t, 3, c.retryMax)
	assert.Contains(t, c.userAgent, "optiflow-go-sdk/")
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	for _, u := range []string{"", "ftp://invalid", "invalid-url"} {
		_, err := NewClient(u)
		assert.True(t, errors.IsValidation(err), u)
	}
}

func TestNewClient_WithOptions(t *testing.T) {
	custom := &http.Client{Timeout: 10 * time.Second}
	logger := &testLogger{}
	c, err := NewClient("http://optiflow.example.com",
		WithHTTPClient(custom),
		WithLogger(logger),
		WithRetryMax(5),
		WithAPIKey("k"),
		WithUserAgent("ops-cli/1"),
	)
	require.NoError(t, err)
	assert.Same(t, custom, c.httpClient)
	assert.Equal(t, logger, c.logger)
	assert.Equal(t, 5, c.retryMax)
	assert.Equal(t, "k", c.apiKey)
	assert.Equal(t, "ops-cli/1", c.userAgent)
}

func TestWithRetryWait_IgnoresInvalid(t *testing.T) {
	c, _ := NewClient("http://x.example.com", WithRetryWait(0, time.Second), WithRetryMax(-1))
	assert.Equal(t, 500*time.Millisecond, c.retryWaitMin)
	assert.Equal(t, 3, c.retryMax)

	c, _ = NewClient("http://x.example.com", WithRetryWait(time.Second, time.Millisecond))
	assert.Equal(t, time.Second, c.retryWaitMin)
	assert.Equal(t, 5*time.Second, c.retryWaitMax)
}

// ---------------------------------------------------------------------------
// API Tests
// ---------------------------------------------------------------------------

func TestClient_Solve(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/solve", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		assert.Empty(t, r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "maximize", body["objective"].(map[string]any)["sense"])

		obj := 11.0
		writeJSON(w, http.StatusOK, common.Result{
			Status:         "OPTIMAL",
			ObjectiveValue: &obj,
			Solution:       json.RawMessage(`{"x":3,"y":1}`),
		})
	})

	res, err := c.Solve(context.Background(), map[string]any{
		"objective": map[string]any{"sense": "maximize", "expression": "x + 2 y"},
	})
	require.NoError(t, err)
	assert.Equal(t, "OPTIMAL", res.Status)
	require.NotNil(t, res.ObjectiveValue)
	assert.InDelta(t, 11, *res.ObjectiveValue, 1e-9)
	assert.JSONEq(t, `{"x":3,"y":1}`, string(res.Solution))
}

func TestClient_SolveDomain(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/solve/vehicle-routing", r.URL.Path)
		writeJSON(w, http.StatusOK, common.Result{Type: "vrp", Status: "FEASIBLE"})
	})
	res, err := c.SolveDomain(context.Background(), "vehicle-routing", map[string]any{"vehicles": 1})
	require.NoError(t, err)
	assert.Equal(t, "vrp", res.Type)
	assert.Equal(t, "FEASIBLE", res.Status)

	_, err = c.SolveDomain(context.Background(), "", nil)
	assert.True(t, errors.IsValidation(err))
}

func TestClient_ModelLifecycle(t *testing.T) {
	var deleted int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/models":
			writeJSON(w, http.StatusOK, common.BuildResponse{ModelID: "m-1", Status: "built"})
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/models/m-1/run":
			var run common.RunRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&run))
			assert.Equal(t, 30.0, run.Parameters["time_limit"])
			writeJSON(w, http.StatusOK, common.Result{ModelID: "m-1", Status: "OPTIMAL"})
		case r.Method == http.MethodDelete && r.URL.Path == "/api/v1/models/m-1":
			atomic.AddInt32(&deleted, 1)
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	built, err := c.Build(ctx, map[string]any{"type": "lp"})
	require.NoError(t, err)
	assert.Equal(t, "m-1", built.ModelID)

	res, err := c.Run(ctx, built.ModelID, &common.RunRequest{Parameters: map[string]any{"time_limit": 30}})
	require.NoError(t, err)
	assert.Equal(t, "m-1", res.ModelID)

	require.NoError(t, c.Delete(ctx, built.ModelID))
	assert.EqualValues(t, 1, atomic.LoadInt32(&deleted))

	_, err = c.Run(ctx, "", nil)
	assert.True(t, errors.IsValidation(err))
	assert.True(t, errors.IsValidation(c.Delete(ctx, "")))
}

func TestClient_RunWithoutBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Empty(t, body)
		assert.Empty(t, r.Header.Get("Content-Type"))
		writeJSON(w, http.StatusOK, common.Result{Status: "OPTIMAL"})
	})
	_, err := c.Run(context.Background(), "m-2", nil)
	require.NoError(t, err)
}

func TestClient_Flows(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/flows", r.URL.Path)
		writeJSON(w, http.StatusOK, common.FlowList{Flows: []common.FlowInfo{
			{ID: "lp", Endpoint: "/api/v1/solve/generic"},
			{ID: "vap", Endpoint: "/api/v1/solve/vehicle-assignment"},
		}})
	})
	flows, err := c.Flows(context.Background())
	require.NoError(t, err)
	require.Len(t, flows, 2)
	assert.Equal(t, "vap", flows[1].ID)
}

func TestClient_Ready(t *testing.T) {
	var down atomic.Bool
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/readyz", r.URL.Path)
		if down.Load() {
			writeJSON(w, http.StatusServiceUnavailable, common.Readiness{
				Status:     "not_ready",
				Components: []common.ComponentHealth{{Name: "redis", Status: common.HealthDown, Message: "dial tcp"}},
			})
			return
		}
		writeJSON(w, http.StatusOK, common.Readiness{Status: "ready"})
	})

	rd, err := c.Ready(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ready", rd.Status)

	down.Store(true)
	atomic.StoreInt32(&calls, 0)
	rd, err = c.Ready(context.Background())
	require.Error(t, err)
	require.NotNil(t, rd)
	assert.Equal(t, "not_ready", rd.Status)
	assert.Equal(t, "redis", rd.Components[0].Name)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "a readiness answer is not retried")
}

// ---------------------------------------------------------------------------
// Error and Retry Tests
// ---------------------------------------------------------------------------

func TestClient_APIError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   common.ErrorDetail
		check  func(*testing.T, *APIError)
	}{
		{"infeasible", http.StatusUnprocessableEntity, common.ErrorDetail{Code: "OPT_002", Message: "model is infeasible"},
			func(t *testing.T, e *APIError) { assert.True(t, e.IsUnsolvable()) }},
		{"validation", http.StatusBadRequest, common.ErrorDetail{Code: "COMMON_010", Message: "vehicles must be positive", Detail: "field=vehicles"},
			func(t *testing.T, e *APIError) {
				assert.True(t, e.IsValidation())
				assert.Contains(t, e.Error(), "field=vehicles")
			}},
		{"not found", http.StatusNotFound, common.ErrorDetail{Code: "MDL_003", Message: "model m-9 not found"},
			func(t *testing.T, e *APIError) { assert.True(t, e.IsNotFound()) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				writeJSON(w, tt.status, tt.body)
			})
			_, err := c.Solve(context.Background(), map[string]any{})
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.body.Code, apiErr.Code)
			assert.NotEmpty(t, apiErr.RequestID)
			tt.check(t, apiErr)
			assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "4xx is not retried")
		})
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	logger := &testLogger{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			writeJSON(w, http.StatusBadGateway, common.ErrorDetail{Code: "COMMON_014", Message: "upstream"})
			return
		}
		writeJSON(w, http.StatusOK, common.FlowList{})
	}, WithLogger(logger))

	_, err := c.Flows(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Positive(t, atomic.LoadInt32(&logger.count))
}

func TestClient_RetryExhausted(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusInternalServerError, common.ErrorDetail{Code: "COMMON_001", Message: "internal server error"})
	}, WithRetryMax(2))

	err := c.Delete(context.Background(), "m-1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsServerError())
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestClient_RateLimitedRetryAfter(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, http.StatusOK, common.FlowList{})
	})
	_, err := c.Flows(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestClient_ContextCanceledDuringBackoff(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, WithRetryWait(time.Second, time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Flows(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_MalformedSuccessBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "{not json")
	})
	_, err := c.Flows(context.Background())
	assert.True(t, errors.IsCode(err, errors.ErrCodeSerialization))
}

func TestClient_UnmarshalableRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not be sent")
	})
	_, err := c.Solve(context.Background(), map[string]any{"f": func() {}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeSerialization))
}

func TestCalculateBackoff_Capped(t *testing.T) {
	c, _ := NewClient("http://x.example.com", WithRetryWait(100*time.Millisecond, 300*time.Millisecond))
	assert.GreaterOrEqual(t, c.calculateBackoff(1), 100*time.Millisecond)
	d := c.calculateBackoff(6)
	assert.GreaterOrEqual(t, d, 300*time.Millisecond)
	assert.Less(t, d, 300*time.Millisecond+300*time.Millisecond/4)
}

//Personal.AI order the ending
