// Package client is the Go SDK for the OptiFlow REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

const Version = "0.1.0"

// apiPrefix mirrors the server's mount point.
const apiPrefix = "/api/v1"

// Logger defines the logging interface used by the Client
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debugf(format string, args ...interface{}) {}
func (noopLogger) Infof(format string, args ...interface{})  {}
func (noopLogger) Errorf(format string, args ...interface{}) {}

// Client is the OptiFlow SDK client. It is safe for concurrent use.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	apiKey       string
	userAgent    string
	logger       Logger
	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	RequestID  string `json:"request_id"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return fmt.Sprintf("optiflow: %s (HTTP %d): %s [request_id=%s]", e.Code, e.StatusCode, msg, e.RequestID)
}

func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsUnsolvable reports a well-formed model the server proved infeasible or
// unbounded.
func (e *APIError) IsUnsolvable() bool {
	return e.StatusCode == http.StatusUnprocessableEntity
}

func (e *APIError) IsValidation() bool {
	return e.StatusCode == http.StatusBadRequest
}

func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.Validation("client: baseURL is required").WithDetail("field=baseURL")
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Validation("client: invalid baseURL").WithCause(err).WithDetail("field=baseURL")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, errors.Validation("client: baseURL scheme must be http or https").WithDetail("field=baseURL")
	}

	c := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 2 * time.Minute},
		userAgent:    fmt.Sprintf("optiflow-go-sdk/%s", Version),
		logger:       noopLogger{},
		retryMax:     3,
		retryWaitMin: 500 * time.Millisecond,
		retryWaitMax: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// API
// ─────────────────────────────────────────────────────────────────────────────

// Solve posts a complete request to /solve.  The body's "type" selects the
// flow; a body without one is a generic model definition.
func (c *Client) Solve(ctx context.Context, request interface{}) (*common.Result, error) {
	var res common.Result
	if err := c.post(ctx, apiPrefix+"/solve", request, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SolveDomain posts payload to the flow mounted at /solve/{slug}.
func (c *Client) SolveDomain(ctx context.Context, slug string, payload interface{}) (*common.Result, error) {
	if slug == "" {
		return nil, errors.Validation("client: slug is required").WithDetail("field=slug")
	}
	var res common.Result
	if err := c.post(ctx, apiPrefix+"/solve/"+url.PathEscape(slug), payload, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Build stores a model and returns its id.
func (c *Client) Build(ctx context.Context, request interface{}) (*common.BuildResponse, error) {
	var res common.BuildResponse
	if err := c.post(ctx, apiPrefix+"/models", request, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Run solves a stored model, optionally with overrides.
func (c *Client) Run(ctx context.Context, modelID string, run *common.RunRequest) (*common.Result, error) {
	if modelID == "" {
		return nil, errors.Validation("client: model id is required").WithDetail("field=model_id")
	}
	var body interface{}
	if run != nil {
		body = run
	}
	var res common.Result
	if err := c.post(ctx, apiPrefix+"/models/"+url.PathEscape(modelID)+"/run", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Delete removes a stored model.
func (c *Client) Delete(ctx context.Context, modelID string) error {
	if modelID == "" {
		return errors.Validation("client: model id is required").WithDetail("field=model_id")
	}
	return c.delete(ctx, apiPrefix+"/models/"+url.PathEscape(modelID))
}

// Flows lists the registered problem types.
func (c *Client) Flows(ctx context.Context) ([]common.FlowInfo, error) {
	var res common.FlowList
	if err := c.get(ctx, apiPrefix+"/flows", &res); err != nil {
		return nil, err
	}
	return res.Flows, nil
}

// Ready calls the readiness probe.  A 503 is returned as the decoded body
// together with an *APIError.
func (c *Client) Ready(ctx context.Context) (*common.Readiness, error) {
	var res common.Readiness
	err := c.do(ctx, http.MethodGet, "/readyz", nil, &res)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
		return &res, err
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Transport
// ─────────────────────────────────────────────────────────────────────────────

// do performs an HTTP request with retry logic.  result is also filled from
// an error body when it decodes.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	fullURL := c.baseURL + path

	var bodyBytes []byte
	if body != nil {
		var err error
		if bodyBytes, err = json.Marshal(body); err != nil {
			return errors.New(errors.ErrCodeSerialization, "client: marshal request body").WithCause(err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if attempt > 0 {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debugf("Retry attempt %d after %v", attempt, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		requestID := uuid.New().String()
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		if bodyReader != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("X-Request-Id", requestID)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		duration := time.Since(start)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Errorf("Request failed: %v", err)
			lastErr = err
			continue
		}
		c.logger.Debugf("%s %s %d (%v)", method, path, resp.StatusCode, duration)

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < c.retryMax {
			if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
				c.logger.Infof("Rate limited, retrying after %d seconds", seconds)
				select {
				case <-time.After(time.Duration(seconds) * time.Second):
					continue
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}

		if resp.StatusCode >= 400 {
			apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: requestID}
			answered := false
			if len(respBody) > 0 {
				var detail common.ErrorDetail
				if err := json.Unmarshal(respBody, &detail); err == nil && detail.Code != "" {
					apiErr.Code, apiErr.Message, apiErr.Detail = detail.Code, detail.Message, detail.Detail
				} else {
					apiErr.Message = string(respBody)
					// Probe bodies (readiness) are a definite answer.
					answered = result != nil && json.Unmarshal(respBody, result) == nil
				}
			}
			lastErr = apiErr
			if apiErr.IsServerError() && !answered {
				continue
			}
			return apiErr
		}

		if result != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, result); err != nil {
				return errors.New(errors.ErrCodeSerialization, "client: decode response").WithCause(err)
			}
		}
		return nil
	}
	return lastErr
}

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, result interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

func (c *Client) delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.retryWaitMin * time.Duration(1<<uint(attempt-1))
	if backoff > c.retryWaitMax {
		backoff = c.retryWaitMax
	}
	if q := int64(backoff / 4); q > 0 {
		backoff += time.Duration(rand.Int63n(q))
	}
	return backoff
}

//Personal.AI order the ending
