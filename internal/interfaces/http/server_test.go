package http

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/OptiFlow/internal/config"
)

func TestServer_ServeAndStop(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(config.ServerConfig{Host: "127.0.0.1", ReadTimeout: time.Second, WriteTimeout: time.Second},
		NewRouter(RouterConfig{}), nil)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(l) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"healthy"`)

	require.NoError(t, srv.Stop(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err, "a graceful stop is not an error")
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}

func TestRouter_WithoutServiceServesProbesOnly(t *testing.T) {
	h := NewRouter(RouterConfig{})
	api := &testAPI{handler: h}

	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodPost, "/api/v1/solve", "{}").Code)
}
