// Package middleware holds the OptiFlow HTTP middleware that chi does not
// provide: request logging, request metrics and CORS.
package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
)

// LoggingConfig tunes RequestLogging.
type LoggingConfig struct {
	// SkipPaths are not logged.
	SkipPaths []string

	// SlowThreshold promotes successful requests to Warn.  Zero disables it.
	SlowThreshold time.Duration
}

// DefaultLoggingConfig skips the probes and flags requests slower than the
// default solve time limit.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		SkipPaths:     []string{"/health", "/healthz", "/readyz", "/metrics"},
		SlowThreshold: 30 * time.Second,
	}
}

// RequestLogging logs one entry per request.  5xx responses log at Error,
// 4xx and slow requests at Warn.
func RequestLogging(logger logging.Logger, config LoggingConfig) func(http.Handler) http.Handler {
	logger = logging.OrNop(logger).Named("http")
	skip := make(map[string]bool, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			duration := time.Since(start)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []logging.Field{
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", status),
				logging.Duration("duration", duration),
				logging.Int("bytes", ww.BytesWritten()),
				logging.String("remote_addr", r.RemoteAddr),
				logging.String("request_id", chimw.GetReqID(r.Context())),
			}

			switch {
			case status >= 500:
				logger.Error("request completed with server error", fields...)
			case status >= 400:
				logger.Warn("request completed with client error", fields...)
			case config.SlowThreshold > 0 && duration >= config.SlowThreshold:
				logger.Warn("request completed (slow)", fields...)
			default:
				logger.Info("request completed", fields...)
			}
		})
	}
}

//Personal.AI order the ending
