package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/OptiFlow/internal/application/orchestration"
	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
	prommetrics "github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/OptiFlow/internal/interfaces/http/handlers"
	"github.com/turtacn/OptiFlow/internal/interfaces/http/middleware"
)

// RouterConfig aggregates the dependencies of the route tree.
type RouterConfig struct {
	Service orchestration.Service
	Health  *handlers.HealthHandler

	Logger  logging.Logger
	Metrics *prommetrics.AppMetrics

	// MetricsHandler is mounted at MetricsPath when set.
	MetricsHandler http.Handler
	MetricsPath    string

	CORSOrigins []string
	MaxBodySize int64
	Logging     *middleware.LoggingConfig
}

// NewRouter builds the complete HTTP route tree.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := logging.OrNop(cfg.Logger)
	logCfg := middleware.DefaultLoggingConfig()
	if cfg.Logging != nil {
		logCfg = *cfg.Logging
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogging(logger, logCfg))
	r.Use(middleware.Metrics(cfg.Metrics))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins...)))
	}

	health := cfg.Health
	if health == nil {
		health = handlers.NewHealthHandler("", cfg.Metrics)
	}
	r.Get("/health", health.Liveness)
	r.Get("/healthz", health.Liveness)
	r.Get("/readyz", health.Readiness)

	if cfg.MetricsHandler != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, cfg.MetricsHandler)
	}

	if cfg.Service != nil {
		r.Route(orchestration.APIPrefix, func(api chi.Router) {
			registerModelRoutes(api, handlers.NewModelHandler(cfg.Service, logger, cfg.MaxBodySize))
			registerSolveRoutes(api, handlers.NewSolveHandler(cfg.Service, logger, cfg.MaxBodySize))
		})
	}
	return r
}

func registerModelRoutes(r chi.Router, h *handlers.ModelHandler) {
	r.Route("/models", func(mr chi.Router) {
		mr.Post("/", h.Build)
		mr.Route("/{id}", func(item chi.Router) {
			item.Post("/run", h.Run)
			item.Delete("/", h.Delete)
		})
	})
}

func registerSolveRoutes(r chi.Router, h *handlers.SolveHandler) {
	r.Post("/solve", h.Solve)
	r.Post("/solve/{slug}", h.SolveDomain)
	r.Get("/flows", h.Flows)
	r.Get("/openapi.json", h.OpenAPI)
}

//Personal.AI order the ending
