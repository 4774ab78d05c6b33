package app

import (
	"context"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
	grpcserver "github.com/turtacn/OptiFlow/internal/interfaces/grpc"
	httpserver "github.com/turtacn/OptiFlow/internal/interfaces/http"
	"github.com/turtacn/OptiFlow/internal/interfaces/http/handlers"
)

// ServeOptions overrides the listeners Serve binds.  Nil listeners bind the
// configured ports.
type ServeOptions struct {
	HTTPListener net.Listener
	GRPCListener net.Listener

	// Ready, when set, receives the bound HTTP address once serving starts.
	Ready func(httpAddr string)
}

// Router builds the HTTP route tree for the assembled service.
func (a *App) Router() *httpserver.RouterConfig {
	return &httpserver.RouterConfig{
		Service:        a.Service,
		Health:         handlers.NewHealthHandler(Version, a.Metrics, a.HealthCheckers()...),
		Logger:         a.Logger,
		Metrics:        a.Metrics,
		MetricsHandler: a.MetricsHandler(),
		MetricsPath:    a.Config.Metrics.Path,
		CORSOrigins:    a.Config.Server.CORSOrigins,
		MaxBodySize:    a.Config.Server.MaxBodySize,
	}
}

// Serve runs the HTTP API, and the gRPC health endpoint when enabled, until
// ctx ends or a server fails.  Shutdown is bounded by
// server.shutdown_timeout.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	cfg := a.Config
	httpSrv := httpserver.NewServer(cfg.Server, httpserver.NewRouter(*a.Router()), a.Logger)

	httpLis := opts.HTTPListener
	if httpLis == nil {
		var err error
		if httpLis, err = net.Listen("tcp", cfg.Server.Addr()); err != nil {
			return err
		}
	}

	var grpcSrv *grpcserver.Server
	if cfg.GRPC.Enabled {
		gopts := []grpcserver.Option{
			grpcserver.WithLogger(a.Logger),
			grpcserver.WithReadinessProbe(a.Service.Ping, 0),
		}
		if opts.GRPCListener != nil {
			gopts = append(gopts, grpcserver.WithListener(opts.GRPCListener))
		}
		var err error
		if grpcSrv, err = grpcserver.NewServer(cfg.GRPC, gopts...); err != nil {
			_ = httpLis.Close()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Serve(httpLis) })
	if grpcSrv != nil {
		g.Go(grpcSrv.Start)
	}
	a.Logger.Info("optiflow serving",
		logging.String("http", httpLis.Addr().String()),
		logging.Bool("grpc", grpcSrv != nil))
	if opts.Ready != nil {
		opts.Ready(httpLis.Addr().String())
	}

	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		a.Logger.Info("optiflow shutting down")
		err := httpSrv.Stop(stopCtx)
		if grpcSrv != nil {
			if gerr := grpcSrv.Stop(stopCtx); err == nil {
				err = gerr
			}
		}
		return err
	})
	return g.Wait()
}

//Personal.AI order the ending
