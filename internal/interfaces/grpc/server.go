// Package grpc runs the OptiFlow gRPC listener: the standard
// grpc.health.v1 service, reflection, and the recovery and logging
// interceptors shared by any service registered later.
package grpc

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/turtacn/OptiFlow/internal/config"
	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
)

// ServiceName is the health-checked service name.  The empty name reports
// overall server health and follows it.
const ServiceName = "optiflow.Orchestration"

const (
	defaultMaxMsgSize      = 16 * 1024 * 1024
	defaultGracefulTimeout = 10 * time.Second
	defaultProbeInterval   = 10 * time.Second
)

var defaultKeepaliveParams = keepalive.ServerParameters{
	MaxConnectionIdle:     15 * time.Minute,
	MaxConnectionAge:      30 * time.Minute,
	MaxConnectionAgeGrace: 5 * time.Second,
	Time:                  5 * time.Minute,
	Timeout:               1 * time.Second,
}

var defaultKeepalivePolicy = keepalive.EnforcementPolicy{
	MinTime:             5 * time.Second,
	PermitWithoutStream: true,
}

// Option configures the Server.
type Option func(*serverOptions)

type serverOptions struct {
	logger          logging.Logger
	listener        net.Listener
	gracefulTimeout time.Duration
	probeInterval   time.Duration
	probe           func(ctx context.Context) error
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *serverOptions) { o.logger = l }
}

// WithListener serves on l instead of binding cfg.Port.
func WithListener(l net.Listener) Option {
	return func(o *serverOptions) { o.listener = l }
}

// WithGracefulTimeout bounds GracefulStop before a forced stop.
func WithGracefulTimeout(d time.Duration) Option {
	return func(o *serverOptions) {
		if d > 0 {
			o.gracefulTimeout = d
		}
	}
}

// WithReadinessProbe drives the health status from probe, checked every
// interval while the server runs.  A failing probe reports NOT_SERVING.
func WithReadinessProbe(probe func(ctx context.Context) error, interval time.Duration) Option {
	return func(o *serverOptions) {
		o.probe = probe
		if interval > 0 {
			o.probeInterval = interval
		}
	}
}

// Server wraps a grpc.Server with health reporting and graceful shutdown.
type Server struct {
	grpcServer   *grpc.Server
	listener     net.Listener
	opts         *serverOptions
	healthServer *health.Server

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	probing sync.WaitGroup
}

// NewServer binds the listener and registers health and, when
// cfg.Reflection is set, reflection.
func NewServer(cfg config.GRPCConfig, opts ...Option) (*Server, error) {
	sopts := &serverOptions{
		gracefulTimeout: defaultGracefulTimeout,
		probeInterval:   defaultProbeInterval,
	}
	for _, o := range opts {
		o(sopts)
	}
	sopts.logger = logging.OrNop(sopts.logger).Named("grpc")

	lis := sopts.listener
	if lis == nil {
		addr := fmt.Sprintf(":%d", cfg.Port)
		var err error
		if lis, err = net.Listen("tcp", addr); err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
	}

	gs := grpc.NewServer(
		grpc.MaxRecvMsgSize(defaultMaxMsgSize),
		grpc.MaxSendMsgSize(defaultMaxMsgSize),
		grpc.KeepaliveParams(defaultKeepaliveParams),
		grpc.KeepaliveEnforcementPolicy(defaultKeepalivePolicy),
		grpc.ChainUnaryInterceptor(
			recoveryUnaryInterceptor(sopts.logger),
			loggingUnaryInterceptor(sopts.logger),
		),
		grpc.ChainStreamInterceptor(
			recoveryStreamInterceptor(sopts.logger),
			loggingStreamInterceptor(sopts.logger),
		),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	if cfg.Reflection {
		reflection.Register(gs)
		sopts.logger.Info("grpc reflection service registered")
	}

	return &Server{grpcServer: gs, listener: lis, opts: sopts, healthServer: hs}, nil
}

// Start serves until Stop.  It runs the readiness probe loop when one is
// configured, and returns nil at once if Stop came first.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	if s.opts.probe != nil {
		s.probing.Add(1)
		go s.probeLoop(ctx)
	}

	s.opts.logger.Info("grpc server starting", logging.String("address", s.Addr()))
	return s.grpcServer.Serve(s.listener)
}

func (s *Server) probeLoop(ctx context.Context) {
	defer s.probing.Done()
	ticker := time.NewTicker(s.opts.probeInterval)
	defer ticker.Stop()
	for {
		s.applyProbe(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// applyProbe runs the probe once and publishes the result.
func (s *Server) applyProbe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, s.opts.probeInterval)
	defer cancel()
	st := healthpb.HealthCheckResponse_SERVING
	if err := s.opts.probe(pctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		st = healthpb.HealthCheckResponse_NOT_SERVING
		s.opts.logger.Warn("readiness probe failed", logging.Err(err))
	}
	s.SetServing(st == healthpb.HealthCheckResponse_SERVING)
}

// SetServing flips the reported status of the server and ServiceName.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", st)
	s.healthServer.SetServingStatus(ServiceName, st)
}

// Stop marks the server NOT_SERVING and drains it.  A drain longer than the
// graceful timeout is cut short.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if !s.started {
		s.mu.Unlock()
		_ = s.listener.Close()
		return nil
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.probing.Wait()
	s.healthServer.Shutdown()
	s.opts.logger.Info("grpc server stopping")

	gracefulCtx, done := context.WithTimeout(ctx, s.opts.gracefulTimeout)
	defer done()
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		s.opts.logger.Info("grpc server stopped gracefully")
	case <-gracefulCtx.Done():
		s.opts.logger.Warn("grpc graceful stop timed out, forcing stop")
		s.grpcServer.Stop()
	}
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// ─────────────────────────────────────────────────────────────────────────────
// Interceptors
// ─────────────────────────────────────────────────────────────────────────────

func recoveryUnaryInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc panic recovered",
					logging.String("method", info.FullMethod),
					logging.String("panic", fmt.Sprintf("%v", r)),
					logging.String("stack", string(debug.Stack())))
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

func recoveryStreamInterceptor(logger logging.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc stream panic recovered",
					logging.String("method", info.FullMethod),
					logging.String("panic", fmt.Sprintf("%v", r)),
					logging.String("stack", string(debug.Stack())))
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()
		return handler(srv, ss)
	}
}

func isHealthCheck(method string) bool {
	return strings.HasPrefix(method, "/grpc.health.v1.Health/")
}

func loggingUnaryInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if isHealthCheck(info.FullMethod) {
			return handler(ctx, req)
		}
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc request",
			logging.String("method", info.FullMethod),
			logging.Duration("duration", time.Since(start)),
			logging.String("code", status.Code(err).String()))
		return resp, err
	}
}

func loggingStreamInterceptor(logger logging.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if isHealthCheck(info.FullMethod) {
			return handler(srv, ss)
		}
		start := time.Now()
		err := handler(srv, ss)
		logger.Info("grpc stream",
			logging.String("method", info.FullMethod),
			logging.Duration("duration", time.Since(start)),
			logging.String("code", status.Code(err).String()))
		return err
	}
}

//Personal.AI order the ending
