// API server entry point for OptiFlow.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/turtacn/OptiFlow/internal/app"
	"github.com/turtacn/OptiFlow/internal/config"
	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/OptiFlow/internal/interfaces/cli"
)

const defaultConfigPath = "configs/config.yaml"

var version = "dev"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	httpPort := flag.Int("http-port", 0, "HTTP server port (overrides config)")
	grpcPort := flag.Int("grpc-port", 0, "gRPC server port (overrides config)")
	flag.Parse()

	app.Version = version

	// Fall back to defaults plus environment when the file is missing.
	watchPath := *configPath
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: using default configuration: %v\n", err)
		watchPath = ""
		if cfg, err = config.LoadFromEnv(); err != nil {
			fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
			os.Exit(1)
		}
	}
	if *httpPort > 0 {
		cfg.Server.Port = *httpPort
	}
	if *grpcPort > 0 {
		cfg.GRPC.Port = *grpcPort
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(logger)

	logger.Info("starting OptiFlow API server",
		logging.String("version", version),
		logging.Int("http_port", cfg.Server.Port),
		logging.Int("grpc_port", cfg.GRPC.Port),
		logging.Bool("grpc_enabled", cfg.GRPC.Enabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Serve(ctx, cfg, watchPath, logger); err != nil {
		logger.Error("server exited with error", logging.Err(err))
		stop()
		os.Exit(1)
	}
	logger.Info("server stopped")
}

//Personal.AI order the ending
