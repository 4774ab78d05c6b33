package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/turtacn/OptiFlow/internal/app"
	"github.com/turtacn/OptiFlow/internal/config"
	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
)

// NewServeCmd creates the serve command: the API server in the foreground.
func NewServeCmd() *cobra.Command {
	var httpPort, grpcPort int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the OptiFlow API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			cfg := *cliCtx.Config
			if httpPort > 0 {
				cfg.Server.Port = httpPort
			}
			if grpcPort > 0 {
				cfg.GRPC.Port = grpcPort
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			// The server logs with its configured level and format, not the
			// CLI's console logger.
			logger, err := logging.NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			logging.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Serve(ctx, &cfg, cliCtx.ConfigPath, logger)
		},
	}
	cmd.Flags().IntVar(&httpPort, "http-port", 0, "HTTP port (overrides server.port)")
	cmd.Flags().IntVar(&grpcPort, "grpc-port", 0, "gRPC port (overrides grpc.port)")
	return cmd
}

// Serve assembles the runtime and serves until ctx ends.  When configPath
// is set, edits to log.level are applied without a restart.
func Serve(ctx context.Context, cfg *config.Config, configPath string, logger logging.Logger) error {
	if configPath != "" {
		err := config.Watch(configPath, func(next *config.Config) {
			if next.Log.Level != logging.CurrentLevel() {
				logging.SetLevel(next.Log.Level)
				logger.Info("log level changed", logging.String("level", next.Log.Level))
			}
		}, func(err error) {
			logger.Warn("config reload rejected", logging.Err(err))
		})
		if err != nil {
			logger.Warn("config watch unavailable", logging.Err(err))
		}
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Serve(ctx, app.ServeOptions{})
}

//Personal.AI order the ending
