package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/Brownie44l1/clip-api/internal/config"
	"github.com/Brownie44l1/clip-api/internal/handlers"
	"github.com/Brownie44l1/clip-api/internal/logger"
	"github.com/Brownie44l1/clip-api/internal/metrics"
	"github.com/Brownie44l1/clip-api/internal/model"
	"github.com/Brownie44l1/clip-api/internal/pipeline"
	"github.com/Brownie44l1/clip-api/internal/tracer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Load the model and serve:

  GET  /              service descriptor
  GET  /health        model identity
  POST /encode_image  multipart image upload -> JSON embedding

Prometheus metrics are served separately on METRICS_ADDRESS (default :9090).
The process exits non-zero if the model cannot be loaded or a port is taken.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	app := fx.New(
		serverOptions(cfg),
		fx.WithLogger(func(log *logger.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Zap}
		}),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}

	sig := <-app.Wait()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	if sig.ExitCode != 0 {
		return fmt.Errorf("server exited with code %d", sig.ExitCode)
	}
	return nil
}

// serverOptions assembles the application graph from cfg.
func serverOptions(cfg config.Config) fx.Option {
	return fx.Options(
		fx.Supply(
			cfg.Logger(),
			cfg.Metrics(),
			cfg.Tracer(),
			loadConfig(cfg),
			handlers.ServerConfig{
				Addr:         cfg.Addr(),
				ReadTimeout:  cfg.ReadTimeout,
				WriteTimeout: cfg.WriteTimeout,
			},
			handlers.Options{
				RequestTimeout: cfg.RequestTimeout,
				AllowOrigin:    cfg.CORSAllowOrigin,
				Version:        config.Version,
			},
		),
		logger.FXModule,
		metrics.FXModule,
		tracer.FXModule,
		model.FXModule,
		fx.Provide(newPipeline),
		handlers.FXModule,
	)
}

func loadConfig(cfg config.Config) model.LoadConfig {
	return model.LoadConfig{
		ModelPath:     cfg.ModelPath,
		MetadataPath:  cfg.MetadataPath,
		LibraryPath:   cfg.OrtLibPath,
		Device:        cfg.Device,
		MaxConcurrent: cfg.MaxConcurrentInferences,
	}
}

func newPipeline(s *model.Server, t trace.Tracer) *pipeline.Pipeline {
	return pipeline.New(s, t)
}
