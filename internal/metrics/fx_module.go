package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"

	"go.uber.org/fx"

	"github.com/Brownie44l1/clip-api/internal/logger"
)

// FXModule provides *Metrics and runs the scrape server when enabled.
var FXModule = fx.Module("metrics",
	fx.Provide(NewMetrics),
	fx.Invoke(RegisterMetricsLifecycle),
)

// RegisterMetricsLifecycle binds the scrape server on start so a taken port
// fails startup, and shuts it down on stop.
func RegisterMetricsLifecycle(lc fx.Lifecycle, cfg Config, m *Metrics, log *logger.Logger) {
	if !cfg.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", m.Server.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := m.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server stopped", err, nil)
				}
			}()
			log.Info("metrics server listening", nil, map[string]interface{}{"address": m.Server.Addr})
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return m.Server.Shutdown(ctx)
		},
	})
}
