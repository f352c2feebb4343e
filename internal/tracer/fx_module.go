package tracer

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

// FXModule provides *Tracer and the trace.Tracer it hands out.
var FXModule = fx.Module("tracer",
	fx.Provide(
		NewClient,
		func(t *Tracer) trace.Tracer { return t.Tracer() },
	),
	fx.Invoke(RegisterTracerLifecycle),
)

// RegisterTracerLifecycle flushes spans on shutdown.
func RegisterTracerLifecycle(lc fx.Lifecycle, t *Tracer) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return t.Shutdown(ctx)
		},
	})
}
