package model

import (
	"context"

	"go.uber.org/fx"
)

// FXModule provides the model handle. Construction happens before any
// listener starts, and a load failure aborts application start.
var FXModule = fx.Module("model",
	fx.Provide(NewServer),
	fx.Invoke(RegisterModelLifecycle),
)

// RegisterModelLifecycle releases the session on shutdown.
func RegisterModelLifecycle(lc fx.Lifecycle, s *Server) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			s.Close()
			return nil
		},
	})
}
