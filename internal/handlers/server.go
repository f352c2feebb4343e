package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	"github.com/Brownie44l1/clip-api/internal/logger"
)

// ServerConfig holds listener settings for the API server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewHTTPServer builds the API server around the handler's routes.
func NewHTTPServer(cfg ServerConfig, h *Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
}

// FXModule provides the handler and API server and serves it while the
// application runs.
var FXModule = fx.Module("handlers",
	fx.Provide(NewHandler, NewHTTPServer),
	fx.Invoke(RegisterServerLifecycle),
)

// RegisterServerLifecycle binds the listener during start, so a port
// conflict fails startup, and drains in-flight requests on stop.
func RegisterServerLifecycle(lc fx.Lifecycle, srv *http.Server, log *logger.Logger, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server stopped", err, nil)
					shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			log.Info("server listening", nil, map[string]interface{}{
				"address":   srv.Addr,
				"endpoints": []string{"GET /", "GET /health", "POST /encode_image"},
			})
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
