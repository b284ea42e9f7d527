package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"go.uber.org/fx"

	"github.com/wampline/relay-service/config"
	"github.com/wampline/relay-service/internal/domain/registry"
)

var Module = fx.Module("http-handler",
	fx.Provide(
		NewSinkHub,
		func(h *SinkHub) registry.SinkResolver { return h },
		NewHandler,
	),

	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, h *Handler, logger *slog.Logger) {
		srv := &http.Server{
			Addr:    cfg.HTTP.Addr,
			Handler: h.Routes(),
		}
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("http server stopped", "error", err)
					}
				}()
				logger.Info("http server listening", "addr", cfg.HTTP.Addr)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		})
	}),
)
