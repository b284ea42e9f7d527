package store

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/wampline/relay-service/config"
)

var Module = fx.Module("store",
	fx.Provide(
		fx.Annotate(
			func(cfg *config.Config, logger *slog.Logger) (*FileStore, error) {
				return NewFileStore(cfg.Store.Dir, logger)
			},
			fx.As(new(Storer)),
		),
	),
)
