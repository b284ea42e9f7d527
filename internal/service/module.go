package service

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("service",
	fx.Provide(
		fx.Annotate(
			NewRelayService,
			fx.As(new(Relayer)),
		),
		NewOrchestrator,
	),

	fx.Invoke(func(lc fx.Lifecycle, o *Orchestrator) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return o.Load(ctx)
			},
			OnStop: func(ctx context.Context) error {
				o.Shutdown(ctx)
				return nil
			},
		})
	}),
)
