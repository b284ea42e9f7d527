package router

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/fx"

	"github.com/wampline/relay-service/config"
)

var Module = fx.Module("router",
	fx.Provide(
		func(cfg *config.Config, logger watermill.LoggerAdapter) Dialer {
			return NewBreakerDialer(
				NewDialer(logger),
				cfg.Router.BreakerMaxFailures,
				cfg.Router.BreakerCooldown,
			)
		},
	),
)
