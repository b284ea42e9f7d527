package cmd

import (
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/wampline/relay-service/config"
	"github.com/wampline/relay-service/internal/adapter/router"
	"github.com/wampline/relay-service/internal/domain/registry"
	httphandler "github.com/wampline/relay-service/internal/handler/http"
	"github.com/wampline/relay-service/internal/service"
	"github.com/wampline/relay-service/internal/store"
	"go.uber.org/fx"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
		),
		fx.Invoke(watchLogLevel),
		store.Module,
		router.Module,
		registry.Module,
		service.Module,
		httphandler.Module,
	)
}

func ProvideLogger(cfg *config.Config) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(config.ParseLevel(cfg.Log.Level))

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, level
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger)
}

// watchLogLevel tracks config file edits so the log level can be raised or
// lowered without a restart.
func watchLogLevel(cfg *config.Config, level *slog.LevelVar, logger *slog.Logger) {
	cfg.Watch(func(fresh *config.Config) {
		level.Set(config.ParseLevel(fresh.Log.Level))
		logger.Info("log level updated", slog.String("level", fresh.Log.Level))
	})
}
