package fx

import (
	"clash-tracker/internal/api"
	"clash-tracker/internal/config"
	"clash-tracker/internal/database"
	"clash-tracker/internal/logger"
	"clash-tracker/internal/repository"
	"clash-tracker/internal/server"
	"clash-tracker/internal/service"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// ProvideStateRepository picks the storage backend named by STORE_BACKEND.
// The sqlite connection is closed when the application stops.
func ProvideStateRepository(lc fx.Lifecycle, cfg *config.Config, logger zerolog.Logger) (repository.StateRepository, error) {
	if cfg.StoreBackend != config.BackendSQLite {
		logger.Info().Str("path", cfg.DataFile).Msg("using json document store")
		return repository.NewJSONRepository(cfg.DataFile, logger), nil
	}

	sqlDB, err := database.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(func() error {
		if err := sqlDB.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing database connection")
			return err
		}
		return nil
	}))
	return repository.NewSQLiteRepository(sqlDB, logger), nil
}

var Module = fx.Options(
	fx.Provide(config.Load),
	fx.Provide(logger.New),
	fx.Provide(ProvideStateRepository),
	// api client
	fx.Provide(
		fx.Annotate(
			api.NewClashRoyaleClient,
			fx.As(new(service.StatsProvider)),
		),
	),
	// svc
	fx.Provide(service.NewRefresher),
	fx.Provide(service.NewTrackerService),
	fx.Provide(service.NewScheduler),
	// server
	fx.Provide(server.NewTrackerServer),
	fx.Invoke(config.LogSummary),
	fx.Invoke(service.RegisterScheduler),
)
