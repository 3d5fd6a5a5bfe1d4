package fx

import (
	"fwa-warsync/internal/api"
	"fwa-warsync/internal/config"
	"fwa-warsync/internal/database"
	"fwa-warsync/internal/kv"
	"fwa-warsync/internal/logger"
	"fwa-warsync/internal/metrics"
	"fwa-warsync/internal/repository"
	"fwa-warsync/internal/scheduler"
	"fwa-warsync/internal/server"
	"fwa-warsync/internal/service"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

func ProvideRedis(cfg *config.Config) (*redis.Client, error) {
	return kv.NewClient(cfg.RedisURL)
}

func ProvideKV(rdb *redis.Client) kv.Store {
	return kv.NewRedisStore(rdb)
}

func ProvideWarSource(c *api.GameClient) service.WarSource {
	return c
}

func ProvidePointsSource(c *api.StatsClient) service.PointsSource {
	return c
}

func ProvideEventSink(s *service.LogSink) service.EventSink {
	return s
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	fx.Provide(metrics.New),
	// stores
	fx.Provide(ProvideRedis),
	fx.Provide(ProvideKV),
	fx.Provide(repository.NewClanRepository),
	fx.Provide(repository.NewWarHistoryRepository),
	fx.Provide(repository.NewAttackRepository),
	// external sources
	fx.Provide(api.NewGameClient),
	fx.Provide(api.NewStatsClient),
	fx.Provide(ProvideWarSource),
	fx.Provide(ProvidePointsSource),
	// engine
	fx.Provide(service.NewLogSink),
	fx.Provide(ProvideEventSink),
	fx.Provide(service.NewSyncLedger),
	fx.Provide(service.NewReconciler),
	fx.Provide(service.NewRecorder),
	fx.Provide(service.NewTracker),
	fx.Provide(scheduler.New),
	// server
	fx.Provide(server.NewStatusServer),
)
