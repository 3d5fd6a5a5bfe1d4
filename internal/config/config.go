package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"fwa-warsync/internal/constants"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	GameAPIBaseURL string
	GameAPIToken   string
	PointsBaseURL  string

	RedisURL   string
	DBPath     string
	ServerPort string
	LogLevel   string

	PollInterval    time.Duration
	TickConcurrency int

	// Reconciliation retry policy.
	ReconcileMaxAttempts int
	ReconcileInterval    time.Duration

	// Community-dictated plan policy. Kept configurable on purpose:
	// the 2h sync window, 12h strict window and the 100 true-star cap
	// come from the alliance, not from us.
	MissedSyncWindow time.Duration
	StrictWindow     time.Duration
	TrueStarCap      int
	LoseTopCutoff    int
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		GameAPIBaseURL: getEnv("GAME_API_BASE_URL", "https://api.clashofclans.com/v1"),
		GameAPIToken:   getEnv("GAME_API_TOKEN", ""),
		PointsBaseURL:  getEnv("POINTS_BASE_URL", "https://fwastats.com"),

		RedisURL:   getEnv("REDIS_URL", "redis://localhost:6379/0"),
		DBPath:     getEnv("DB_PATH", "warsync.db"),
		ServerPort: getEnv("SERVER_PORT", "8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		PollInterval:    getDuration("POLL_INTERVAL", constants.DefaultPollInterval),
		TickConcurrency: getInt("TICK_CONCURRENCY", constants.DefaultTickConcurrency),

		ReconcileMaxAttempts: getInt("RECONCILE_MAX_ATTEMPTS", constants.DefaultReconcileMaxAttempts),
		ReconcileInterval:    getDuration("RECONCILE_INTERVAL", constants.DefaultReconcileInterval),

		MissedSyncWindow: getDuration("MISSED_SYNC_WINDOW", constants.DefaultMissedSyncWindow),
		StrictWindow:     getDuration("STRICT_WINDOW", constants.DefaultStrictWindow),
		TrueStarCap:      getInt("TRUE_STAR_CAP", constants.DefaultTrueStarCap),
		LoseTopCutoff:    getInt("LOSE_TOP_CUTOFF", constants.DefaultLoseTopCutoff),
	}

	if cfg.GameAPIToken == "" {
		return nil, fmt.Errorf("GAME_API_TOKEN is required")
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Dur("poll_interval", cfg.PollInterval).
		Int("reconcile_max_attempts", cfg.ReconcileMaxAttempts).
		Dur("reconcile_interval", cfg.ReconcileInterval).
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

var Module = fx.Provide(Load)
