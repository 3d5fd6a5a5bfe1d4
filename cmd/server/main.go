package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"fwa-warsync/internal/config"
	"fwa-warsync/internal/constants"
	fxmodules "fwa-warsync/internal/fx"
	"fwa-warsync/internal/scheduler"
	"fwa-warsync/internal/server"
	"fwa-warsync/internal/service"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(run),
	).Run()
}

func run(
	lc fx.Lifecycle,
	statusServer *server.StatusServer,
	sched *scheduler.Scheduler,
	ledger *service.SyncLedger,
	cfg *config.Config,
	db *sql.DB,
	logger zerolog.Logger,
) {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: statusServer.Handler(),
	}

	// The engine owns its own context: scheduled passes must not die
	// with an individual fx start hook.
	engineCtx, engineCancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Bootstrap the ledger from the points site when it was
			// never initialized or got wiped.
			if prev, err := ledger.Get(ctx); err == nil && prev == nil {
				go func() {
					if _, err := ledger.Recover(engineCtx); err != nil {
						logger.Error().Err(err).Msg("ledger recovery failed")
					}
				}()
			}

			if err := sched.Start(engineCtx); err != nil {
				return err
			}

			go func() {
				logger.Info().Str("addr", srv.Addr).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down")
			engineCancel()
			sched.Stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database")
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("server shutdown failed")
				return err
			}
			logger.Info().Msg("stopped gracefully")
			return nil
		},
	})
}
