package scheduler

import (
	"context"
	"fmt"

	"fwa-warsync/internal/config"
	"fwa-warsync/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler drives the poll loop: one TickAll pass per interval, plus
// a daily ledger-recovery sweep in case the ledger was wiped.
type Scheduler struct {
	cron    *cron.Cron
	tracker *service.Tracker
	ledger  *service.SyncLedger
	logger  zerolog.Logger
	cfg     *config.Config
}

func New(tracker *service.Tracker, ledger *service.SyncLedger, cfg *config.Config, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		tracker: tracker,
		ledger:  ledger,
		logger:  logger,
		cfg:     cfg,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.cfg.PollInterval)
	if _, err := s.cron.AddFunc(spec, func() {
		if err := s.tracker.TickAll(ctx); err != nil {
			s.logger.Error().Err(err).Msg("poll pass failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule poll pass: %w", err)
	}

	if _, err := s.cron.AddFunc("@daily", func() {
		prev, err := s.ledger.Get(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("ledger read failed")
			return
		}
		if prev != nil {
			return
		}
		if _, err := s.ledger.Recover(ctx); err != nil {
			s.logger.Error().Err(err).Msg("ledger recovery failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule ledger recovery: %w", err)
	}

	s.cron.Start()
	s.logger.Info().Dur("poll_interval", s.cfg.PollInterval).Msg("scheduler started")
	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
}
