package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fwa-warsync/internal/config"
	"fwa-warsync/internal/constants"
	"fwa-warsync/internal/domain"
	"fwa-warsync/internal/kv"
	"fwa-warsync/internal/metrics"
	"fwa-warsync/internal/repository"
	"fwa-warsync/internal/tiebreak"

	"github.com/rs/zerolog"
)

// Reconciler drives the per-(clan, opponent) job that keeps asking the
// points site until it reflects the current opponent, then freezes a
// verified snapshot and flags ledger/site mismatches. The site updates
// hours behind the game, so a job runs across many ticks.
type Reconciler struct {
	store   kv.Store
	points  PointsSource
	clans   *repository.ClanRepository
	ledger  *SyncLedger
	metrics *metrics.Metrics
	logger  zerolog.Logger

	maxAttempts int
	interval    time.Duration

	now func() time.Time
}

func NewReconciler(store kv.Store, points PointsSource, clans *repository.ClanRepository, ledger *SyncLedger, m *metrics.Metrics, cfg *config.Config, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:       store,
		points:      points,
		clans:       clans,
		ledger:      ledger,
		metrics:     m,
		logger:      logger,
		maxAttempts: cfg.ReconcileMaxAttempts,
		interval:    cfg.ReconcileInterval,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Load returns the stored job for a clan, or nil when none exists.
func (r *Reconciler) Load(ctx context.Context, clanTag string) (*domain.ReconciliationJob, error) {
	raw, ok, err := r.store.Get(ctx, kv.JobKey(domain.NormalizeTag(clanTag)))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var job domain.ReconciliationJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("corrupt reconciliation job for %s: %w", clanTag, err)
	}
	return &job, nil
}

// Reset replaces whatever job exists for the clan with a fresh pending
// job tied to the given opponent. Called whenever the clan's live
// opponent changes from what the stored job expects.
func (r *Reconciler) Reset(ctx context.Context, clanTag, opponentTag string) (*domain.ReconciliationJob, error) {
	job := &domain.ReconciliationJob{
		ClanTag:     domain.NormalizeTag(clanTag),
		OpponentTag: domain.NormalizeTag(opponentTag),
		MaxAttempts: r.maxAttempts,
		NextAttempt: r.now(),
		Status:      domain.JobPending,
	}
	if err := r.save(ctx, job); err != nil {
		return nil, err
	}
	r.logger.Info().Str("clan", job.ClanTag).Str("opponent", job.OpponentTag).Msg("reconciliation job reset")
	return job, nil
}

// Tick advances the job one attempt. A call before the scheduled next
// attempt, or against a completed job, changes nothing. All fetch
// failures become job state; Tick itself only errors on storage
// problems.
func (r *Reconciler) Tick(ctx context.Context, clanTag, opponentTag string, ledgerBalance *int) (*domain.ReconciliationJob, error) {
	clanTag = domain.NormalizeTag(clanTag)
	opponentTag = domain.NormalizeTag(opponentTag)

	job, err := r.Load(ctx, clanTag)
	if err != nil {
		return nil, err
	}
	if job == nil || job.OpponentTag != opponentTag {
		if job, err = r.Reset(ctx, clanTag, opponentTag); err != nil {
			return nil, err
		}
	}
	now := r.now()
	if job.Completed || now.Before(job.NextAttempt) {
		return job, nil
	}

	snapCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	snap, fetchErr := r.points.FetchSnapshot(snapCtx, clanTag)
	cancel()

	job.Attempts++
	job.NextAttempt = now.Add(r.interval)
	exhausted := job.Attempts >= job.MaxAttempts

	if fetchErr != nil {
		r.metrics.FetchErrorsTotal.WithLabelValues("points").Inc()
		job.LastError = fetchErr.Error()
		if exhausted {
			job.Status = domain.JobMaxAttempts
			job.Completed = true
			r.metrics.JobsCompleted.WithLabelValues(string(job.Status)).Inc()
		} else {
			job.Status = domain.JobError
		}
		r.logger.Warn().Err(fetchErr).Str("clan", clanTag).Int("attempts", job.Attempts).Msg("points fetch failed")
		return job, r.save(ctx, job)
	}
	job.LastError = ""

	prevSync, err := r.ledger.Get(ctx)
	if err != nil {
		return nil, err
	}
	siteUpdated := snap.UpdatedFor(opponentTag, prevSync)

	// Probe the opponent's own page once per job lifetime. A parsable
	// balance is what distinguishes an FWA participant from a
	// mismatch, and one probe bounds external request volume.
	if !job.OpponentChecked {
		probeCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
		oppSnap, probeErr := r.points.FetchSnapshot(probeCtx, opponentTag)
		cancel()
		job.OpponentChecked = true
		if probeErr == nil {
			job.OpponentName = oppSnap.ClanName
			if oppSnap.Balance != nil {
				job.OpponentIsFWA = true
				job.OpponentBalance = oppSnap.Balance
			}
		} else {
			r.logger.Debug().Err(probeErr).Str("opponent", opponentTag).Msg("opponent probe failed")
		}
	}

	siteBalance := resolveClanBalance(snap)
	job.LedgerBalance = ledgerBalance
	job.SiteBalance = siteBalance
	job.SiteSync = snap.WinnerBoxSync

	mismatch := siteUpdated && ledgerBalance != nil && siteBalance != nil && *ledgerBalance != *siteBalance

	job.Completed = siteUpdated || exhausted
	switch {
	case siteUpdated && mismatch:
		job.Status = domain.JobOutOfSync
	case siteUpdated:
		job.Status = domain.JobInSync
	case exhausted:
		job.Status = domain.JobMaxAttempts
	default:
		job.Status = domain.JobPending
	}
	if job.Completed {
		r.metrics.JobsCompleted.WithLabelValues(string(job.Status)).Inc()
	}

	if siteUpdated {
		if err := r.confirm(ctx, clanTag, opponentTag, snap, job, prevSync); err != nil {
			r.logger.Error().Err(err).Str("clan", clanTag).Msg("failed to persist confirmed scrape")
		}
	}

	r.logger.Info().
		Str("clan", clanTag).
		Str("status", string(job.Status)).
		Int("attempts", job.Attempts).
		Bool("site_updated", siteUpdated).
		Msg("reconciliation attempt")

	return job, r.save(ctx, job)
}

// confirm freezes the verified snapshot onto the tracked-clan record.
// The confirmed value is preferred over live re-scraping until the
// next war.
func (r *Reconciler) confirm(ctx context.Context, clanTag, opponentTag string, snap *domain.PointsSnapshot, job *domain.ReconciliationJob, prevSync *int) error {
	clanBalance := resolveClanBalance(snap)
	oppBalance := resolveOpponentBalance(snap, job.OpponentBalance)

	// The sync in flight is previous+1 when the ledger is set; with it
	// unset the site's own winner-box sync is all there is.
	syncNumber := snap.WinnerBoxSync
	if prevSync != nil {
		n := *prevSync + 1
		syncNumber = &n
	}

	clan, err := r.clans.Get(ctx, clanTag)
	if err != nil {
		return err
	}
	if clan == nil {
		return fmt.Errorf("clan %s is not tracked", clanTag)
	}

	oppName := job.OpponentName
	if oppName == "" {
		oppName = snap.HeaderOpponentTag
	}
	scrape := &domain.ConfirmedScrape{
		ClanName:        snap.ClanName,
		OpponentTag:     opponentTag,
		OpponentName:    oppName,
		ClanBalance:     clanBalance,
		OpponentBalance: oppBalance,
		SyncNumber:      syncNumber,
		ExpectedOutcome: tiebreak.Project(clanTag, opponentTag, clanBalance, oppBalance, syncNumber),
		Summary:         tiebreak.Summary(snap.ClanName, clanTag, oppName, opponentTag, clanBalance, oppBalance, syncNumber),
		ConfirmedAt:     r.now(),
	}
	return r.clans.SetConfirmedScrape(ctx, clanTag, scrape)
}

func (r *Reconciler) save(ctx context.Context, job *domain.ReconciliationJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return r.store.Set(ctx, kv.JobKey(job.ClanTag), string(raw), constants.JobBlobTTL)
}
