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
	"fwa-warsync/internal/warphase"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Tracker runs the per-clan poll cycle: observe the war, detect phase
// transitions, drive the reconciliation job, ingest attacks and settle
// the war into history when it ends.
type Tracker struct {
	clans      *repository.ClanRepository
	attackRepo *repository.AttackRepository
	wars       WarSource
	points     PointsSource
	reconciler *Reconciler
	recorder   *Recorder
	ledger     *SyncLedger
	store      kv.Store
	sink       EventSink
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	cfg        *config.Config

	// Concurrent ticks for the same clan would double-count job
	// attempts and race the job blob; single-flight per clan key
	// collapses them.
	flight singleflight.Group
}

func NewTracker(
	clans *repository.ClanRepository,
	attackRepo *repository.AttackRepository,
	wars WarSource,
	points PointsSource,
	reconciler *Reconciler,
	recorder *Recorder,
	ledger *SyncLedger,
	store kv.Store,
	sink EventSink,
	m *metrics.Metrics,
	cfg *config.Config,
	logger zerolog.Logger,
) *Tracker {
	return &Tracker{
		clans:      clans,
		attackRepo: attackRepo,
		wars:       wars,
		points:     points,
		reconciler: reconciler,
		recorder:   recorder,
		ledger:     ledger,
		store:      store,
		sink:       sink,
		metrics:    m,
		logger:     logger,
		cfg:        cfg,
	}
}

// TickAll polls every tracked clan with bounded concurrency. Per-clan
// failures are counted and logged, never fatal to the pass.
func (t *Tracker) TickAll(ctx context.Context) error {
	clans, err := t.clans.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list clans: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.TickConcurrency)
	for _, clan := range clans {
		g.Go(func() error {
			if err := t.TickClan(gCtx, clan); err != nil {
				t.metrics.TicksTotal.WithLabelValues("error").Inc()
				t.logger.Error().Err(err).Str("clan", clan.Tag).Msg("tick failed")
			} else {
				t.metrics.TicksTotal.WithLabelValues("ok").Inc()
			}
			return nil
		})
	}
	return g.Wait()
}

// TickClan runs one poll for one clan.
func (t *Tracker) TickClan(ctx context.Context, clan domain.TrackedClan) error {
	tag := domain.NormalizeTag(clan.Tag)
	_, err, _ := t.flight.Do(tag, func() (any, error) {
		tickCtx, cancel := context.WithTimeout(ctx, constants.TickTimeout)
		defer cancel()
		return nil, t.tick(tickCtx, clan)
	})
	return err
}

func (t *Tracker) tick(ctx context.Context, clan domain.TrackedClan) error {
	tag := domain.NormalizeTag(clan.Tag)

	warCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	war, err := t.wars.GetCurrentWar(warCtx, tag)
	cancel()
	if err != nil {
		t.metrics.FetchErrorsTotal.WithLabelValues("war").Inc()
		return fmt.Errorf("failed to fetch current war: %w", err)
	}

	next := warphase.Classify(war.State)
	prev := t.loadPhase(ctx, tag)
	t.metrics.PhaseGauge.WithLabelValues(tag).Set(phaseValue(next))

	if next != warphase.NotInWar {
		t.cacheLastWar(ctx, tag, war)
	}

	// The transition is handled before the reconciliation job runs, so
	// a war_started reset is never clobbered by an attempt against the
	// outgoing opponent's job.
	if event, ok := warphase.Transition(prev, next); ok {
		t.logger.Info().Str("clan", tag).Str("event", string(event)).
			Str("from", string(prev)).Str("to", string(next)).Msg("war phase transition")
		t.sink.WarEvent(ctx, clan, event, war)

		switch event {
		case warphase.EventWarStarted:
			// A new matchup invalidates the previous war's confirmed
			// scrape; the fresh job re-confirms against the new opponent.
			if err := t.clans.SetConfirmedScrape(ctx, tag, nil); err != nil {
				t.logger.Warn().Err(err).Str("clan", tag).Msg("failed to clear confirmed scrape")
			}
			if _, err := t.reconciler.Reset(ctx, tag, war.Opponent.Tag); err != nil {
				return fmt.Errorf("failed to reset reconciliation job: %w", err)
			}
		case warphase.EventWarEnded:
			if err := t.settle(ctx, clan); err != nil {
				return fmt.Errorf("failed to settle war: %w", err)
			}
		}
	}
	// Stored only after the handler succeeds: a failed settle leaves
	// the previous phase in place, so the next poll re-raises the
	// transition and retries. Settlement is idempotent per war.
	t.storePhase(ctx, tag, next)

	if next != warphase.NotInWar {
		opp := domain.NormalizeTag(war.Opponent.Tag)
		if opp != "" {
			if _, err := t.reconciler.Tick(ctx, tag, opp, clan.PointsBalance); err != nil {
				t.logger.Error().Err(err).Str("clan", tag).Msg("reconciliation tick failed")
			}
		}

		attacks, members := IngestAttacks(clan, war, nowUTC())
		if err := t.attackRepo.UpsertMembers(ctx, members); err != nil {
			t.logger.Error().Err(err).Str("clan", tag).Msg("failed to upsert war members")
		}
		if err := t.attackRepo.UpsertBatch(ctx, attacks); err != nil {
			t.logger.Error().Err(err).Str("clan", tag).Msg("failed to upsert attacks")
		}
	}
	return nil
}

// settle records the ended war. It uses whatever ledger and job state
// exists right now; there is no ordering guarantee against the
// reconciliation job finishing.
func (t *Tracker) settle(ctx context.Context, clan domain.TrackedClan) error {
	tag := domain.NormalizeTag(clan.Tag)

	lastWar := t.loadLastWar(ctx, tag)
	if lastWar == nil {
		return fmt.Errorf("war ended for %s but no cached war payload", tag)
	}
	opp := domain.NormalizeTag(lastWar.Opponent.Tag)

	matchType, err := t.resolveMatchType(ctx, tag, opp)
	if err != nil {
		return err
	}

	expected := domain.OutcomeUnknown
	var syncNumber, before *int
	if cs := clan.ConfirmedScrape; cs != nil && domain.NormalizeTag(cs.OpponentTag) == opp {
		expected = cs.ExpectedOutcome
		syncNumber = cs.SyncNumber
		before = cs.ClanBalance
	}

	// Best effort: the post-war balance comes from a fresh scrape, and
	// a failed fetch just leaves the delta unknown.
	var after *int
	snapCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	if snap, err := t.points.FetchSnapshot(snapCtx, tag); err == nil {
		after = resolveClanBalance(snap)
	} else {
		t.metrics.FetchErrorsTotal.WithLabelValues("points").Inc()
	}
	cancel()

	rec, err := t.recorder.RecordWarEnd(ctx, clan, lastWar, matchType, expected, syncNumber, before, after)
	if err != nil {
		return err
	}
	t.auditSettled(ctx, clan, rec, lastWar)

	// The finished sync becomes the new "previous". Monotonic: never
	// move the ledger backwards.
	if syncNumber != nil {
		prev, err := t.ledger.Get(ctx)
		if err == nil && (prev == nil || *syncNumber > *prev) {
			if err := t.ledger.Set(ctx, *syncNumber); err != nil {
				t.logger.Error().Err(err).Str("clan", tag).Msg("failed to advance sync ledger")
			}
		}
	}
	return nil
}

// auditSettled logs the settled war's compliance verdict. Verdicts are
// derived, never stored; the status API recomputes them on demand.
func (t *Tracker) auditSettled(ctx context.Context, clan domain.TrackedClan, rec *domain.WarHistoryRecord, lastWar *domain.WarInfo) {
	tag := domain.NormalizeTag(clan.Tag)

	members, err := t.attackRepo.ListMembers(ctx, tag, rec.WarStartTime)
	if err != nil {
		t.logger.Warn().Err(err).Str("clan", tag).Msg("failed to load members for audit")
		return
	}
	attacks, err := t.attackRepo.ListByWar(ctx, tag, rec.WarStartTime)
	if err != nil {
		t.logger.Warn().Err(err).Str("clan", tag).Msg("failed to load attacks for audit")
		return
	}

	warEnd := rec.WarStartTime.Add(24 * time.Hour)
	if lastWar.EndTime != nil {
		warEnd = *lastWar.EndTime
	}

	verdict := Audit(AuditInput{
		MatchType:       rec.MatchType,
		ExpectedOutcome: rec.ExpectedOutcome,
		LoseStyle:       clan.LoseStyle,
		WarEnd:          warEnd,
		Members:         members,
		Attacks:         attacks,
		StrictWindow:    t.cfg.StrictWindow,
		TrueStarCap:     t.cfg.TrueStarCap,
		LoseTopCut:      t.cfg.LoseTopCutoff,
	})
	t.logger.Info().
		Str("clan", tag).
		Strs("missed_both", verdict.MissedBoth).
		Strs("not_following_plan", verdict.NotFollowingPlan).
		Msg("war compliance verdict")
}

// resolveMatchType classifies the war: a blacklisted opponent is a BL
// war; otherwise the opponent probe decides FWA versus mismatch.
func (t *Tracker) resolveMatchType(ctx context.Context, clanTag, opponentTag string) (domain.MatchType, error) {
	blacklisted, err := t.clans.IsBlacklisted(ctx, opponentTag)
	if err != nil {
		return "", fmt.Errorf("failed to check blacklist: %w", err)
	}
	if blacklisted {
		return domain.MatchBlacklist, nil
	}
	job, err := t.reconciler.Load(ctx, clanTag)
	if err != nil {
		return "", err
	}
	if job != nil && domain.NormalizeTag(job.OpponentTag) == opponentTag && job.OpponentIsFWA {
		return domain.MatchFWA, nil
	}
	return domain.MatchMismatch, nil
}

func (t *Tracker) loadPhase(ctx context.Context, tag string) warphase.Phase {
	raw, ok, err := t.store.Get(ctx, kv.PhaseKey(tag))
	if err != nil || !ok {
		return warphase.NotInWar
	}
	return warphase.Classify(raw)
}

func (t *Tracker) storePhase(ctx context.Context, tag string, phase warphase.Phase) {
	if err := t.store.Set(ctx, kv.PhaseKey(tag), string(phase), constants.PhaseKeyTTL); err != nil {
		t.logger.Warn().Err(err).Str("clan", tag).Msg("failed to store phase")
	}
}

// cacheLastWar keeps the most recent live war payload so the settle
// path still has rosters and attacks after the API flips to notInWar.
func (t *Tracker) cacheLastWar(ctx context.Context, tag string, war *domain.WarInfo) {
	raw, err := json.Marshal(war)
	if err != nil {
		return
	}
	if err := t.store.Set(ctx, kv.LastWarKey(tag), string(raw), constants.LastWarTTL); err != nil {
		t.logger.Warn().Err(err).Str("clan", tag).Msg("failed to cache war payload")
	}
}

func (t *Tracker) loadLastWar(ctx context.Context, tag string) *domain.WarInfo {
	raw, ok, err := t.store.Get(ctx, kv.LastWarKey(tag))
	if err != nil || !ok {
		return nil
	}
	var war domain.WarInfo
	if err := json.Unmarshal([]byte(raw), &war); err != nil {
		return nil
	}
	return &war
}

func nowUTC() time.Time { return time.Now().UTC() }

func phaseValue(p warphase.Phase) float64 {
	switch p {
	case warphase.Preparation:
		return 1
	case warphase.InWar:
		return 2
	}
	return 0
}

// LogSink is the default event sink: it only logs. The messaging
// layer replaces it in deployments that notify.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) WarEvent(_ context.Context, clan domain.TrackedClan, event warphase.Event, war *domain.WarInfo) {
	e := s.logger.Info().Str("clan", clan.Tag).Str("event", string(event))
	if war != nil {
		e = e.Str("opponent", war.Opponent.Name)
	}
	e.Msg("war event")
}
