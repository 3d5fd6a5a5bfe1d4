package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"fwa-warsync/internal/constants"
	"fwa-warsync/internal/domain"
	"fwa-warsync/internal/metrics"
	"fwa-warsync/internal/repository"

	"github.com/rs/zerolog"
)

// Recorder settles a war into history at the war_ended transition.
type Recorder struct {
	history *repository.WarHistoryRepository
	attacks *repository.AttackRepository
	wars    WarSource
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewRecorder(history *repository.WarHistoryRepository, attacks *repository.AttackRepository, wars WarSource, m *metrics.Metrics, logger zerolog.Logger) *Recorder {
	return &Recorder{history: history, attacks: attacks, wars: wars, metrics: m, logger: logger}
}

// RecordWarEnd resolves final figures and upserts the history row plus
// the raw attack payload blob. Idempotent per (clan, warStartTime);
// repeat calls overwrite. It does not wait for the reconciliation job:
// whatever ledger state exists right now is what gets recorded.
func (r *Recorder) RecordWarEnd(
	ctx context.Context,
	clan domain.TrackedClan,
	lastWar *domain.WarInfo,
	matchType domain.MatchType,
	expected domain.Outcome,
	syncNumber *int,
	beforeBalance, afterBalance *int,
) (*domain.WarHistoryRecord, error) {
	if lastWar == nil || lastWar.StartTime == nil {
		return nil, fmt.Errorf("no war to record for %s", clan.Tag)
	}

	final := r.resolveFinal(ctx, clan.Tag, lastWar)
	actual := resolveActual(final)

	rec := &domain.WarHistoryRecord{
		ClanTag:             clan.Tag,
		WarStartTime:        *lastWar.StartTime,
		SyncNumber:          syncNumber,
		MatchType:           matchType,
		OpponentTag:         lastWar.Opponent.Tag,
		OpponentName:        lastWar.Opponent.Name,
		ClanStars:           final.clanStars,
		OpponentStars:       final.oppStars,
		ClanDestruction:     final.clanDestruction,
		OpponentDestruction: final.oppDestruction,
		ExpectedOutcome:     expected,
		ActualOutcome:       actual,
		PointDelta:          ComputeDelta(matchType, beforeBalance, afterBalance, actual, final.clanDestruction),
	}

	dbCtx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	if err := r.history.Upsert(dbCtx, rec); err != nil {
		return nil, fmt.Errorf("failed to upsert war history: %w", err)
	}

	payload, err := json.Marshal(lastWar)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw war payload: %w", err)
	}
	if err := r.history.SaveRawPayload(dbCtx, rec.ID, string(payload)); err != nil {
		return nil, fmt.Errorf("failed to save raw payload: %w", err)
	}

	r.metrics.WarsRecorded.Inc()
	r.logger.Info().
		Str("clan", clan.Tag).
		Str("match_type", string(matchType)).
		Str("expected", string(expected)).
		Str("actual", string(actual)).
		Msg("war recorded")
	return rec, nil
}

type finalFigures struct {
	clanStars       *int
	oppStars        *int
	clanDestruction *float64
	oppDestruction  *float64
	result          string
}

// resolveFinal prefers the war log entry matching the opponent, then
// the most recent log entry, then the last values observed live.
func (r *Recorder) resolveFinal(ctx context.Context, clanTag string, lastWar *domain.WarInfo) finalFigures {
	logCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	entries, err := r.wars.GetWarLog(logCtx, clanTag)
	cancel()
	if err != nil {
		r.metrics.FetchErrorsTotal.WithLabelValues("warlog").Inc()
		r.logger.Debug().Err(err).Str("clan", clanTag).Msg("war log unavailable, using live values")
	}

	var entry *domain.WarLogEntry
	want := domain.NormalizeTag(lastWar.Opponent.Tag)
	for i := range entries {
		if domain.NormalizeTag(entries[i].Opponent.Tag) == want {
			entry = &entries[i]
			break
		}
	}
	if entry == nil && len(entries) > 0 {
		entry = &entries[0]
	}

	if entry != nil {
		cs, os := entry.Clan.Stars, entry.Opponent.Stars
		cd, od := entry.Clan.DestructionPercentage, entry.Opponent.DestructionPercentage
		return finalFigures{clanStars: &cs, oppStars: &os, clanDestruction: &cd, oppDestruction: &od, result: entry.Result}
	}

	cs, os := lastWar.Clan.Stars, lastWar.Opponent.Stars
	cd, od := lastWar.Clan.DestructionPercentage, lastWar.Opponent.DestructionPercentage
	return finalFigures{clanStars: &cs, oppStars: &os, clanDestruction: &cd, oppDestruction: &od}
}

// resolveActual compares stars, falling back to the log's textual
// result field when stars are absent.
func resolveActual(f finalFigures) domain.Outcome {
	if f.clanStars != nil && f.oppStars != nil {
		switch {
		case *f.clanStars > *f.oppStars:
			return domain.OutcomeWin
		case *f.clanStars < *f.oppStars:
			return domain.OutcomeLose
		default:
			return domain.OutcomeTie
		}
	}
	switch strings.ToLower(f.result) {
	case "win":
		return domain.OutcomeWin
	case "lose":
		return domain.OutcomeLose
	case "tie":
		return domain.OutcomeTie
	}
	return domain.OutcomeUnknown
}

// blDestructionFloor is the destruction percentage that lifts a lost
// blacklist war from +1 to +2.
const blDestructionFloor = 60.0

// ComputeDelta computes the points gained by a settled war. Blacklist
// wars always gain something: +3 on a win, +2 at 60%+ destruction,
// else +1. FWA and mismatch wars are simply after minus before when
// both balances are known, else unknown.
func ComputeDelta(mt domain.MatchType, before, after *int, actual domain.Outcome, clanDestruction *float64) *int {
	if mt == domain.MatchBlacklist {
		delta := 1
		switch {
		case actual == domain.OutcomeWin:
			delta = 3
		case clanDestruction != nil && *clanDestruction >= blDestructionFloor:
			delta = 2
		}
		return &delta
	}
	if before == nil || after == nil {
		return nil
	}
	delta := *after - *before
	return &delta
}

// IngestAttacks converts a live war payload into attack and member
// rows for the tracked clan's side, computing marginal (true) star
// credit in board order. Existing rows keep their first observed time.
func IngestAttacks(clan domain.TrackedClan, war *domain.WarInfo, now time.Time) ([]domain.AttackRecord, []domain.WarMember) {
	if war == nil || war.StartTime == nil {
		return nil, nil
	}
	start := *war.StartTime

	position := make(map[string]int)
	defenderName := make(map[string]string)
	for _, m := range war.Clan.Members {
		position[domain.NormalizeTag(m.Tag)] = m.MapPosition
	}
	for _, m := range war.Opponent.Members {
		position[domain.NormalizeTag(m.Tag)] = m.MapPosition
		defenderName[domain.NormalizeTag(m.Tag)] = m.Name
	}

	type orderedAttack struct {
		member domain.WarMemberInfo
		attack domain.WarAttack
		nth    int
	}
	var ordered []orderedAttack
	members := make([]domain.WarMember, 0, len(war.Clan.Members))
	for _, m := range war.Clan.Members {
		members = append(members, domain.WarMember{
			ClanTag:      clan.Tag,
			WarStartTime: start,
			Tag:          m.Tag,
			Name:         m.Name,
			Position:     m.MapPosition,
			AttacksUsed:  len(m.Attacks),
		})
		for i, a := range m.Attacks {
			ordered = append(ordered, orderedAttack{member: m, attack: a, nth: i + 1})
		}
	}
	// The API's global attack order drives true-star accounting.
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].attack.Order < ordered[j].attack.Order
	})

	best := make(map[string]int)
	attacks := make([]domain.AttackRecord, 0, len(ordered))
	for _, oa := range ordered {
		def := domain.NormalizeTag(oa.attack.DefenderTag)
		trueStars := oa.attack.Stars - best[def]
		if trueStars < 0 {
			trueStars = 0
		}
		if oa.attack.Stars > best[def] {
			best[def] = oa.attack.Stars
		}
		attacks = append(attacks, domain.AttackRecord{
			ClanTag:          clan.Tag,
			WarStartTime:     start,
			AttackerTag:      oa.member.Tag,
			AttackerName:     oa.member.Name,
			AttackerPosition: oa.member.MapPosition,
			DefenderTag:      oa.attack.DefenderTag,
			DefenderName:     defenderName[def],
			DefenderPosition: position[def],
			Ordinal:          oa.nth,
			Stars:            oa.attack.Stars,
			TrueStars:        trueStars,
			Destruction:      oa.attack.DestructionPercentage,
			ObservedAt:       now,
		})
	}
	return attacks, members
}
