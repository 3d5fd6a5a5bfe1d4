package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"fwa-warsync/internal/constants"
	"fwa-warsync/internal/kv"
	"fwa-warsync/internal/repository"

	"github.com/rs/zerolog"
)

// SyncLedger holds the alliance-wide "previous sync number". The value
// is monotonically non-decreasing once established; while any clan is
// at war the current sync is always previous+1. Writes are serialized
// here because recovery and war-end updates can race.
type SyncLedger struct {
	mu     sync.Mutex
	store  kv.Store
	clans  *repository.ClanRepository
	wars   WarSource
	points PointsSource
	logger zerolog.Logger
}

func NewSyncLedger(store kv.Store, clans *repository.ClanRepository, wars WarSource, points PointsSource, logger zerolog.Logger) *SyncLedger {
	return &SyncLedger{store: store, clans: clans, wars: wars, points: points, logger: logger}
}

// Get returns the persisted previous sync number, or nil when the
// ledger has never been established.
func (l *SyncLedger) Get(ctx context.Context) (*int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(ctx)
}

func (l *SyncLedger) get(ctx context.Context) (*int, error) {
	raw, ok, err := l.store.Get(ctx, kv.KeyLedgerPrevious)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		// A corrupt value reads as unset; recovery re-derives it.
		l.logger.Warn().Str("value", raw).Msg("ledger value unparsable, treating as unset")
		return nil, nil
	}
	return &n, nil
}

// Set persists the previous sync number. Monotonic non-decrease is the
// caller's invariant; the ledger only guards against racing writers.
func (l *SyncLedger) Set(ctx context.Context, n int) error {
	if n < 0 {
		return fmt.Errorf("sync number must be non-negative, got %d", n)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Set(ctx, kv.KeyLedgerPrevious, strconv.Itoa(n), 0)
}

// Recover bootstraps a missing ledger from the points site: the first
// tracked clan whose snapshot is confirmed updated for its live
// opponent yields winnerBoxSync-1. Returns nil when no clan can
// confirm a value. The external fetches run without the ledger lock;
// only the final persist is serialized, and an established value set
// concurrently wins over the derived one.
func (l *SyncLedger) Recover(ctx context.Context) (*int, error) {
	clans, err := l.clans.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list clans: %w", err)
	}

	for _, clan := range clans {
		warCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
		war, err := l.wars.GetCurrentWar(warCtx, clan.Tag)
		cancel()
		if err != nil || war == nil || war.Opponent.Tag == "" {
			continue
		}

		snapCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
		snap, err := l.points.FetchSnapshot(snapCtx, clan.Tag)
		cancel()
		if err != nil {
			l.logger.Debug().Err(err).Str("clan", clan.Tag).Msg("recovery scrape failed, trying next clan")
			continue
		}

		// With the ledger unset there is no parity to check, only
		// winner-box membership.
		if !snap.UpdatedFor(war.Opponent.Tag, nil) || snap.WinnerBoxSync == nil {
			continue
		}
		recovered := *snap.WinnerBoxSync - 1
		if recovered < 0 {
			continue
		}
		return l.persistRecovered(ctx, clan.Tag, recovered)
	}

	l.logger.Warn().Msg("sync ledger recovery found no confirmable clan")
	return nil, nil
}

func (l *SyncLedger) persistRecovered(ctx context.Context, tag string, recovered int) (*int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	established, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	if established != nil {
		l.logger.Info().Int("previous_sync", *established).Msg("ledger established during recovery, keeping it")
		return established, nil
	}
	if err := l.store.Set(ctx, kv.KeyLedgerPrevious, strconv.Itoa(recovered), 0); err != nil {
		return nil, err
	}
	l.logger.Info().Str("clan", tag).Int("previous_sync", recovered).Msg("sync ledger recovered")
	return &recovered, nil
}
