package service

import (
	"context"

	"fwa-warsync/internal/domain"
	"fwa-warsync/internal/warphase"
)

// WarSource is the game's war API at the engine boundary.
type WarSource interface {
	GetCurrentWar(ctx context.Context, clanTag string) (*domain.WarInfo, error)
	GetWarLog(ctx context.Context, clanTag string) ([]domain.WarLogEntry, error)
}

// PointsSource is the community points site at the engine boundary.
// One call is one fetch; retrying is the reconciler's job, never the
// source's.
type PointsSource interface {
	FetchSnapshot(ctx context.Context, clanTag string) (*domain.PointsSnapshot, error)
}

// EventSink receives phase-transition events. The notification layer
// plugs in here; the engine itself only raises the events.
type EventSink interface {
	WarEvent(ctx context.Context, clan domain.TrackedClan, event warphase.Event, war *domain.WarInfo)
}
