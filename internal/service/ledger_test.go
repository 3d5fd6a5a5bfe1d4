package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"fwa-warsync/internal/domain"
	"fwa-warsync/internal/kv"
)

func TestLedgerGetUnset(t *testing.T) {
	store := newTestKV(t)
	ledger := NewSyncLedger(store, nil, nil, nil, testLogger())
	got, err := ledger.Get(context.Background())
	if err != nil || got != nil {
		t.Errorf("unset ledger: got %v, %v", got, err)
	}
}

func TestLedgerSetGet(t *testing.T) {
	store := newTestKV(t)
	ledger := NewSyncLedger(store, nil, nil, nil, testLogger())
	if err := ledger.Set(context.Background(), 41); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := ledger.Get(context.Background())
	if err != nil || got == nil || *got != 41 {
		t.Errorf("Get = %v, %v, want 41", got, err)
	}
	if err := ledger.Set(context.Background(), -1); err == nil {
		t.Error("negative sync number accepted")
	}
}

func TestLedgerCorruptValueReadsAsUnset(t *testing.T) {
	store := newTestKV(t)
	if err := store.Set(context.Background(), kv.KeyLedgerPrevious, "not-a-number", 0); err != nil {
		t.Fatal(err)
	}
	ledger := NewSyncLedger(store, nil, nil, nil, testLogger())
	got, err := ledger.Get(context.Background())
	if err != nil || got != nil {
		t.Errorf("corrupt ledger: got %v, %v, want nil, nil", got, err)
	}
}

func TestLedgerRecover(t *testing.T) {
	store := newTestKV(t)
	db := newTestDB(t)
	clans := newTestClans(t, db,
		domain.TrackedClan{Tag: "AAA", Name: "Alpha"},
		domain.TrackedClan{Tag: "BBB", Name: "Beta"},
	)

	start := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	wars := &fakeWars{wars: map[string]*domain.WarInfo{
		"AAA": {State: "inWar", StartTime: tptr(start), Opponent: domain.WarClan{Tag: "#X1"}},
		"BBB": {State: "inWar", StartTime: tptr(start), Opponent: domain.WarClan{Tag: "#X2"}},
	}}
	points := &fakePoints{
		errs: map[string]error{"AAA": errors.New("scrape timeout")},
		snaps: map[string]*domain.PointsSnapshot{
			"BBB": {
				Tag:           "BBB",
				WinnerBoxTags: []string{"#X2", "#BBB"},
				WinnerBoxSync: iptr(42),
			},
		},
	}

	ledger := NewSyncLedger(store, clans, wars, points, testLogger())
	got, err := ledger.Recover(context.Background())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if got == nil || *got != 41 {
		t.Fatalf("Recover = %v, want 41 (winner box sync minus one)", got)
	}

	persisted, err := ledger.Get(context.Background())
	if err != nil || persisted == nil || *persisted != 41 {
		t.Errorf("ledger after recovery = %v, %v, want 41", persisted, err)
	}
}

// hookedPoints runs a callback before every snapshot fetch.
type hookedPoints struct {
	inner  *fakePoints
	before func()
}

func (h *hookedPoints) FetchSnapshot(ctx context.Context, tag string) (*domain.PointsSnapshot, error) {
	h.before()
	return h.inner.FetchSnapshot(ctx, tag)
}

// Recovery scrapes run without the ledger lock, so a war settling
// mid-recovery can establish the value first. The established value
// wins over the derived one.
func TestLedgerRecoverYieldsToEstablishedValue(t *testing.T) {
	store := newTestKV(t)
	db := newTestDB(t)
	clans := newTestClans(t, db, domain.TrackedClan{Tag: "AAA", Name: "Alpha"})

	start := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	wars := &fakeWars{wars: map[string]*domain.WarInfo{
		"AAA": {State: "inWar", StartTime: tptr(start), Opponent: domain.WarClan{Tag: "#X1"}},
	}}
	inner := &fakePoints{snaps: map[string]*domain.PointsSnapshot{
		"AAA": {Tag: "AAA", WinnerBoxTags: []string{"#X1", "#AAA"}, WinnerBoxSync: iptr(42)},
	}}

	var ledger *SyncLedger
	points := &hookedPoints{inner: inner, before: func() {
		// A concurrent writer lands while the scrape is in flight.
		// Under a lock held across fetches this call would deadlock.
		if err := ledger.Set(context.Background(), 55); err != nil {
			t.Errorf("Set during recovery: %v", err)
		}
	}}
	ledger = NewSyncLedger(store, clans, wars, points, testLogger())

	got, err := ledger.Recover(context.Background())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if got == nil || *got != 55 {
		t.Fatalf("Recover = %v, want the established 55 over the derived 41", got)
	}
	persisted, err := ledger.Get(context.Background())
	if err != nil || persisted == nil || *persisted != 55 {
		t.Errorf("ledger after recovery = %v, %v, want 55", persisted, err)
	}
}

func TestLedgerRecoverNothingConfirmable(t *testing.T) {
	store := newTestKV(t)
	db := newTestDB(t)
	clans := newTestClans(t, db, domain.TrackedClan{Tag: "AAA", Name: "Alpha"})

	start := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	wars := &fakeWars{wars: map[string]*domain.WarInfo{
		"AAA": {State: "inWar", StartTime: tptr(start), Opponent: domain.WarClan{Tag: "#X1"}},
	}}
	// Winner box still shows last sync's pairing.
	points := &fakePoints{snaps: map[string]*domain.PointsSnapshot{
		"AAA": {Tag: "AAA", WinnerBoxTags: []string{"#OLD"}, WinnerBoxSync: iptr(42)},
	}}

	ledger := NewSyncLedger(store, clans, wars, points, testLogger())
	got, err := ledger.Recover(context.Background())
	if err != nil || got != nil {
		t.Errorf("Recover = %v, %v, want nil, nil", got, err)
	}
	if persisted, _ := ledger.Get(context.Background()); persisted != nil {
		t.Errorf("ledger persisted %v after failed recovery", *persisted)
	}
}
