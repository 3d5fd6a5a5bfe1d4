package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fwa-warsync/internal/config"
	"fwa-warsync/internal/constants"
	"fwa-warsync/internal/database"
	"fwa-warsync/internal/domain"
	"fwa-warsync/internal/kv"
	"fwa-warsync/internal/metrics"
	"fwa-warsync/internal/repository"
	"fwa-warsync/internal/service"
	"fwa-warsync/internal/warphase"

	miniredis "github.com/alicebob/miniredis/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type stubPoints struct{}

func (stubPoints) FetchSnapshot(context.Context, string) (*domain.PointsSnapshot, error) {
	return &domain.PointsSnapshot{}, nil
}

type stubWars struct{}

func (stubWars) GetCurrentWar(context.Context, string) (*domain.WarInfo, error) {
	return &domain.WarInfo{State: "notInWar"}, nil
}

func (stubWars) GetWarLog(context.Context, string) ([]domain.WarLogEntry, error) {
	return nil, nil
}

type fixture struct {
	srv     http.Handler
	store   kv.Store
	ledger  *service.SyncLedger
	clans   *repository.ClanRepository
	history *repository.WarHistoryRepository
	attacks *repository.AttackRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	if err := database.Migrate(db, zerolog.Nop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)
	store := kv.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	cfg := &config.Config{
		ReconcileMaxAttempts: constants.DefaultReconcileMaxAttempts,
		ReconcileInterval:    constants.DefaultReconcileInterval,
		MissedSyncWindow:     constants.DefaultMissedSyncWindow,
		StrictWindow:         constants.DefaultStrictWindow,
		TrueStarCap:          constants.DefaultTrueStarCap,
		LoseTopCutoff:        constants.DefaultLoseTopCutoff,
	}
	logger := zerolog.Nop()
	clans := repository.NewClanRepository(db, logger)
	history := repository.NewWarHistoryRepository(db, logger)
	attacks := repository.NewAttackRepository(db, logger)
	ledger := service.NewSyncLedger(store, clans, stubWars{}, stubPoints{}, logger)
	reconciler := service.NewReconciler(store, stubPoints{}, clans, ledger, metrics.New(), cfg, logger)

	s := NewStatusServer(clans, history, attacks, reconciler, ledger, store, metrics.New(), cfg, logger)
	return &fixture{
		srv:     s.Handler(),
		store:   store,
		ledger:  ledger,
		clans:   clans,
		history: history,
		attacks: attacks,
	}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	if rr := f.get(t, "/healthz"); rr.Code != http.StatusOK {
		t.Errorf("healthz = %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	if rr := f.get(t, "/metrics"); rr.Code != http.StatusOK {
		t.Errorf("metrics = %d", rr.Code)
	}
}

func TestClansEndpoint(t *testing.T) {
	f := newFixture(t)
	if err := f.clans.Upsert(context.Background(), &domain.TrackedClan{Tag: "AAA", Name: "Alpha"}); err != nil {
		t.Fatal(err)
	}
	rr := f.get(t, "/api/clans")
	if rr.Code != http.StatusOK {
		t.Fatalf("clans = %d", rr.Code)
	}
	var got []domain.TrackedClan
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Tag != "AAA" {
		t.Errorf("clans body = %v", got)
	}
}

func TestClanSyncUnknownClan(t *testing.T) {
	f := newFixture(t)
	if rr := f.get(t, "/api/clans/GHOST/sync"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown clan sync = %d, want 404", rr.Code)
	}
}

func TestComplianceNoWars(t *testing.T) {
	f := newFixture(t)
	if rr := f.get(t, "/api/clans/AAA/compliance"); rr.Code != http.StatusNotFound {
		t.Errorf("compliance with no history = %d, want 404", rr.Code)
	}
}

func TestComplianceVerdict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.clans.Upsert(ctx, &domain.TrackedClan{Tag: "AAA", Name: "Alpha"}); err != nil {
		t.Fatal(err)
	}

	start := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	rec := &domain.WarHistoryRecord{
		ClanTag:         "AAA",
		WarStartTime:    start,
		MatchType:       domain.MatchFWA,
		OpponentTag:     "OPP",
		ExpectedOutcome: domain.OutcomeWin,
		ActualOutcome:   domain.OutcomeWin,
	}
	if err := f.history.Upsert(ctx, rec); err != nil {
		t.Fatal(err)
	}
	members := []domain.WarMember{
		{ClanTag: "AAA", WarStartTime: start, Tag: "#P1", Name: "Ann", Position: 1, AttacksUsed: 1},
		{ClanTag: "AAA", WarStartTime: start, Tag: "#P2", Name: "Bob", Position: 2, AttacksUsed: 0},
	}
	if err := f.attacks.UpsertMembers(ctx, members); err != nil {
		t.Fatal(err)
	}
	attacks := []domain.AttackRecord{{
		ClanTag: "AAA", WarStartTime: start,
		AttackerTag: "#P1", AttackerName: "Ann", AttackerPosition: 1,
		DefenderTag: "#D1", DefenderPosition: 1,
		Ordinal: 1, Stars: 3, TrueStars: 3, Destruction: 100,
		ObservedAt: start.Add(2 * time.Hour),
	}}
	if err := f.attacks.UpsertBatch(ctx, attacks); err != nil {
		t.Fatal(err)
	}

	rr := f.get(t, "/api/clans/AAA/compliance")
	if rr.Code != http.StatusOK {
		t.Fatalf("compliance = %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Verdict domain.ComplianceVerdict `json:"verdict"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Verdict.MissedBoth) != 1 || body.Verdict.MissedBoth[0] != "Bob" {
		t.Errorf("missedBoth = %v, want [Bob]", body.Verdict.MissedBoth)
	}
	if len(body.Verdict.NotFollowingPlan) != 0 {
		t.Errorf("notFollowingPlan = %v, want none", body.Verdict.NotFollowingPlan)
	}
}

func TestCohortSyncAmbiguousWhenNobodyAtWar(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.clans.Upsert(ctx, &domain.TrackedClan{Tag: "AAA", Name: "Alpha"}); err != nil {
		t.Fatal(err)
	}
	if err := f.ledger.Set(ctx, 41); err != nil {
		t.Fatal(err)
	}

	rr := f.get(t, "/api/sync")
	if rr.Code != http.StatusOK {
		t.Fatalf("sync = %d", rr.Code)
	}
	var body struct {
		PreviousSync *int     `json:"previous_sync"`
		CurrentSync  *int     `json:"current_sync"`
		Ambiguous    bool     `json:"ambiguous"`
		MissedSync   []string `json:"missed_sync"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Ambiguous {
		t.Error("nobody at war but sync not ambiguous")
	}
	if body.PreviousSync == nil || *body.PreviousSync != 41 {
		t.Errorf("previous_sync = %v, want 41", body.PreviousSync)
	}
	if body.CurrentSync == nil || *body.CurrentSync != 42 {
		t.Errorf("current_sync = %v, want 42", body.CurrentSync)
	}
}

func TestCohortSyncAtWar(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.clans.Upsert(ctx, &domain.TrackedClan{Tag: "AAA", Name: "Alpha"}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Set(ctx, kv.PhaseKey("AAA"), string(warphase.InWar), 0); err != nil {
		t.Fatal(err)
	}
	start := time.Now().UTC().Add(-time.Hour)
	war := &domain.WarInfo{State: "inWar", StartTime: &start}
	raw, _ := json.Marshal(war)
	if err := f.store.Set(ctx, kv.LastWarKey("AAA"), string(raw), 0); err != nil {
		t.Fatal(err)
	}

	rr := f.get(t, "/api/sync")
	if rr.Code != http.StatusOK {
		t.Fatalf("sync = %d", rr.Code)
	}
	var body struct {
		Ambiguous  bool     `json:"ambiguous"`
		MissedSync []string `json:"missed_sync"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Ambiguous {
		t.Error("clan at war but sync reported ambiguous")
	}
	if len(body.MissedSync) != 0 {
		t.Errorf("missed_sync = %v, want none", body.MissedSync)
	}
}
