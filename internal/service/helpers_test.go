package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"fwa-warsync/internal/config"
	"fwa-warsync/internal/constants"
	"fwa-warsync/internal/database"
	"fwa-warsync/internal/domain"
	"fwa-warsync/internal/kv"
	"fwa-warsync/internal/repository"

	miniredis "github.com/alicebob/miniredis/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testConfig() *config.Config {
	return &config.Config{
		ReconcileMaxAttempts: constants.DefaultReconcileMaxAttempts,
		ReconcileInterval:    constants.DefaultReconcileInterval,
		MissedSyncWindow:     constants.DefaultMissedSyncWindow,
		StrictWindow:         constants.DefaultStrictWindow,
		TrueStarCap:          constants.DefaultTrueStarCap,
		LoseTopCutoff:        constants.DefaultLoseTopCutoff,
		TickConcurrency:      constants.DefaultTickConcurrency,
	}
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := database.Migrate(db, testLogger()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestKV(t *testing.T) kv.Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return kv.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func newTestClans(t *testing.T, db *sql.DB, clans ...domain.TrackedClan) *repository.ClanRepository {
	t.Helper()
	repo := repository.NewClanRepository(db, testLogger())
	for i := range clans {
		if err := repo.Upsert(context.Background(), &clans[i]); err != nil {
			t.Fatalf("seed clan %s: %v", clans[i].Tag, err)
		}
	}
	return repo
}

type fakeWars struct {
	wars map[string]*domain.WarInfo
	logs map[string][]domain.WarLogEntry
	errs map[string]error
}

func (f *fakeWars) GetCurrentWar(_ context.Context, tag string) (*domain.WarInfo, error) {
	tag = domain.NormalizeTag(tag)
	if err := f.errs[tag]; err != nil {
		return nil, err
	}
	if w, ok := f.wars[tag]; ok {
		return w, nil
	}
	return &domain.WarInfo{State: "notInWar"}, nil
}

func (f *fakeWars) GetWarLog(_ context.Context, tag string) ([]domain.WarLogEntry, error) {
	return f.logs[domain.NormalizeTag(tag)], nil
}

type fakePoints struct {
	snaps   map[string]*domain.PointsSnapshot
	errs    map[string]error
	fetches map[string]int
}

func (f *fakePoints) FetchSnapshot(_ context.Context, tag string) (*domain.PointsSnapshot, error) {
	tag = domain.NormalizeTag(tag)
	if f.fetches == nil {
		f.fetches = map[string]int{}
	}
	f.fetches[tag]++
	if err := f.errs[tag]; err != nil {
		return nil, err
	}
	if s, ok := f.snaps[tag]; ok {
		return s, nil
	}
	return &domain.PointsSnapshot{Tag: tag, FetchedAt: time.Now()}, nil
}

func iptr(n int) *int { return &n }

func tptr(t time.Time) *time.Time { return &t }
