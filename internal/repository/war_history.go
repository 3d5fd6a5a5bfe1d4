package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fwa-warsync/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

type WarHistoryRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewWarHistoryRepository(db *sql.DB, logger zerolog.Logger) *WarHistoryRepository {
	return &WarHistoryRepository{db: db, logger: logger}
}

// Upsert writes the settled war row keyed by (clan, warStartTime). A
// repeat call for the same key keeps the existing row ID, so the raw
// payload blob stays attached. The record's ID field is filled in.
func (r *WarHistoryRepository) Upsert(ctx context.Context, rec *domain.WarHistoryRecord) error {
	existing, err := r.getID(ctx, rec.ClanTag, rec.WarStartTime)
	if err != nil {
		return err
	}
	if existing != "" {
		rec.ID = existing
	} else if rec.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate id: %w", err)
		}
		rec.ID = id
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO war_history (
			id, clan_tag, war_start_time, sync_number, match_type,
			opponent_tag, opponent_name, clan_stars, opponent_stars,
			clan_destruction, opponent_destruction, point_delta,
			expected_outcome, actual_outcome, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (clan_tag, war_start_time) DO UPDATE SET
			sync_number = excluded.sync_number,
			match_type = excluded.match_type,
			opponent_tag = excluded.opponent_tag,
			opponent_name = excluded.opponent_name,
			clan_stars = excluded.clan_stars,
			opponent_stars = excluded.opponent_stars,
			clan_destruction = excluded.clan_destruction,
			opponent_destruction = excluded.opponent_destruction,
			point_delta = excluded.point_delta,
			expected_outcome = excluded.expected_outcome,
			actual_outcome = excluded.actual_outcome,
			updated_at = excluded.updated_at`,
		rec.ID, domain.NormalizeTag(rec.ClanTag), rec.WarStartTime.UTC(),
		nullInt(rec.SyncNumber), string(rec.MatchType),
		domain.NormalizeTag(rec.OpponentTag), rec.OpponentName,
		nullInt(rec.ClanStars), nullInt(rec.OpponentStars),
		nullFloat(rec.ClanDestruction), nullFloat(rec.OpponentDestruction),
		nullInt(rec.PointDelta), string(rec.ExpectedOutcome), string(rec.ActualOutcome),
		now, now)
	return err
}

func (r *WarHistoryRepository) getID(ctx context.Context, clanTag string, start time.Time) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM war_history WHERE clan_tag = ? AND war_start_time = ?`,
		domain.NormalizeTag(clanTag), start.UTC()).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *WarHistoryRepository) GetLatest(ctx context.Context, clanTag string) (*domain.WarHistoryRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, clan_tag, war_start_time, sync_number, match_type,
		       opponent_tag, opponent_name, clan_stars, opponent_stars,
		       clan_destruction, opponent_destruction, point_delta,
		       expected_outcome, actual_outcome, created_at, updated_at
		FROM war_history WHERE clan_tag = ?
		ORDER BY war_start_time DESC LIMIT 1`, domain.NormalizeTag(clanTag))
	rec, err := scanHistory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SaveRawPayload attaches the raw attack payload blob to a history
// row, overwriting on repeat calls.
func (r *WarHistoryRepository) SaveRawPayload(ctx context.Context, historyID, payload string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO war_attacks_raw (history_id, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (history_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		historyID, payload, time.Now().UTC())
	return err
}

func scanHistory(row rowScanner) (*domain.WarHistoryRecord, error) {
	var rec domain.WarHistoryRecord
	var syncNumber, clanStars, oppStars, delta sql.NullInt64
	var clanDest, oppDest sql.NullFloat64
	var matchType, expected, actual string
	if err := row.Scan(&rec.ID, &rec.ClanTag, &rec.WarStartTime, &syncNumber, &matchType,
		&rec.OpponentTag, &rec.OpponentName, &clanStars, &oppStars,
		&clanDest, &oppDest, &delta, &expected, &actual,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.MatchType = domain.MatchType(matchType)
	rec.ExpectedOutcome = domain.Outcome(expected)
	rec.ActualOutcome = domain.Outcome(actual)
	rec.SyncNumber = intPtr(syncNumber)
	rec.ClanStars = intPtr(clanStars)
	rec.OpponentStars = intPtr(oppStars)
	rec.PointDelta = intPtr(delta)
	rec.ClanDestruction = floatPtr(clanDest)
	rec.OpponentDestruction = floatPtr(oppDest)
	return &rec, nil
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
