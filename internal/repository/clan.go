package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fwa-warsync/internal/domain"

	"github.com/rs/zerolog"
)

type ClanRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewClanRepository(db *sql.DB, logger zerolog.Logger) *ClanRepository {
	return &ClanRepository{db: db, logger: logger}
}

func (r *ClanRepository) List(ctx context.Context) ([]domain.TrackedClan, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tag, name, lose_style, points_balance, confirmed_scrape, created_at, updated_at
		FROM clans ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clans []domain.TrackedClan
	for rows.Next() {
		clan, err := scanClan(rows)
		if err != nil {
			return nil, err
		}
		clans = append(clans, *clan)
	}
	return clans, rows.Err()
}

func (r *ClanRepository) Get(ctx context.Context, tag string) (*domain.TrackedClan, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT tag, name, lose_style, points_balance, confirmed_scrape, created_at, updated_at
		FROM clans WHERE tag = ?`, domain.NormalizeTag(tag))
	clan, err := scanClan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return clan, nil
}

func (r *ClanRepository) Upsert(ctx context.Context, clan *domain.TrackedClan) error {
	scrape, err := marshalScrape(clan.ConfirmedScrape)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO clans (tag, name, lose_style, points_balance, confirmed_scrape, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tag) DO UPDATE SET
			name = excluded.name,
			lose_style = excluded.lose_style,
			points_balance = excluded.points_balance,
			confirmed_scrape = excluded.confirmed_scrape,
			updated_at = excluded.updated_at`,
		domain.NormalizeTag(clan.Tag), clan.Name, string(clan.LoseStyle),
		nullInt(clan.PointsBalance), scrape, now, now)
	return err
}

// SetConfirmedScrape freezes the verified points snapshot for a clan.
// A nil scrape clears it (done when a new war begins).
func (r *ClanRepository) SetConfirmedScrape(ctx context.Context, tag string, scrape *domain.ConfirmedScrape) error {
	raw, err := marshalScrape(scrape)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE clans SET confirmed_scrape = ?, updated_at = ? WHERE tag = ?`,
		raw, time.Now().UTC(), domain.NormalizeTag(tag))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("clan %s is not tracked", tag)
	}
	return nil
}

func (r *ClanRepository) SetPointsBalance(ctx context.Context, tag string, balance *int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE clans SET points_balance = ?, updated_at = ? WHERE tag = ?`,
		nullInt(balance), time.Now().UTC(), domain.NormalizeTag(tag))
	return err
}

func (r *ClanRepository) IsBlacklisted(ctx context.Context, tag string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM blacklist WHERE tag = ?`, domain.NormalizeTag(tag)).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *ClanRepository) AddToBlacklist(ctx context.Context, tag, name string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO blacklist (tag, name, added_at) VALUES (?, ?, ?)
		ON CONFLICT (tag) DO UPDATE SET name = excluded.name`,
		domain.NormalizeTag(tag), name, time.Now().UTC())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClan(row rowScanner) (*domain.TrackedClan, error) {
	var clan domain.TrackedClan
	var style string
	var balance sql.NullInt64
	var scrape sql.NullString
	if err := row.Scan(&clan.Tag, &clan.Name, &style, &balance, &scrape,
		&clan.CreatedAt, &clan.UpdatedAt); err != nil {
		return nil, err
	}
	clan.LoseStyle = domain.LoseStyle(style)
	if balance.Valid {
		v := int(balance.Int64)
		clan.PointsBalance = &v
	}
	if scrape.Valid && scrape.String != "" {
		var cs domain.ConfirmedScrape
		if err := json.Unmarshal([]byte(scrape.String), &cs); err != nil {
			return nil, fmt.Errorf("corrupt confirmed scrape for %s: %w", clan.Tag, err)
		}
		clan.ConfirmedScrape = &cs
	}
	return &clan, nil
}

func marshalScrape(scrape *domain.ConfirmedScrape) (sql.NullString, error) {
	if scrape == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(scrape)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal confirmed scrape: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}
