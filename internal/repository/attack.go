package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fwa-warsync/internal/domain"

	"github.com/rs/zerolog"
)

type AttackRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewAttackRepository(db *sql.DB, logger zerolog.Logger) *AttackRepository {
	return &AttackRepository{db: db, logger: logger}
}

// UpsertBatch writes attack rows for one war in a single transaction.
// observed_at is set on insert and never overwritten, so the recorded
// wall-clock time of first observation survives later polls.
func (r *AttackRepository) UpsertBatch(ctx context.Context, attacks []domain.AttackRecord) error {
	if len(attacks) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, a := range attacks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attacks (
				clan_tag, war_start_time, attacker_tag, ordinal,
				attacker_name, attacker_position, defender_tag, defender_name,
				defender_position, stars, true_stars, destruction, observed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (clan_tag, war_start_time, attacker_tag, ordinal) DO UPDATE SET
				attacker_name = excluded.attacker_name,
				attacker_position = excluded.attacker_position,
				defender_tag = excluded.defender_tag,
				defender_name = excluded.defender_name,
				defender_position = excluded.defender_position,
				stars = excluded.stars,
				true_stars = excluded.true_stars,
				destruction = excluded.destruction`,
			domain.NormalizeTag(a.ClanTag), a.WarStartTime.UTC(),
			domain.NormalizeTag(a.AttackerTag), a.Ordinal,
			a.AttackerName, a.AttackerPosition,
			domain.NormalizeTag(a.DefenderTag), a.DefenderName, a.DefenderPosition,
			a.Stars, a.TrueStars, a.Destruction, a.ObservedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to upsert attack %s/%d: %w", a.AttackerTag, a.Ordinal, err)
		}
	}
	return tx.Commit()
}

func (r *AttackRepository) UpsertMembers(ctx context.Context, members []domain.WarMember) error {
	if len(members) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range members {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO war_members (
				clan_tag, war_start_time, member_tag, name, position, attacks_used
			) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (clan_tag, war_start_time, member_tag) DO UPDATE SET
				name = excluded.name,
				position = excluded.position,
				attacks_used = excluded.attacks_used`,
			domain.NormalizeTag(m.ClanTag), m.WarStartTime.UTC(),
			domain.NormalizeTag(m.Tag), m.Name, m.Position, m.AttacksUsed)
		if err != nil {
			return fmt.Errorf("failed to upsert member %s: %w", m.Tag, err)
		}
	}
	return tx.Commit()
}

// ListByWar returns a war's attacks in observed order, which is the
// order the compliance auditor evaluates running totals in.
func (r *AttackRepository) ListByWar(ctx context.Context, clanTag string, start time.Time) ([]domain.AttackRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT clan_tag, war_start_time, attacker_tag, ordinal,
		       attacker_name, attacker_position, defender_tag, defender_name,
		       defender_position, stars, true_stars, destruction, observed_at
		FROM attacks WHERE clan_tag = ? AND war_start_time = ?
		ORDER BY observed_at, ordinal`,
		domain.NormalizeTag(clanTag), start.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attacks []domain.AttackRecord
	for rows.Next() {
		var a domain.AttackRecord
		if err := rows.Scan(&a.ClanTag, &a.WarStartTime, &a.AttackerTag, &a.Ordinal,
			&a.AttackerName, &a.AttackerPosition, &a.DefenderTag, &a.DefenderName,
			&a.DefenderPosition, &a.Stars, &a.TrueStars, &a.Destruction, &a.ObservedAt); err != nil {
			return nil, err
		}
		attacks = append(attacks, a)
	}
	return attacks, rows.Err()
}

func (r *AttackRepository) ListMembers(ctx context.Context, clanTag string, start time.Time) ([]domain.WarMember, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT clan_tag, war_start_time, member_tag, name, position, attacks_used
		FROM war_members WHERE clan_tag = ? AND war_start_time = ?
		ORDER BY position`,
		domain.NormalizeTag(clanTag), start.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []domain.WarMember
	for rows.Next() {
		var m domain.WarMember
		if err := rows.Scan(&m.ClanTag, &m.WarStartTime, &m.Tag, &m.Name,
			&m.Position, &m.AttacksUsed); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
