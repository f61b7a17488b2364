package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"idleforge/internal/economy"
)

// Postgres stores snapshots as JSONB in the player_snapshots table
// created by db.Connect.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Save(ctx context.Context, playerID string, snap economy.Snapshot) error {
	if err := ValidatePlayerID(playerID); err != nil {
		return err
	}
	raw, err := encode(snap)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO player_snapshots (player_id, session_id, body, saved_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (player_id) DO UPDATE
		SET session_id = EXCLUDED.session_id, body = EXCLUDED.body, saved_at = EXCLUDED.saved_at`,
		playerID, snap.SessionID, string(raw))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (p *Postgres) Load(ctx context.Context, playerID string) (economy.Snapshot, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `SELECT body FROM player_snapshots WHERE player_id = $1`, playerID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return economy.Snapshot{}, ErrNotFound
		}
		return economy.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return decode(raw)
}
