package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"idleforge/internal/economy"
)

// SQLite stores snapshots as JSON text in the player_snapshots table
// created by db.OpenSQLite.
type SQLite struct {
	db *sqlx.DB
}

func NewSQLite(conn *sqlx.DB) *SQLite {
	return &SQLite{db: conn}
}

type snapshotRow struct {
	PlayerID  string `db:"player_id"`
	SessionID string `db:"session_id"`
	Body      string `db:"body"`
	SavedAt   string `db:"saved_at"`
}

func (s *SQLite) Save(ctx context.Context, playerID string, snap economy.Snapshot) error {
	if err := ValidatePlayerID(playerID); err != nil {
		return err
	}
	raw, err := encode(snap)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO player_snapshots (player_id, session_id, body, saved_at)
		VALUES (:player_id, :session_id, :body, :saved_at)`,
		snapshotRow{
			PlayerID:  playerID,
			SessionID: snap.SessionID,
			Body:      string(raw),
			SavedAt:   time.Now().UTC().Format(time.RFC3339Nano),
		})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context, playerID string) (economy.Snapshot, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, `
		SELECT player_id, session_id, body, saved_at
		FROM player_snapshots WHERE player_id = ?`, playerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return economy.Snapshot{}, ErrNotFound
		}
		return economy.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return decode([]byte(row.Body))
}

// Players lists every player with a saved snapshot.
func (s *SQLite) Players(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT player_id FROM player_snapshots ORDER BY player_id`); err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	return ids, nil
}
