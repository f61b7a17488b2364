// Package store implements the persistence port: an opaque document
// store keyed by player id.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"idleforge/internal/economy"
)

var (
	ErrNotFound      = errors.New("snapshot not found")
	ErrInvalidPlayer = errors.New("invalid player id")
)

type Store interface {
	Save(ctx context.Context, playerID string, snap economy.Snapshot) error
	// Load returns ErrNotFound for a player that never saved.
	Load(ctx context.Context, playerID string) (economy.Snapshot, error)
}

var playerIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidatePlayerID accepts ids that are safe as file names and URL path
// segments.
func ValidatePlayerID(id string) error {
	if !playerIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidPlayer, id)
	}
	return nil
}

func encode(snap economy.Snapshot) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return raw, nil
}

func decode(raw []byte) (economy.Snapshot, error) {
	var snap economy.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return economy.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func clone(snap economy.Snapshot) economy.Snapshot {
	out := snap
	out.Owned = append([]economy.OwnedCount(nil), snap.Owned...)
	return out
}
