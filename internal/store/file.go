package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"idleforge/internal/economy"
)

// File stores one JSON document per player under dir. Writes go to a
// temporary file that is renamed over the previous document, so a crash
// mid-write leaves the last complete save in place.
type File struct {
	dir string
	mu  sync.Mutex
}

func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &File{dir: dir}, nil
}

func (f *File) path(playerID string) string {
	return filepath.Join(f.dir, playerID+".json")
}

func (f *File) Save(ctx context.Context, playerID string, snap economy.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidatePlayerID(playerID); err != nil {
		return err
	}
	raw, err := encode(snap)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, playerID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(playerID)); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (f *File) Load(ctx context.Context, playerID string) (economy.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return economy.Snapshot{}, err
	}
	if err := ValidatePlayerID(playerID); err != nil {
		return economy.Snapshot{}, err
	}
	raw, err := os.ReadFile(f.path(playerID))
	if err != nil {
		if os.IsNotExist(err) {
			return economy.Snapshot{}, ErrNotFound
		}
		return economy.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	if len(raw) == 0 {
		return economy.Snapshot{}, ErrNotFound
	}
	return decode(raw)
}
