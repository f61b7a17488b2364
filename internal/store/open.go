package store

import (
	"context"
	"fmt"
	"strings"

	"idleforge/internal/db"
)

const (
	KindMemory   = "memory"
	KindFile     = "file"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
)

type Options struct {
	Kind        string
	DataDir     string
	SQLitePath  string
	DatabaseURL string
	// CacheSize > 0 wraps the backend in an LRU.
	CacheSize int
}

// Open builds the configured backend. The returned func releases its
// connections.
func Open(ctx context.Context, opts Options) (Store, func(), error) {
	var (
		backend Store
		closeFn = func() {}
	)
	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case "", KindMemory:
		backend = NewMemory()
	case KindFile:
		f, err := NewFile(opts.DataDir)
		if err != nil {
			return nil, nil, err
		}
		backend = f
	case KindSQLite:
		conn, err := db.OpenSQLite(opts.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		backend = NewSQLite(conn)
		closeFn = func() { _ = conn.Close() }
	case KindPostgres:
		if strings.TrimSpace(opts.DatabaseURL) == "" {
			return nil, nil, fmt.Errorf("postgres store requires DATABASE_URL")
		}
		pool, err := db.Connect(ctx, opts.DatabaseURL, db.DefaultPoolConfig())
		if err != nil {
			return nil, nil, err
		}
		backend = NewPostgres(pool)
		closeFn = pool.Close
	default:
		return nil, nil, fmt.Errorf("unknown store kind %q", opts.Kind)
	}
	if opts.CacheSize > 0 {
		cached, err := NewCached(backend, opts.CacheSize)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		backend = cached
	}
	return backend, closeFn, nil
}
