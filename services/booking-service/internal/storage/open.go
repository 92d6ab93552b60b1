package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/salonbook/libs/db"
)

// Open picks the adapter from the URL scheme: sqlite://path (or sqlite::memory:) opens
// SQLite, anything else is handed to pgx.
func Open(ctx context.Context, databaseURL string, opts db.PoolOptions) (Store, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if path, ok := sqlitePath(databaseURL); ok {
		conn, err := db.OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		return NewSQLite(conn), nil
	}
	pool, err := db.Open(ctx, databaseURL, opts)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewPostgres(pool), nil
}

func sqlitePath(url string) (string, bool) {
	switch {
	case strings.HasPrefix(url, "sqlite://"):
		return strings.TrimPrefix(url, "sqlite://"), true
	case strings.HasPrefix(url, "sqlite:"):
		return strings.TrimPrefix(url, "sqlite:"), true
	}
	return "", false
}
