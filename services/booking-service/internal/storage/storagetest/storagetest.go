// Package storagetest provides a migrated in-memory store for package tests.
package storagetest

import (
	"context"
	"testing"

	"github.com/md-rashed-zaman/salonbook/libs/db"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
	"github.com/stretchr/testify/require"
)

func New(t testing.TB) *storage.SQLite {
	t.Helper()
	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, db.MemoryPath)
	require.NoError(t, err)
	store := storage.NewSQLite(conn)
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close() })
	return store
}
