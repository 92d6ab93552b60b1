package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSQLiteURL(t *testing.T) {
	path, ok := sqlitePath("sqlite:///var/lib/salon.db")
	assert.True(t, ok)
	assert.Equal(t, "/var/lib/salon.db", path)

	path, ok = sqlitePath("sqlite::memory:")
	assert.True(t, ok)
	assert.Equal(t, ":memory:", path)

	_, ok = sqlitePath("postgres://localhost:5432/salon")
	assert.False(t, ok)
}

func TestSortedKeysDedupes(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, sortedKeys([]string{"b", "", "a", "b"}))
}
