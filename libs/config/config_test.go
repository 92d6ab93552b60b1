package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "8083")
	p, err := Port("TEST_PORT", "1")
	require.NoError(t, err)
	assert.Equal(t, "8083", p)

	t.Setenv("TEST_PORT", "70000")
	_, err = Port("TEST_PORT", "1")
	assert.Error(t, err)
}

func TestInt(t *testing.T) {
	n, err := Int("TEST_INT_UNSET", 60)
	require.NoError(t, err)
	assert.Equal(t, 60, n)

	t.Setenv("TEST_INT", "30")
	n, err = Int("TEST_INT", 60)
	require.NoError(t, err)
	assert.Equal(t, 30, n)

	t.Setenv("TEST_INT", "-5")
	_, err = Int("TEST_INT", 60)
	assert.Error(t, err)
}

func TestDurationAndBool(t *testing.T) {
	t.Setenv("TEST_TTL", "20s")
	d, err := Duration("TEST_TTL", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, d)

	t.Setenv("TEST_TTL", "soon")
	_, err = Duration("TEST_TTL", time.Second)
	assert.Error(t, err)

	t.Setenv("TEST_FLAG", "true")
	assert.True(t, Bool("TEST_FLAG", false))
	t.Setenv("TEST_FLAG", "nope")
	assert.False(t, Bool("TEST_FLAG", false))
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("SALONBOOK_DOTENV_PROBE=from-file\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("SALONBOOK_DOTENV_PROBE") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", String("SALONBOOK_DOTENV_PROBE", ""))

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}
