package pool

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DecodesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.yaml")
	const doc = `
host: db.internal
port: 3306
user: app
password: secret
database: appdb
size: 20
warm_up: 5
connect_timeout: 5s
socket_timeout: 15s
acquire_timeout: 2s
idle_timeout: 10m
max_lifetime: 1h
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, 3306, cfg.Port)
	assert.Equal(t, 20, cfg.Size)
	assert.Equal(t, 5, cfg.WarmUp)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 2*time.Second, cfg.AcquireTimeout)
	assert.Equal(t, 10*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, time.Hour, cfg.MaxLifetime)
}

func TestLoadConfig_MissingFileIsFileIOError(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_MalformedYAMLIsUsageError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: [unterminated"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
