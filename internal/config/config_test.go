package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4004", cfg.ServerAddr())
	assert.Equal(t, 50, cfg.Sounds.Volume)
	assert.True(t, cfg.Transfers.SuspendWhileAlive)
	assert.False(t, cfg.Network.TLS)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
network:
  server_host: sounds.example.com
  server_port: 4444
sounds:
  room: the boys
  volume: 80
transfers:
  suspend_while_alive: false
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sounds.example.com:4444", cfg.ServerAddr())
	assert.Equal(t, "the boys", cfg.Sounds.Room)
	assert.Equal(t, 80, cfg.Sounds.Volume)
	assert.False(t, cfg.Transfers.SuspendWhileAlive)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 4004, cfg.Network.ServerPort)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("QUAKE_SERVER_HOST", "10.0.0.2")
	t.Setenv("QUAKE_VOLUME", "25")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:4004", cfg.ServerAddr())
	assert.Equal(t, 25, cfg.Sounds.Volume)
}

func TestValidation(t *testing.T) {
	t.Run("volume out of range", func(t *testing.T) {
		t.Setenv("QUAKE_VOLUME", "101")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("tls cert without key", func(t *testing.T) {
		t.Setenv("QUAKE_TLS", "true")
		t.Setenv("QUAKE_TLS_CERT", "server.crt")
		_, err := Load("")
		assert.Error(t, err)
	})
}
