package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_AppliesDefaultsWithNoFileOrEnv(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, 5, cfg.MaxConnectionsPerUser)
	assert.Equal(t, 20000, cfg.MaxTotalConnections)
	assert.Equal(t, 20, cfg.MessageRateLimit)
	assert.Equal(t, int64(64*1024), cfg.MaxMessageSize)
	assert.Equal(t, 5, cfg.OutboxMaxRetries)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	yaml := "max_connections_per_user: 9\nlisten_addr: \":9999\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gateway.yaml"), []byte(yaml), 0o644))

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.MaxConnectionsPerUser)
	assert.Equal(t, ":9999", cfg.ListenAddr)
}

func TestLoadConfig_EnvOverridesFileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	yaml := "max_connections_per_user: 9\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gateway.yaml"), []byte(yaml), 0o644))

	t.Setenv("GATEWAY_MAX_CONNECTIONS_PER_USER", "17")

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, 17, cfg.MaxConnectionsPerUser)
}
