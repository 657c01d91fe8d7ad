package config_test

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MomoPewpew/Orpheus/internal/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Positive(t, cfg.RateLimitPerSec)
	assert.Positive(t, cfg.RateLimitBurst)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	fs := flag.NewFlagSet("test", flag.ContinueOnError)

	cfg, err := config.Load(fs, nil, path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.ListenAddr)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"listen_addr":":9090","log_level":"debug"}`), 0o600))
	fs := flag.NewFlagSet("test", flag.ContinueOnError)

	cfg, err := config.Load(fs, nil, path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"listen_addr":":9090"}`), 0o600))
	fs := flag.NewFlagSet("test", flag.ContinueOnError)

	cfg, err := config.Load(fs, []string{"-addr", ":1234"}, path)
	require.NoError(t, err)
	assert.Equal(t, ":1234", cfg.ListenAddr, "a passed flag should win over the file")
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := config.Default()
	cfg.ListenAddr = ":5555"
	cfg.ShutdownTimeout = 10 * time.Second

	require.NoError(t, config.Save(path, cfg))

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	loaded, err := config.Load(fs, nil, path)
	require.NoError(t, err)
	assert.Equal(t, ":5555", loaded.ListenAddr)
	assert.Equal(t, 10*time.Second, loaded.ShutdownTimeout)
}
