package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleConfig struct {
	HTTP struct {
		Port string `yaml:"port" env:"SAMPLE_HTTP_PORT"`
	} `yaml:"http"`
	Feed struct {
		PingInterval time.Duration `yaml:"pingInterval"`
	} `yaml:"feed"`
	Roles   []string `yaml:"roles" env:"SAMPLE_ROLES"`
	Share   float64  `yaml:"share"`
	Enabled bool     `yaml:"enabled"`
}

func TestLoadConfigYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  port: \"9000\"\nshare: 0.25\n"), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SAMPLE_HTTP_PORT", "9100")
	t.Setenv("FEED_PINGINTERVAL", "15s")
	t.Setenv("SAMPLE_ROLES", "staff, admin,,")
	t.Setenv("ENABLED", "true")

	var cfg sampleConfig
	require.NoError(t, LoadConfig(&cfg))

	assert.Equal(t, "9100", cfg.HTTP.Port)
	assert.Equal(t, 15*time.Second, cfg.Feed.PingInterval)
	assert.Equal(t, []string{"staff", "admin"}, cfg.Roles)
	assert.InDelta(t, 0.25, cfg.Share, 1e-9)
	assert.True(t, cfg.Enabled)
}

func TestLoadConfigRejectsNonPointer(t *testing.T) {
	var cfg sampleConfig
	require.Error(t, LoadConfig(cfg))
	require.Error(t, LoadConfig(nil))
}

func TestLoadConfigBadDuration(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("FEED_PINGINTERVAL", "soon")

	var cfg sampleConfig
	err := LoadConfig(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FEED_PINGINTERVAL")
}
