package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 4, cfg.SceneConcurrency)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: \":9090\"\nprovider: openai\nmax_model_calls: 50\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, 50, cfg.MaxModelCalls)
	// untouched keys keep their defaults
	assert.Equal(t, 3, cfg.MaxAttempts)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: openai\n"), 0o600))

	t.Setenv("STORYLOOM_PROVIDER", "anthropic")
	t.Setenv("STORYLOOM_MAX_ATTEMPTS", "5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, 5, cfg.MaxAttempts)
}

func TestInvalidIntEnvIgnored(t *testing.T) {
	t.Setenv("STORYLOOM_MAX_ATTEMPTS", "not-a-number")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxAttempts)
}

func TestMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
