package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoConfigFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "inmem", cfg.StoreBackend)
	assert.Equal(t, "anthropic", cfg.ModelProvider)
	assert.Equal(t, 2, cfg.MaxRecoveryAttempts)
	assert.Equal(t, 3, cfg.MaxSubActionDepth)
	assert.Equal(t, 2*time.Minute, cfg.CodeExecTimeout)
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "http:\n  addr: \":9090\"\nstore:\n  backend: redis\n  redis:\n    addr: redis:6379\nmodel:\n  provider: openai\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "redis", cfg.StoreBackend)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, "openai", cfg.ModelProvider)
}

func TestLoadRejectsUnknownStoreBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: postgres\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	t.Setenv("ORCHESTRATOR_HTTP_ADDR", ":7070")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTPAddr)
}
