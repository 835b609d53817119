package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().LLM.Model, cfg.LLM.Model)
	assert.Equal(t, 3, cfg.Vendor.BlockThreshold)
}

func TestLoadOverridesDefaultsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  model: gemini-2.5-pro\nvendor:\n  block_threshold: 5\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)
	assert.Equal(t, 5, cfg.Vendor.BlockThreshold)
	// Unset fields keep their defaults.
	assert.Equal(t, DefaultConfig().Cache.Dir, cfg.Cache.Dir)
}

func TestLoadEnvOverridesAPIKey(t *testing.T) {
	t.Setenv("RESEARCHCORE_LLM_API_KEY", "sk-test-key")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-key", cfg.LLM.APIKey)
}

func TestLoadEnvStateRootOverride(t *testing.T) {
	t.Setenv("RESEARCHCORE_STATE_ROOT", "/tmp/custom-state")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-state", cfg.StatePaths.Root)
}

func TestDefaultConfigTimeoutsAreSane(t *testing.T) {
	cfg := DefaultConfig()
	assert.Greater(t, cfg.Timeouts.PageFetch, time.Duration(0))
	assert.Greater(t, cfg.Timeouts.PerVendorBudget, cfg.Timeouts.PageFetch)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [this is not a mapping"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
