package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 3, cfg.Healing.MaxHealRounds)
	assert.Equal(t, 30*time.Second, cfg.DiscoveryTimeout())
	assert.Equal(t, 5*time.Second, cfg.ActionTimeout())
	assert.Equal(t, 15*time.Minute, cfg.HITLTimeout())
	assert.Equal(t, 24*time.Hour, cfg.FastTTL())
	assert.Equal(t, 7*24*time.Hour, cfg.DurableTTL())
	assert.True(t, cfg.Cache.AllowIDCache)
	assert.True(t, cfg.Cache.AllowUnstableHit)
	assert.Contains(t, cfg.Browser.SPAMarkers, "#root")
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Healing.MaxHealRounds)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pacts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
healing:
  max_heal_rounds: 2
discovery:
  label_first_discovery: true
cache:
  bypass_form_cache_for_origin:
    - bank.example
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Healing.MaxHealRounds)
	assert.True(t, cfg.Discovery.LabelFirstDiscovery)
	assert.Equal(t, []string{"bank.example"}, cfg.Cache.BypassFormCacheFor)
	// Untouched sections keep their defaults.
	assert.Equal(t, 30000, cfg.Discovery.TotalTimeoutMs)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pacts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("healing: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PACTS_MAX_HEAL_ROUNDS", "1")
	t.Setenv("PACTS_ALLOW_UNSTABLE_HIT", "false")
	t.Setenv("PACTS_LABEL_FIRST_DISCOVERY", "true")
	t.Setenv("PACTS_BYPASS_FORM_CACHE_FOR_ORIGIN", "bank.example,health.example")
	t.Setenv("PACTS_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Healing.MaxHealRounds)
	assert.False(t, cfg.Cache.AllowUnstableHit)
	assert.True(t, cfg.Discovery.LabelFirstDiscovery)
	assert.Equal(t, []string{"bank.example", "health.example"}, cfg.Cache.BypassFormCacheFor)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvOverrideIgnoresGarbage(t *testing.T) {
	t.Setenv("PACTS_MAX_HEAL_ROUNDS", "many")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Healing.MaxHealRounds)
}

func TestValidateBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Healing.MaxHealRounds = 6
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Discovery.TotalTimeoutMs = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.HITL.PollIntervalMs = 0
	assert.Error(t, cfg.Validate())
}

func TestSaveRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pacts.yaml")
	cfg := DefaultConfig()
	cfg.Healing.MaxHealRounds = 2
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Healing.MaxHealRounds)
}
