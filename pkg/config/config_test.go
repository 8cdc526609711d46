package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jedarden/forge/pkg/recovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.yaml"), dir)
	require.NoError(t, err)

	assert.Equal(t, DefaultCadences(), cfg.Cadences)
	assert.True(t, cfg.Router.PreferSubscription)
	assert.Equal(t, recovery.NotifyOnly, cfg.Recovery.DeadWorkerPolicy.Kind)
}

func TestLoad_OverridesOnlyWhatTheFileSpecifies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.yaml")
	content := `
workspaces:
  - /repo/a
  - /repo/b
cadences:
  health_check: 10s
recovery:
  dead_worker_policy:
    kind: auto_recover
    max_attempts: 5
    cooldown: 1m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path, dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"/repo/a", "/repo/b"}, cfg.Workspaces)
	assert.Equal(t, 10*time.Second, cfg.Cadences.HealthCheck)
	// Untouched cadence keeps its default.
	assert.Equal(t, DefaultCadences().StatusPoll, cfg.Cadences.StatusPoll)

	assert.Equal(t, recovery.AutoRecover, cfg.Recovery.DeadWorkerPolicy.Kind)
	assert.Equal(t, uint8(5), cfg.Recovery.DeadWorkerPolicy.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Recovery.DeadWorkerPolicy.Cooldown)
	// Untouched policy keeps the notify-only default.
	assert.Equal(t, recovery.NotifyOnly, cfg.Recovery.MemoryLeakPolicy.Kind)

	assert.Equal(t, []string{"/repo/a", "/repo/b"}, cfg.Recovery.MonitoredWorkspaces)
}

func TestLoad_RejectsUnknownPolicyKind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.yaml")
	content := "recovery:\n  dead_worker_policy:\n    kind: chaos_monkey\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path, dir)
	assert.Error(t, err)
}

func TestLoad_RouterModelOverrideReplacesWholeTier(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.yaml")
	content := `
router:
  premium:
    - id: custom-model
      name: Custom Model
      max_tokens: 64000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path, dir)
	require.NoError(t, err)
	require.Len(t, cfg.Router.PremiumModels, 1)
	assert.Equal(t, "custom-model", cfg.Router.PremiumModels[0].ID)
	// Untouched tiers keep their defaults.
	assert.NotEmpty(t, cfg.Router.StandardModels)
}
