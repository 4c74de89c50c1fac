package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sentryd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestValidateRejectsNonPowerOfTwoRingSize(t *testing.T) {
	cfg := Config{RingSizeSlots: 3, StartAt: StartAtZero}
	assert.Error(t, cfg.validate())
}

func TestValidateRejectsNegativeReapWindow(t *testing.T) {
	cfg := Config{RingSizeSlots: 1024, ReapWindowSecs: -1, StartAt: StartAtZero}
	assert.Error(t, cfg.validate())
}

func TestValidateRejectsUnknownStartAt(t *testing.T) {
	cfg := Config{RingSizeSlots: 1024, StartAt: "sometime"}
	assert.Error(t, cfg.validate())
}

func TestValidateRejectsUnknownOptionalProbe(t *testing.T) {
	cfg := Config{RingSizeSlots: 1024, StartAt: StartAtZero, OptionalProbes: []string{"gpu_faults"}}
	assert.Error(t, cfg.validate())
}

func TestWithDefaultsFillsZeroValues(t *testing.T) {
	cfg := Config{}
	cfg.withDefaults()
	assert.EqualValues(t, 1<<20, cfg.RingSizeSlots)
	assert.EqualValues(t, 60, cfg.ReapWindowSecs)
	assert.Equal(t, StartAtProducerCurrent, cfg.StartAt)
	assert.NoError(t, cfg.validate())
}

func TestCooldownDurationConvertsSeconds(t *testing.T) {
	cfg := Config{RuleCooldownsSecs: map[string]int64{"fork_storm": 30}}
	durations := cfg.CooldownDuration()
	assert.Equal(t, int64(30), int64(durations["fork_storm"].Seconds()))
}

func TestLoadParsesAndDefaultsAFile(t *testing.T) {
	path := writeConfig(t, `
ring_size_slots: 4096
reap_window_secs: 30
rule_thresholds:
  fork_storm: 10
start_at: zero
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 4096, cfg.RingSizeSlots)
	assert.EqualValues(t, 10, cfg.RuleThresholds["fork_storm"])
	assert.Equal(t, StartAtZero, cfg.StartAt)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := writeConfig(t, `
ring_size_slots: 3
`)
	_, err := Load(path)
	assert.Error(t, err)
}
