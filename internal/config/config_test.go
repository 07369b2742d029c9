package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
server:
  port: 9090
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "120s", cfg.Cache.SegmentGap)
	assert.Equal(t, "86400s", cfg.Cache.TargetTTL)
	assert.Equal(t, 10000, cfg.Cache.DeltaMaxPerTarget)
	assert.Equal(t, "5s", cfg.Recognition.RecognizeInterval)
	assert.Equal(t, 0.6, cfg.Recognition.PersistenceThreshold)
	assert.Equal(t, 3, cfg.Recognition.MinTrackPoints)
	assert.Equal(t, []HostilePair{{"RED", "BLUE"}}, cfg.Recognition.HostilePairs)
	assert.Equal(t, "3600s", cfg.Sync.SessionTTL)
}

func TestLoadConfigOverridesRecognitionSection(t *testing.T) {
	path := writeTempConfig(t, `
recognition:
  min_track_points: 5
  default_preset: strike_package
  hostile_pairs:
    - ["RED", "BLUE"]
    - ["RED", "GREEN"]
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Recognition.MinTrackPoints)
	assert.Equal(t, "strike_package", cfg.Recognition.DefaultPreset)
	assert.Len(t, cfg.Recognition.HostilePairs, 2)
}

func TestLoadConfigRejectsInvalidPort(t *testing.T) {
	path := writeTempConfig(t, `
server:
  port: 99999
`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	path := writeTempConfig(t, `
cache:
  segment_gap: "not-a-duration"
`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestDefaultMatchesZeroValueLoad(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "tight_fighter", cfg.Recognition.DefaultPreset)
}

func TestDurParsesConfiguredStrings(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "2m0s", Dur(cfg.Cache.SegmentGap).String())
}
