package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadOverridesOnlySpecifiedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.jsonnet")
	require.NoError(t, os.WriteFile(path, []byte(`{
		matchThreshold: 0.5,
		heEnabled: true,
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 0.5, cfg.MatchThreshold)
	require.True(t, cfg.HEEnabled)
	// Untouched fields keep their Default() values.
	require.Equal(t, Default().DedupThreshold, cfg.DedupThreshold)
	require.Equal(t, Default().RotationShift, cfg.RotationShift)
	require.Equal(t, Default().BusSubjectChanged, cfg.BusSubjectChanged)
}

func TestLoadPropagatesEvaluationError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.jsonnet")
	require.NoError(t, os.WriteFile(path, []byte(`{ this is not valid jsonnet`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestDurationHelpersConvertConfiguredUnits(t *testing.T) {
	cfg := Default()
	cfg.ReloadDebounceMilliseconds = 250
	cfg.BatchDBIntervalSeconds = 2.5
	cfg.HERequestTimeoutSeconds = 45

	require.Equal(t, 250*time.Millisecond, cfg.ReloadDebounce())
	require.Equal(t, 2500*time.Millisecond, cfg.BatchDBInterval())
	require.Equal(t, 45*time.Second, cfg.HERequestTimeout())
}
