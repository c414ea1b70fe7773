package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timelapsemap/pkg/matching"
)

func TestMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().MAP, cfg.MAP)
	assert.Equal(t, 10.0, cfg.Matching.Threshold)
	assert.Equal(t, 13.0, cfg.Matching.TerminalTime)
	assert.Equal(t, 1000000, cfg.MAP.NullSize)
	assert.Len(t, cfg.Schema.FeatureSets, 3)
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "timelapsemap.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("matching:\n  tieBreak: nearest\nmap:\n  nullSize: 5000\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.MAP.NullSize)
	assert.Equal(t, 0.05, cfg.MAP.Threshold)

	mp := cfg.MatchParams()
	assert.Equal(t, matching.TieBreakNearest, mp.TieBreak)
	assert.Equal(t, 10.0, mp.Threshold)
	assert.Equal(t, 5000, cfg.MAPParams().NullSize)
}

func TestInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("matching:\n  tieBreak: random\n"), 0644))
	_, err := LoadConfig(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("map: [unclosed"), 0644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvLedger, "/tmp/other.db")
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/other.db", cfg.Ledger.Path)
}

func TestFeatureSetLookup(t *testing.T) {
	cfg := DefaultConfig()
	fs, err := cfg.FeatureSet("scDINO")
	require.NoError(t, err)
	assert.Equal(t, []string{"scDINO"}, fs.Contains)
	_, err = cfg.FeatureSet("DINOv2")
	assert.Error(t, err)
}

func TestRegressionGrid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("regression:\n  alphas: [0.5, 2]\n  folds: 3\n"), 0644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 2}, cfg.Regression.Alphas)
	assert.Equal(t, 3, cfg.Regression.Folds)

	require.NoError(t, os.WriteFile(path, []byte("regression:\n  alphas: [1, -1]\n"), 0644))
	_, err = LoadConfig(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("regression:\n  folds: 1\n"), 0644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}
