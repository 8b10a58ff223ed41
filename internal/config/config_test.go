package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eargollo/piiscan/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "piiscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, "output_dir: /tmp/out\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/out", cfg.OutputDir)
	assert.Zero(t, cfg.ChunkSize, "chunk size is selected per file by default")
	assert.Equal(t, 100, cfg.Overlap)
	assert.Equal(t, 24*time.Hour, cfg.Checkpoint.StaleAfter)
	assert.InDelta(t, 0.80, cfg.Memory.ReclaimThreshold, 1e-9)
	assert.True(t, cfg.Detector.Validate)
	assert.Contains(t, cfg.Extensions, ".pdf")
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "./pii_results", cfg.OutputDir)
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	path := writeConfig(t, "no_such_field: 1\n")
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoad_DurationAndNested(t *testing.T) {
	path := writeConfig(t, `
chunk_size: 4000
overlap: 200
checkpoint:
  stale_after: 2h
detector:
  validate: false
  min_confidence: 0.6
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.Overlap)
	assert.Equal(t, 2*time.Hour, cfg.Checkpoint.StaleAfter)
	assert.False(t, cfg.Detector.Validate)
	assert.InDelta(t, 0.6, cfg.Detector.MinConfidence, 1e-9)
}

func TestLoad_OverlapMustBeBelowChunkSize(t *testing.T) {
	path := writeConfig(t, "chunk_size: 100\noverlap: 100\n")
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PIISCAN_OUTPUT_DIR", "/env/out")
	t.Setenv("PIISCAN_POLL_SECONDS", "42")

	cfg, err := config.Load(writeConfig(t, "output_dir: /file/out\n"))
	require.NoError(t, err)
	assert.Equal(t, "/env/out", cfg.OutputDir)
	assert.Equal(t, 42, cfg.PollSeconds)
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("PIISCAN_POLL_SECONDS", "soon")
	_, err := config.Load(writeConfig(t, ""))
	require.Error(t, err)
}
