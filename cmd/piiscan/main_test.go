package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eargollo/piiscan/internal/scan"
	"github.com/eargollo/piiscan/internal/store"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("verbose"))
}

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := newRootCommand()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"scan", "file", "watch", "status"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestScanCommand_JSONSummary(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("SSN: 234-56-7890\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("nothing\n"), 0o644))
	out := t.TempDir()
	noConfig := filepath.Join(t.TempDir(), "absent.yaml")

	stdout, err := execute(t, "scan", root, "--out", out, "--config", noConfig, "--json")
	require.NoError(t, err)

	var sum scan.RunSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &sum), stdout)
	assert.Equal(t, store.RunCompleted, sum.Status)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 1, sum.Entities.Total)

	stdout, err = execute(t, "scan", root, "--out", out, "--config", noConfig, "--json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(stdout), &sum), stdout)
	assert.Zero(t, sum.Processed)
	assert.Equal(t, 2, sum.SkippedDuplicate)

	stdout, err = execute(t, "status", "--out", out, "--config", noConfig)
	require.NoError(t, err)
	assert.Contains(t, stdout, "not held")
	assert.Contains(t, stdout, "Pending checkpoints (0)")
	assert.Contains(t, stdout, "Indexed files 2")
	assert.Contains(t, stdout, "completed")
}

func TestFileCommand_JSONResult(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.txt")
	require.NoError(t, os.WriteFile(path, []byte("Employee SSN 234-56-7890\n"), 0o644))
	out := t.TempDir()

	stdout, err := execute(t, "file", path, "--out", out, "--config", filepath.Join(dir, "absent.yaml"), "--json")
	require.NoError(t, err)

	var res scan.Result
	require.NoError(t, json.Unmarshal([]byte(stdout), &res), stdout)
	assert.Equal(t, scan.StatusProcessed, res.Status)
	assert.Equal(t, path, res.Path)
	assert.Positive(t, res.Summary.Total)
}

func TestFileCommand_Unsupported(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.png")
	require.NoError(t, os.WriteFile(path, []byte{0x89, 'P', 'N', 'G'}, 0o644))

	_, err := execute(t, "file", path, "--out", t.TempDir(), "--config", filepath.Join(dir, "absent.yaml"), "--json")
	require.Error(t, err)
}
