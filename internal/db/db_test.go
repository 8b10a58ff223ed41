package db_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eargollo/piiscan/internal/db"
)

func TestOpenState_CreatesSchema(t *testing.T) {
	out := t.TempDir()
	conn, err := db.OpenState(out)
	require.NoError(t, err)
	defer conn.Close()

	_, err = os.Stat(filepath.Join(out, db.StateDir, "state.db"))
	require.NoError(t, err)

	for _, table := range []string{"processed_keys", "path_signatures", "scan_runs", "file_results", "entity_details"} {
		var n int
		err := conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, table)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	conn, err := db.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, db.RunMigrations(conn))
	require.NoError(t, db.RunMigrations(conn))
}
