package scan

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/eargollo/piiscan/internal/checkpoint"
	"github.com/eargollo/piiscan/internal/config"
	internaldb "github.com/eargollo/piiscan/internal/db"
	"github.com/eargollo/piiscan/internal/dedup"
	"github.com/eargollo/piiscan/internal/detect"
	"github.com/eargollo/piiscan/internal/memory"
	"github.com/eargollo/piiscan/internal/store"
)

// mustOpenDB opens a temp file SQLite database with the full schema applied.
func mustOpenDB(tb testing.TB) *sql.DB {
	tb.Helper()
	dbPath := filepath.Join(tb.TempDir(), "test.db")
	db, err := internaldb.Open(dbPath)
	if err != nil {
		tb.Fatalf("open test DB: %v", err)
	}
	if err := internaldb.RunMigrations(db); err != nil {
		db.Close()
		tb.Fatalf("run migrations: %v", err)
	}
	tb.Cleanup(func() { db.Close() })
	return db
}

// testEnv wires an Orchestrator over a temp output directory with fixed
// memory figures (8GB total, 4GB available, 4 CPUs).
type testEnv struct {
	cfg         *config.Config
	db          *sql.DB
	out         string
	orch        *Orchestrator
	index       *dedup.Index
	store       *store.Store
	checkpoints *checkpoint.Manager
}

func newTestEnv(tb testing.TB, mutate ...func(*config.Config)) *testEnv {
	tb.Helper()
	cfg := config.Default()
	cfg.OutputDir = tb.TempDir()
	for _, f := range mutate {
		f(cfg)
	}

	db := mustOpenDB(tb)
	cps, err := checkpoint.New(cfg.OutputDir, checkpoint.Options{StaleAfter: cfg.Checkpoint.StaleAfter})
	if err != nil {
		tb.Fatalf("checkpoint manager: %v", err)
	}
	env := &testEnv{
		cfg:         cfg,
		db:          db,
		out:         cfg.OutputDir,
		index:       dedup.New(db),
		store:       store.New(db),
		checkpoints: cps,
	}
	env.orch = NewOrchestrator(cfg, Deps{
		Memory:      memory.New(cfg.Memory, memory.Fixed(8192, 4096)).WithCPUs(4),
		Detector:    detect.New(cfg.Detector),
		Index:       env.index,
		Checkpoints: cps,
		Store:       env.store,
	})
	return env
}

// writeFile writes body to dir/name and returns the path.
func writeFile(tb testing.TB, dir, name, body string) string {
	tb.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		tb.Fatalf("mkdir %q: %v", p, err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		tb.Fatalf("write %q: %v", p, err)
	}
	return p
}

// createSyntheticTree builds a directory tree with numFiles text files, every
// 10th carrying an SSN. Returns numFiles.
func createSyntheticTree(tb testing.TB, root string, numFiles int) int {
	tb.Helper()
	for i := 0; i < numFiles; i++ {
		body := fmt.Sprintf("record %d: nothing to see here\n", i)
		if i%10 == 0 {
			body += "SSN: 234-56-7890\n"
		}
		writeFile(tb, root, fmt.Sprintf("dir%03d/file%04d.txt", i/50, i), body)
	}
	return numFiles
}
