package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/eargollo/piiscan/internal/checkpoint"
	"github.com/eargollo/piiscan/internal/config"
	"github.com/eargollo/piiscan/internal/db"
	"github.com/eargollo/piiscan/internal/dedup"
	"github.com/eargollo/piiscan/internal/detect"
	"github.com/eargollo/piiscan/internal/memory"
	"github.com/eargollo/piiscan/internal/scan"
	"github.com/eargollo/piiscan/internal/store"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
	outputDir  string
}

// load reads the config file and applies flag overrides, then reconfigures
// logging with the resulting level.
func (g *globalOptions) load() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.outputDir != "" {
		cfg.OutputDir = g.outputDir
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	return cfg, nil
}

// app holds the wired components for one command invocation.
type app struct {
	cfg         *config.Config
	db          *sql.DB
	store       *store.Store
	index       *dedup.Index
	checkpoints *checkpoint.Manager
	orch        *scan.Orchestrator
}

// openApp opens the state database under the output directory and wires the
// orchestrator and its collaborators.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	database, err := db.OpenState(cfg.OutputDir)
	if err != nil {
		return nil, err
	}

	st := store.New(database)
	cps, err := checkpoint.New(cfg.OutputDir, checkpoint.Options{StaleAfter: cfg.Checkpoint.StaleAfter})
	if err != nil {
		database.Close()
		return nil, err
	}
	markStaleRuns(ctx, st, cps)

	a := &app{
		cfg:         cfg,
		db:          database,
		store:       st,
		index:       dedup.New(database),
		checkpoints: cps,
	}
	a.orch = scan.NewOrchestrator(cfg, scan.Deps{
		Memory:      memory.New(cfg.Memory, nil),
		Detector:    detect.New(cfg.Detector),
		Index:       a.index,
		Checkpoints: cps,
		Store:       st,
	})
	return a, nil
}

// markStaleRuns fails runs left 'running' by a process that died. It only
// does so while no live process holds the scan lock.
func markStaleRuns(ctx context.Context, st *store.Store, cps *checkpoint.Manager) {
	ok, err := cps.AcquireLock("startup")
	if err != nil || !ok {
		return
	}
	defer func() {
		if err := cps.ReleaseLock(); err != nil {
			slog.Warn("release scan lock", "error", err)
		}
	}()
	if err := st.MarkStaleRunsFailed(ctx); err != nil {
		slog.Warn("mark stale runs", "error", err)
	}
}

func (a *app) Close() error {
	if err := a.checkpoints.ReleaseLock(); err != nil {
		slog.Warn("release scan lock", "error", err)
	}
	return a.db.Close()
}
