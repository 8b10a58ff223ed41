package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eargollo/piiscan/internal/api"
	"github.com/eargollo/piiscan/internal/checkpoint"
	"github.com/eargollo/piiscan/internal/progress"
	"github.com/eargollo/piiscan/internal/scan"
	"github.com/eargollo/piiscan/internal/scheduler"
	"github.com/eargollo/piiscan/internal/store"
)

// checkpointCleanupAge is the age past which status --cleanup and the nightly
// watch job delete checkpoints.
const checkpointCleanupAge = 48 * time.Hour

func newRootCommand() *cobra.Command {
	g := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "piiscan",
		Short: "Scan files for personally identifiable information",
		Long: `piiscan walks directory trees, extracts text from each supported file and
reports the PII entities it finds, labelled by jurisdiction.

Unchanged files are skipped on later runs and interrupted large files resume
from their last checkpoint.`,
		Version:      version,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&g.configPath, "config", "piiscan.yaml", "path to config file")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&g.outputDir, "out", "", "output directory (overrides config)")

	cmd.AddCommand(newScanCommand(g))
	cmd.AddCommand(newFileCommand(g))
	cmd.AddCommand(newWatchCommand(g))
	cmd.AddCommand(newStatusCommand(g))
	return cmd
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newScanCommand(g *globalOptions) *cobra.Command {
	var (
		chunkSize int
		overlap   int
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "scan <dir>...",
		Short: "Scan one or more directory trees once",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			runner := scan.NewRunner(cfg, a.orch)
			if !asJSON {
				runner.Render = progress.Auto()
			}
			sum, err := runner.Run(ctx, args, scan.RunOptions{ChunkSize: chunkSize, Overlap: overlap})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), sum)
			}
			printRunSummary(cmd.OutOrStdout(), sum)
			return nil
		},
	}
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "chunk size in characters (0 uses config, else selects per file)")
	cmd.Flags().IntVar(&overlap, "overlap", 0, "chunk overlap in characters (0 uses config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run summary as JSON")
	return cmd
}

func newFileCommand(g *globalOptions) *cobra.Command {
	var (
		chunkSize int
		overlap   int
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "file <path>",
		Short: "Scan a single file, resuming from its checkpoint if one exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("operation id: %w", err)
			}
			ok, err := a.checkpoints.AcquireLock(id.String())
			if err != nil {
				return err
			}
			if !ok {
				return lockHeldError(a.checkpoints)
			}

			tracker := progress.New()
			orch := a.orch.ForRun(0, id.String()).WithTracker(tracker)
			rep := &progress.Reporter{Tracker: tracker, Interval: time.Second}
			if !asJSON {
				rep.Render = progress.Auto()
				rep.Start(ctx)
			}
			res, scanErr := orch.Scan(ctx, args[0], chunkSize, overlap)
			if !asJSON {
				rep.Stop()
			}
			if scanErr != nil {
				slog.Warn("file scan", "path", args[0], "status", res.Status, "error", scanErr)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			printFileResult(cmd.OutOrStdout(), res)
			if res.Status == scan.StatusSkippedError {
				return scanErr
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "chunk size in characters (0 uses config, else selects per file)")
	cmd.Flags().IntVar(&overlap, "overlap", 0, "chunk overlap in characters (0 uses config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func newWatchCommand(g *globalOptions) *cobra.Command {
	var (
		pollSeconds int
		httpAddr    string
	)
	cmd := &cobra.Command{
		Use:   "watch <dir>...",
		Short: "Rescan directory trees on a fixed interval",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if pollSeconds > 0 {
				cfg.PollSeconds = pollSeconds
			}
			if httpAddr != "" {
				cfg.HTTPAddr = httpAddr
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return runWatch(ctx, a, args)
		},
	}
	cmd.Flags().IntVar(&pollSeconds, "poll-seconds", 0, "seconds between scans (0 uses config)")
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve the status API on this address")
	return cmd
}

// runWatch starts a run every poll interval until ctx is cancelled, serving
// the status API alongside when an address is configured.
func runWatch(ctx context.Context, a *app, roots []string) error {
	cfg := a.cfg
	runner := scan.NewRunner(cfg, a.orch)
	runner.Render = progress.LogRenderer(slog.Default())
	runner.Interval = 10 * time.Second
	mgr := scan.NewManager(runner, roots, scan.RunOptions{})

	sched := scheduler.New()
	if err := sched.Watch(ctx, mgr, cfg.PollSeconds); err != nil {
		return err
	}
	if err := sched.AddJob("0 3 * * *", func() {
		n, err := a.checkpoints.CleanupOlderThan(checkpointCleanupAge)
		if err != nil {
			slog.Error("checkpoint cleanup failed", "error", err)
			return
		}
		slog.Info("checkpoint cleanup", "removed", n)
	}); err != nil {
		slog.Warn("failed to register checkpoint cleanup job", "error", err)
	}

	slog.Info("piiscan watching",
		"version", version,
		"roots", roots,
		"output_dir", cfg.OutputDir,
		"poll_seconds", cfg.PollSeconds,
		"http_addr", cfg.HTTPAddr)

	// First scan runs immediately rather than after one interval.
	scheduler.ScanJob(ctx, mgr)()
	sched.Start()

	eg, egCtx := errgroup.WithContext(ctx)
	if cfg.HTTPAddr != "" {
		srv := api.New(egCtx, cfg.HTTPAddr, api.Deps{
			Store:       a.store,
			Manager:     mgr,
			Checkpoints: a.checkpoints,
			Sched:       sched,
			Version:     version,
		})
		eg.Go(func() error { return srv.Run(egCtx) })
	}
	eg.Go(func() error {
		<-egCtx.Done()
		return nil
	})
	err := eg.Wait()

	sched.Stop()
	// sched.Stop waits for running jobs, so no run can start after this.
	if active, cerr := mgr.Cancel(); cerr == nil {
		<-active.Done()
	}
	slog.Info("piiscan stopped")
	return err
}

func newStatusCommand(g *globalOptions) *cobra.Command {
	var cleanup bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the scan lock holder, pending checkpoints and the last run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return printStatus(cmd.Context(), cmd.OutOrStdout(), a, cleanup)
		},
	}
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "delete checkpoints older than 48h")
	return cmd
}

func printStatus(ctx context.Context, w io.Writer, a *app, cleanup bool) error {
	bold := color.New(color.Bold)

	if cleanup {
		n, err := a.checkpoints.CleanupOlderThan(checkpointCleanupAge)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Removed %d old checkpoint(s)\n", n)
	}

	bold.Fprintln(w, "Scan lock")
	holder, err := a.checkpoints.LockHolder()
	if err != nil {
		return err
	}
	if holder == nil {
		fmt.Fprintln(w, "  not held")
	} else {
		fmt.Fprintf(w, "  operation %s, pid %d on %s, since %s\n",
			holder.OperationID, holder.PID, holder.Host, humanize.Time(holder.StartTime))
	}

	pending, err := a.checkpoints.ListPending()
	if err != nil {
		return err
	}
	bold.Fprintf(w, "Pending checkpoints (%d)\n", len(pending))
	for _, cp := range pending {
		fmt.Fprintf(w, "  %s  %s, %d chunks done, %d entities, %s read, saved %s\n",
			cp.FilePath, cp.Progress.Strategy, cp.Progress.ChunksDone(), cp.Progress.Summary.Total,
			humanize.Bytes(uint64(cp.Progress.BytesProcessed)), humanize.Time(cp.SaveTime))
	}

	indexed, err := a.index.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %d\n", bold.Sprint("Indexed files"), indexed)

	bold.Fprintln(w, "Last run")
	last, err := a.store.LastRun(ctx)
	if err != nil {
		return err
	}
	if last == nil {
		fmt.Fprintln(w, "  none")
		return nil
	}
	fmt.Fprintf(w, "  #%d %s (%s) started %s: %d processed, %d unchanged, %d errors, %d interrupted, %d entities\n",
		last.ID, last.Status, last.TriggeredBy, humanize.Time(last.StartedAt),
		last.FilesProcessed, last.FilesDuplicate, last.FilesError, last.FilesInterrupted, last.EntitiesFound)
	return nil
}

func printRunSummary(w io.Writer, s scan.RunSummary) {
	status := color.GreenString(s.Status)
	if s.Status != store.RunCompleted {
		status = color.YellowString(s.Status)
	}
	fmt.Fprintf(w, "Run %d %s in %s\n", s.RunID, status, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "  processed %d, unchanged %d, errors %d, interrupted %d, %s read\n",
		s.Processed, s.SkippedDuplicate, s.SkippedError, s.Interrupted, humanize.Bytes(uint64(s.BytesProcessed)))
	fmt.Fprintf(w, "  entities %d (controlled %d, non-controlled %d)\n",
		s.Entities.Total, s.Entities.Controlled, s.Entities.NonControlled)
}

func printFileResult(w io.Writer, r scan.Result) {
	fmt.Fprintf(w, "%s: %s", r.Path, r.Status)
	if r.Reason != "" {
		fmt.Fprintf(w, " (%s)", r.Reason)
	}
	fmt.Fprintln(w)
	if r.Status != scan.StatusProcessed {
		return
	}
	fmt.Fprintf(w, "  strategy %s, %d chunks, %d failed, resumed %t\n",
		r.Profile.Strategy, r.Chunks, r.ChunksFailed, r.Resumed)
	fmt.Fprintf(w, "  entities %d (controlled %d, non-controlled %d)\n",
		r.Summary.Total, r.Summary.Controlled, r.Summary.NonControlled)
	for t, n := range r.Summary.TypeCounts {
		fmt.Fprintf(w, "    %-22s %d\n", t, n)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func lockHeldError(cps *checkpoint.Manager) error {
	if holder, _ := cps.LockHolder(); holder != nil {
		return fmt.Errorf("%w: operation %s (pid %d on %s)", scan.ErrAlreadyRunning, holder.OperationID, holder.PID, holder.Host)
	}
	return scan.ErrAlreadyRunning
}
