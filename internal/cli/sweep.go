package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/tview/internal/engine"
	"github.com/roach88/tview/internal/metrics"
	"github.com/roach88/tview/internal/sweep"
)

// SweepOptions holds flags for the sweep command.
type SweepOptions struct {
	*RootOptions
	Schedule    string // cron expression, defaults to TVIEW_SWEEP_SCHEDULE
	Once        bool   // sweep once and exit
	MetricsAddr string // serve /metrics while running
}

// SweepResult reports a finished sweep run.
type SweepResult struct {
	Runs int          `json:"runs"`
	Last sweep.Report `json:"last"`
}

// Text implements Texter.
func (r SweepResult) Text(w io.Writer) {
	fmt.Fprintf(w, "Sweeps run: %d\n", r.Runs)
	if r.Runs == 0 {
		return
	}
	fmt.Fprintf(w, "Last sweep at %s: %d orphan(s), %d purged\n",
		r.Last.At.Format(time.RFC3339), len(r.Last.Orphans), len(r.Last.Purged))
	for _, o := range r.Last.Orphans {
		fmt.Fprintf(w, "  orphan %s (%d key(s))\n", o.GID, o.QueueSize)
	}
	if r.Last.Err != "" {
		fmt.Fprintf(w, "  error: %s\n", r.Last.Err)
	}
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SweepOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Report orphans and purge expired snapshots on a schedule",
		Long: `Run the prepared-snapshot sweeper until interrupted. Each sweep lists
orphaned snapshots and purges snapshots past their TTL.

Examples:
  tview sweep --once
  tview sweep --schedule "@every 1m" --metrics-addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Schedule, "schedule", "", "cron schedule (default $TVIEW_SWEEP_SCHEDULE)")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "sweep once and exit")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func runSweep(opts *SweepOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var extra []engine.EngineOption
	if opts.MetricsAddr != "" {
		extra = append(extra, engine.WithMetrics(true))
	}
	eng, cfg, err := opts.openEngine(ctx, cmd, extra...)
	if err != nil {
		return f.Fail(ExitCommandError, "failed to open engine", err)
	}
	defer eng.Close()

	schedule := opts.Schedule
	if schedule == "" {
		schedule = cfg.SweepSchedule
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	sw, err := sweep.New(eng, schedule, sweep.WithLogger(logger))
	if err != nil {
		return f.Fail(ExitCommandError, "invalid schedule", err)
	}

	if opts.Once {
		report, err := sw.RunOnce(ctx)
		if err != nil {
			return f.Fail(ExitFailure, "sweep failed", err)
		}
		return f.Success(SweepResult{Runs: 1, Last: report})
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           metricsMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
				stop()
			}
		}()
		defer srv.Close()
		f.VerboseLog("Serving metrics on %s/metrics", opts.MetricsAddr)
	}

	if err := sw.Start(ctx); err != nil {
		return f.Fail(ExitFailure, "failed to start sweeper", err)
	}
	<-ctx.Done()
	sw.Stop()

	last, runs := sw.Last()
	return f.Success(SweepResult{Runs: runs, Last: last})
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{Registry: metrics.Registry}))
	return mux
}
