package cli

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tview/internal/engine"
	"github.com/roach88/tview/internal/metrics"
	"github.com/roach88/tview/internal/store"
)

// DropResult reports a dropped entity.
type DropResult struct {
	Entity string `json:"entity"`
}

// Text implements Texter.
func (r DropResult) Text(w io.Writer) {
	fmt.Fprintf(w, "✓ dropped %s\n", r.Entity)
}

// RefreshResult reports a full refresh of one entity.
type RefreshResult struct {
	Entity string          `json:"entity"`
	Stats  metrics.TxStats `json:"stats"`
}

// Text implements Texter.
func (r RefreshResult) Text(w io.Writer) {
	fmt.Fprintf(w, "✓ refreshed %s\n", r.Entity)
	writeStats(w, r.Stats)
}

// HealthResult wraps engine.Health for text output.
type HealthResult struct {
	engine.Health
}

// Text implements Texter.
func (r HealthResult) Text(w io.Writer) {
	fmt.Fprintf(w, "Status: %s\n", r.Status)
	fmt.Fprintf(w, "Entities: %d (depth %d)\n", r.Entities, r.Depth)
	fmt.Fprintf(w, "Tables: %s\n", strings.Join(r.Tables, ", "))
	for _, ent := range slices.Sorted(maps.Keys(r.Documents)) {
		fmt.Fprintf(w, "  %s: %d document(s)\n", ent, r.Documents[ent])
	}
	fmt.Fprintf(w, "Prepared: %d pending, %d in doubt, %d orphaned\n", r.PendingSnapshots, r.InDoubt, r.Orphans)
	for _, issue := range r.Issues {
		fmt.Fprintf(w, "! %s\n", issue)
	}
}

// AuditResult lists audit log entries.
type AuditResult struct {
	Entries []store.AuditEntry `json:"entries"`
}

// Text implements Texter.
func (r AuditResult) Text(w io.Writer) {
	if len(r.Entries) == 0 {
		fmt.Fprintln(w, "No audit entries.")
		return
	}
	for _, e := range r.Entries {
		fmt.Fprintf(w, "%4d %s %-8s %s %s\n", e.Seq, e.At.UTC().Format("2006-01-02T15:04:05Z"), e.Operation, e.Entity, string(e.Details))
	}
}

func writeStats(w io.Writer, s metrics.TxStats) {
	fmt.Fprintf(w, "  refreshes: %d (%d bulk, %d individual) in %d iteration(s)\n",
		s.Refreshes, s.BulkRefreshes, s.IndividualRefreshes, s.Iterations)
	fmt.Fprintf(w, "  patched: %d  replaced: %d  deleted: %d  unchanged: %d\n",
		s.Patched, s.Replaced, s.Deleted, s.Unchanged)
}

// NewDropCommand creates the drop command.
func NewDropCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <entity>",
		Short: "Drop a registered entity",
		Long: `Remove an entity, its documents and, when no other entity reads the
same table, the capture triggers on its source table.

Fails with TV104 while other entities depend on it.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			return rootOpts.withEngine(cmd, f, func(ctx context.Context, eng *engine.Engine) error {
				if err := eng.DropEntity(ctx, args[0]); err != nil {
					return f.Fail(ExitFailure, fmt.Sprintf("failed to drop %s", args[0]), err)
				}
				return f.Success(DropResult{Entity: args[0]})
			})
		},
	}
}

// NewRefreshCommand creates the refresh command.
func NewRefreshCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <entity>",
		Short: "Recompute every document of an entity",
		Long: `Recompute every document of an entity in one transaction and cascade
the results to the entities that depend on it.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			return rootOpts.withEngine(cmd, f, func(ctx context.Context, eng *engine.Engine) error {
				stats, err := eng.RefreshEntity(ctx, args[0])
				if err != nil {
					return f.Fail(ExitFailure, fmt.Sprintf("failed to refresh %s", args[0]), err)
				}
				return f.Success(RefreshResult{Entity: args[0], Stats: stats})
			})
		},
	}
}

// NewHealthCommand creates the health command.
func NewHealthCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check metadata, triggers and prepared transactions",
		Long: `Check that stored metadata and the dependency graph agree, that every
source table carries its capture triggers, and report prepared
transaction state.

Exit codes:
  0 - Healthy
  1 - Degraded (issues are listed)
  2 - Command error`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			return rootOpts.withEngine(cmd, f, func(ctx context.Context, eng *engine.Engine) error {
				h, err := eng.HealthCheck(ctx)
				if err != nil {
					return f.Fail(ExitFailure, "health check failed", err)
				}
				if err := f.Success(HealthResult{h}); err != nil {
					return err
				}
				if h.Status != engine.StatusOK {
					return NewExitError(ExitFailure, fmt.Sprintf("%d health issue(s)", len(h.Issues)))
				}
				return nil
			})
		},
	}
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		entity string
		limit  int
	)
	cmd := &cobra.Command{
		Use:           "audit",
		Short:         "List administrative operations",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			return rootOpts.withEngine(cmd, f, func(ctx context.Context, eng *engine.Engine) error {
				entries, err := eng.Audit(ctx, entity, limit)
				if err != nil {
					return f.Fail(ExitFailure, "failed to read audit log", err)
				}
				if entries == nil {
					entries = []store.AuditEntry{}
				}
				return f.Success(AuditResult{Entries: entries})
			})
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "", "only entries for this entity")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of entries (0 = all)")
	return cmd
}
