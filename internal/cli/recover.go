package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tview/internal/engine"
	"github.com/roach88/tview/internal/metrics"
)

// RecoverResult reports orphaned prepared snapshots and what was done
// about them.
type RecoverResult struct {
	Orphans   []engine.Orphan  `json:"orphans"`
	Replayed  string           `json:"replayed,omitempty"`
	Discarded string           `json:"discarded,omitempty"`
	Purged    []string         `json:"purged"`
	Stats     *metrics.TxStats `json:"stats,omitempty"`
}

// Text implements Texter.
func (r RecoverResult) Text(w io.Writer) {
	switch {
	case r.Replayed != "":
		fmt.Fprintf(w, "✓ replayed %s\n", r.Replayed)
		if r.Stats != nil {
			writeStats(w, *r.Stats)
		}
	case r.Discarded != "":
		fmt.Fprintf(w, "✓ discarded %s\n", r.Discarded)
	case r.Purged != nil:
		fmt.Fprintf(w, "✓ purged %d expired snapshot(s)\n", len(r.Purged))
		for _, gid := range r.Purged {
			fmt.Fprintf(w, "  %s\n", gid)
		}
	}
	if len(r.Orphans) == 0 {
		fmt.Fprintln(w, "No orphaned snapshots.")
		return
	}
	fmt.Fprintf(w, "%d orphaned snapshot(s):\n", len(r.Orphans))
	for _, o := range r.Orphans {
		expired := ""
		if o.Expired {
			expired = " (expired)"
		}
		fmt.Fprintf(w, "  %s: %d key(s), created %s%s\n", o.GID, o.QueueSize, o.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"), expired)
	}
}

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	var replay, discard string
	var purge bool
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "List and resolve orphaned prepared snapshots",
		Long: `List refresh-queue snapshots whose prepared transaction was resolved
without the engine seeing it. Orphans are never resolved automatically.

  --replay <gid>   run the snapshot's refreshes and delete it
  --discard <gid>  delete the snapshot without refreshing
  --purge          delete expired snapshots

The remaining orphans are listed after any action.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			actions := 0
			for _, set := range []bool{replay != "", discard != "", purge} {
				if set {
					actions++
				}
			}
			f := rootOpts.formatter(cmd)
			if actions > 1 {
				return f.Fail(ExitCommandError, "--replay, --discard and --purge are mutually exclusive", nil)
			}
			return rootOpts.withEngine(cmd, f, func(ctx context.Context, eng *engine.Engine) error {
				return runRecover(ctx, eng, f, replay, discard, purge)
			})
		},
	}
	cmd.Flags().StringVar(&replay, "replay", "", "replay the orphaned snapshot with this gid")
	cmd.Flags().StringVar(&discard, "discard", "", "discard the orphaned snapshot with this gid")
	cmd.Flags().BoolVar(&purge, "purge", false, "delete expired snapshots")
	return cmd
}

func runRecover(ctx context.Context, eng *engine.Engine, f *OutputFormatter, replay, discard string, purge bool) error {
	var result RecoverResult
	switch {
	case replay != "":
		stats, err := eng.ReplayOrphan(ctx, replay)
		if err != nil {
			return f.Fail(ExitFailure, fmt.Sprintf("failed to replay %s", replay), err)
		}
		result.Replayed = replay
		result.Stats = &stats
	case discard != "":
		if err := eng.DiscardOrphan(ctx, discard); err != nil {
			return f.Fail(ExitFailure, fmt.Sprintf("failed to discard %s", discard), err)
		}
		result.Discarded = discard
	case purge:
		purged, err := eng.PurgeExpired(ctx)
		if err != nil {
			return f.Fail(ExitFailure, "failed to purge expired snapshots", err)
		}
		if purged == nil {
			purged = []string{}
		}
		result.Purged = purged
	}

	orphans, err := eng.RecoverPrepared(ctx)
	if err != nil {
		return f.Fail(ExitFailure, "failed to list orphans", err)
	}
	if orphans == nil {
		orphans = []engine.Orphan{}
	}
	result.Orphans = orphans
	return f.Success(result)
}
