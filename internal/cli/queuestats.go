package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tview/internal/engine"
	"github.com/roach88/tview/internal/metrics"
	"github.com/roach88/tview/internal/queue"
)

// QueueStatsResult reports the refresh queue built by a SQL script and,
// unless the run was dry, the cascade it produced at commit.
type QueueStatsResult struct {
	Statements int              `json:"statements"`
	Queue      queue.Stats      `json:"queue"`
	Pending    []string         `json:"pending"`
	DryRun     bool             `json:"dry_run"`
	Stats      *metrics.TxStats `json:"stats,omitempty"`
}

// Text implements Texter.
func (r QueueStatsResult) Text(w io.Writer) {
	fmt.Fprintf(w, "Executed %d statement(s)\n", r.Statements)
	fmt.Fprintf(w, "Queue: %d key(s) across %d entit%s\n", r.Queue.Size, len(r.Queue.Entities), plural(len(r.Queue.Entities)))
	for _, key := range r.Pending {
		fmt.Fprintf(w, "  %s\n", key)
	}
	if r.DryRun {
		fmt.Fprintln(w, "Rolled back (dry run)")
		return
	}
	fmt.Fprintln(w, "Committed")
	if r.Stats != nil {
		writeStats(w, *r.Stats)
	}
}

// NewQueueStatsCommand creates the queue-stats command.
func NewQueueStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "queue-stats <script.sql>",
		Short: "Run a SQL script in one transaction and report the refresh queue",
		Long: `Execute a semicolon separated SQL script in a single transaction,
then report the keys captured for refresh before the cascade runs.

The transaction is committed unless --dry-run is given.

Examples:
  tview queue-stats changes.sql --dry-run
  tview queue-stats changes.sql --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueStats(rootOpts, args[0], dryRun, cmd)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "roll back instead of committing")
	return cmd
}

func runQueueStats(opts *RootOptions, path string, dryRun bool, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		return f.Fail(ExitCommandError, "failed to read script", err)
	}
	stmts := splitStatements(string(data))
	if len(stmts) == 0 {
		return f.Fail(ExitCommandError, fmt.Sprintf("no statements in %s", path), nil)
	}

	return opts.withEngine(cmd, f, func(ctx context.Context, eng *engine.Engine) error {
		tx, err := eng.Begin(ctx)
		if err != nil {
			return f.Fail(ExitFailure, "failed to begin transaction", err)
		}
		for i, stmt := range stmts {
			f.VerboseLog("[%d] %s", i+1, stmt)
			if _, err := tx.Exec(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return f.Fail(ExitFailure, fmt.Sprintf("statement %d failed", i+1), err)
			}
		}

		result := QueueStatsResult{
			Statements: len(stmts),
			Queue:      eng.QueueStats(tx),
			Pending:    eng.DebugQueue(tx),
			DryRun:     dryRun,
		}
		if result.Pending == nil {
			result.Pending = []string{}
		}
		if dryRun {
			if err := tx.Rollback(); err != nil {
				return f.Fail(ExitFailure, "rollback failed", err)
			}
			return f.Success(result)
		}
		if err := tx.Commit(ctx); err != nil {
			return f.Fail(ExitFailure, "commit failed", err)
		}
		stats := tx.Stats()
		result.Stats = &stats
		return f.Success(result)
	})
}

// splitStatements splits a script on semicolons, dropping blank
// statements and "--" comment lines. Semicolons inside string literals
// are respected.
func splitStatements(script string) []string {
	var (
		stmts   []string
		current strings.Builder
		quoted  bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}
	for _, line := range strings.Split(script, "\n") {
		if !quoted && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for _, r := range line {
			switch {
			case r == '\'':
				quoted = !quoted
				current.WriteRune(r)
			case r == ';' && !quoted:
				flush()
			default:
				current.WriteRune(r)
			}
		}
		current.WriteByte('\n')
	}
	flush()
	return stmts
}
