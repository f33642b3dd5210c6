package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tview/internal/compiler"
	"github.com/roach88/tview/internal/engine"
	"github.com/roach88/tview/internal/metrics"
)

// RegisterResult reports the outcome of the register command.
type RegisterResult struct {
	Registered []string        `json:"registered"`
	Skipped    []string        `json:"skipped,omitempty"`
	Stats      metrics.TxStats `json:"stats"`
}

// Text implements Texter.
func (r RegisterResult) Text(w io.Writer) {
	for _, name := range r.Registered {
		fmt.Fprintf(w, "✓ %s\n", name)
	}
	for _, name := range r.Skipped {
		fmt.Fprintf(w, "- %s (already registered)\n", name)
	}
	fmt.Fprintf(w, "Registered %d entit%s, %d document(s) materialized\n",
		len(r.Registered), plural(len(r.Registered)), r.Stats.Refreshes)
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <entities-dir>",
		Short: "Register entity definitions",
		Long: `Compile the CUE entity definitions in a directory and register them
in dependency order. Each registration installs capture triggers on the
entity's source table and materializes its documents.

Entities that are already registered are skipped.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runRegister(opts *RootOptions, dir string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	return opts.withEngine(cmd, f, func(ctx context.Context, eng *engine.Engine) error {
		known := func(name string) bool {
			_, ok := eng.Graph().Entity(name)
			return ok
		}
		loaded, errs := compiler.LoadDir(dir, known)
		if len(errs) > 0 {
			return outputLoadErrors(f, errs)
		}
		f.VerboseLog("Loaded %d entit%s from %d file(s)", len(loaded.Entities), plural(len(loaded.Entities)), loaded.FileCount)

		result := RegisterResult{Registered: []string{}}
		for _, ent := range loaded.Entities {
			stats, err := eng.RegisterEntity(ctx, ent)
			if engine.IsAlreadyExists(err) {
				result.Skipped = append(result.Skipped, ent.Name)
				continue
			}
			if err != nil {
				return f.Fail(ExitFailure, fmt.Sprintf("failed to register %s", ent.Name), err)
			}
			f.VerboseLog("Registered %s (%d refreshes)", ent.Name, stats.Refreshes)
			result.Registered = append(result.Registered, ent.Name)
			result.Stats.Merge(stats)
		}
		return f.Success(result)
	})
}

// outputLoadErrors reports definition errors and returns a command error.
func outputLoadErrors(f *OutputFormatter, errs []error) error {
	var loadErr *compiler.LoadError
	if len(errs) == 1 && errors.As(errs[0], &loadErr) && loadErr.Code == compiler.ErrCodeNotFound {
		if err := f.Error(&EnvelopeError{Code: loadErr.Code, Message: loadErr.Message}); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, loadErr.Message)
	}

	details := make([]string, len(errs))
	for i, err := range errs {
		details[i] = err.Error()
	}
	if f.Format != "json" {
		for _, d := range details {
			fmt.Fprintf(f.Writer, "  %s\n", d)
		}
	}
	msg := fmt.Sprintf("%d definition error(s)", len(errs))
	if err := f.Error(&EnvelopeError{Code: compiler.ErrCodeGeneric, Message: msg, Details: details}); err != nil {
		return err
	}
	return NewExitError(ExitFailure, msg)
}
