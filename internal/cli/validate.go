package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tview/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Files    int      `json:"files"`
	Entities []string `json:"entities"`
}

// Text implements Texter.
func (r ValidationResult) Text(w io.Writer) {
	fmt.Fprintf(w, "✓ %d entit%s valid (%d file(s))\n", len(r.Entities), plural(len(r.Entities)), r.Files)
	for _, name := range r.Entities {
		fmt.Fprintf(w, "  %s\n", name)
	}
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <entities-dir>",
		Short: "Validate entity definitions without a database",
		Long: `Compile and validate CUE entity definitions without touching a
database. Dependencies must be defined in the same directory.

Entities are listed in the order they would be registered.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	loaded, errs := compiler.LoadDir(dir, nil)
	if len(errs) > 0 {
		return outputLoadErrors(f, errs)
	}
	f.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, dir)

	result := ValidationResult{Valid: true, Files: loaded.FileCount, Entities: []string{}}
	for _, ent := range loaded.Entities {
		result.Entities = append(result.Entities, ent.Name)
	}
	return f.Success(result)
}
