package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/tview/internal/config"
	"github.com/roach88/tview/internal/engine"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Database string // overrides TVIEW_DB_PATH when set
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tview CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tview",
		Short: "tview - incremental read models",
		Long:  "Maintains derived JSON read models over SQLite tables and cascades source changes through their lineage.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "database path (default $TVIEW_DB_PATH or tview.db)")

	cmd.AddCommand(NewRegisterCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewDropCommand(opts))
	cmd.AddCommand(NewRefreshCommand(opts))
	cmd.AddCommand(NewHealthCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewQueueStatsCommand(opts))
	cmd.AddCommand(NewRecoverCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// openEngine loads configuration and opens the engine on the configured
// database. Engine logs go to stderr. extra options apply after the
// configuration.
func (o *RootOptions) openEngine(ctx context.Context, cmd *cobra.Command, extra ...engine.EngineOption) (*engine.Engine, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, cfg, err
	}
	if o.Database != "" {
		cfg.DBPath = o.Database
	}
	level := cfg.SlogLevel()
	if o.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	opts := append([]engine.EngineOption{engine.WithConfig(cfg), engine.WithLogger(logger)}, extra...)
	eng, err := engine.Open(ctx, cfg.DBPath, opts...)
	if err != nil {
		return nil, cfg, err
	}
	return eng, cfg, nil
}

// withEngine opens the engine, runs fn and closes the engine. Failures to
// open are command errors.
func (o *RootOptions) withEngine(cmd *cobra.Command, f *OutputFormatter, fn func(ctx context.Context, eng *engine.Engine) error, extra ...engine.EngineOption) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	eng, cfg, err := o.openEngine(ctx, cmd, extra...)
	if err != nil {
		return f.Fail(ExitCommandError, "failed to open engine", err)
	}
	defer eng.Close()
	f.VerboseLog("Opened %s", cfg.DBPath)
	return fn(ctx, eng)
}
