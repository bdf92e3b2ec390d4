package cli

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/triangulate/internal/config"
	"github.com/roach88/triangulate/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose     bool
	Format      string // "json" | "text"
	ConfigPath  string
	ProjectRoot string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the triangulate CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "triangulate",
		Short: "Triangulate partial observations into one canonical model",
		Long: `Consolidate independently produced observations about a shared model,
score them by corroboration, surface contradictions, and replay the
consolidated result against an order-sensitive store.

Exit codes:
  0 - Success
  1 - Invalid usage or unreadable input
  2 - Human action required (conflicts, near duplicates, failed commands,
      cascade abort)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default <project-root>/.riviere/triangulate.yaml)")
	cmd.PersistentFlags().StringVar(&opts.ProjectRoot, "project-root", "", "project root (default current directory)")

	cmd.AddCommand(NewConsolidateCommand(opts))
	cmd.AddCommand(NewRulesCommand(opts))
	cmd.AddCommand(NewDomainsCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// setup loads configuration and initialises logging on the command's
// stderr. --verbose forces debug level.
func (o *RootOptions) setup(cmd *cobra.Command, component string) (*config.Config, *slog.Logger, error) {
	root := o.ProjectRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "resolve project root", err)
		}
		root = wd
	}

	cfg, err := config.Load(root, o.ConfigPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "load config", err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "load config", err)
	}
	if o.Verbose {
		level = slog.LevelDebug
	}
	logging.Init(level, cfg.Log.Format, cmd.ErrOrStderr())
	return cfg, logging.New(component), nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// stringFlag returns the flag value if it was set, else fallback.
func stringFlag(cmd *cobra.Command, name, value, fallback string) string {
	if cmd.Flags().Changed(name) {
		return value
	}
	return fallback
}
