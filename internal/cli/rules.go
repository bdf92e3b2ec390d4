package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/triangulate/internal/ingest"
	"github.com/roach88/triangulate/internal/rules"
)

// RulesOptions holds flags for the rules command.
type RulesOptions struct {
	*RootOptions
	InputDir       string
	ConfigDir      string
	RegistryFormat string
	DryRun         bool
}

// RulesResult is the command's output payload.
type RulesResult struct {
	FilesProcessed   []string           `json:"filesProcessed"`
	Malformed        []ingest.Malformed `json:"malformed"`
	Summary          *rules.Summary     `json:"summary"`
	ComponentTypes   int                `json:"componentTypes"`
	DefinitionsPath  string             `json:"definitionsPath,omitempty"`
	LinkingRulesPath string             `json:"linkingRulesPath,omitempty"`
	DryRun           bool               `json:"dryRun"`
}

// NewRulesCommand creates the rules command.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RulesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Merge per-repository extraction rules into the registry",
		Long: `Merge extraction rule logs from every repository into
component-definitions and linking-rules documents.

For each component type the most common rule becomes the base and every
other repository keeps only the attributes it changes. Accepted custom types
in an existing definitions document are carried over unchanged.

Examples:
  triangulate rules
  triangulate rules --registry-format yaml --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRules(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.InputDir, "input-dir", "", "directory holding rule logs (default work dir)")
	cmd.Flags().StringVar(&opts.ConfigDir, "config-dir", "", "directory the registry documents are written to")
	cmd.Flags().StringVar(&opts.RegistryFormat, "registry-format", "", "registry document format (json|yaml)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the merge summary without writing")

	return cmd
}

func runRules(ctx context.Context, opts *RulesOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := opts.setup(cmd, "rules")
	if err != nil {
		return err
	}
	out := opts.formatter(cmd)

	format, err := rules.ParseFormat(stringFlag(cmd, "registry-format", opts.RegistryFormat, cfg.Rules.RegistryFormat))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --registry-format", err)
	}
	inputDir := stringFlag(cmd, "input-dir", opts.InputDir, cfg.Path(cfg.WorkDir))
	configDir := stringFlag(cmd, "config-dir", opts.ConfigDir, cfg.Path(cfg.ConfigDir))

	batch, err := ingest.NewCollector(ingest.Options{
		Prefix:      cfg.Rules.Prefix,
		DefaultKind: ingest.KindExtractionRule,
	}, logger).Collect(ctx, inputDir)
	if err != nil {
		return inputError(out, err)
	}

	defsPath, _ := rules.Paths(configDir, format)
	existing, err := rules.LoadCustomTypes(defsPath)
	if err != nil {
		// Accepted custom types cannot be recovered from a broken document.
		logger.Warn("ignoring unreadable definitions document", "path", defsPath, "error", err)
		existing = nil
	}

	defs, links, sum := rules.NewMerger(logger).Merge(batch.Records, existing)
	result := RulesResult{
		FilesProcessed: batch.Files,
		Malformed:      batch.Malformed,
		Summary:        sum,
		ComponentTypes: len(defs.ExtractionRules),
		DryRun:         opts.DryRun,
	}
	if result.Malformed == nil {
		result.Malformed = []ingest.Malformed{}
	}

	if !opts.DryRun {
		result.DefinitionsPath, result.LinkingRulesPath, err = rules.Write(configDir, format, defs, links)
		if err != nil {
			return WrapExitError(ExitCommandError, "write registry", err)
		}
		logger.Info("wrote registry", "definitions", result.DefinitionsPath, "linking", result.LinkingRulesPath)
	}

	if out.Format == "json" {
		return out.Success(result)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Merged rules from %d file(s): %d component type(s)\n", len(result.FilesProcessed), result.ComponentTypes)
	for _, pair := range sum.Replaced {
		fmt.Fprintf(w, "  Replaced duplicate contribution: %s\n", pair)
	}
	if sum.OrphanExamples > 0 {
		fmt.Fprintf(w, "  Examples without a rule: %d\n", sum.OrphanExamples)
	}
	if len(result.Malformed) > 0 {
		fmt.Fprintf(w, "  Skipped lines: %d\n", len(result.Malformed))
	}
	if opts.DryRun {
		fmt.Fprintln(w, "  Dry run: nothing written")
	} else {
		fmt.Fprintf(w, "  Definitions: %s\n", result.DefinitionsPath)
		fmt.Fprintf(w, "  Linking rules: %s\n", result.LinkingRulesPath)
	}
	return nil
}
