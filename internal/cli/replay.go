package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/triangulate/internal/config"
	"github.com/roach88/triangulate/internal/ingest"
	"github.com/roach88/triangulate/internal/procstore"
	"github.com/roach88/triangulate/internal/replay"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Kind            string
	WorkDir         string
	Database        string
	Exec            string
	Graph           string
	DryRun          bool
	ValidateTimeout time.Duration

	// Runner overrides how --exec runs the builder CLI (for testing).
	// If nil, defaults to procstore.ExecRunner.
	Runner procstore.Runner
}

// target is a store that can also check its own persisted state.
type target interface {
	replay.Store
	replay.Validator
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	return newReplayCommand(&ReplayOptions{RootOptions: rootOpts})
}

func newReplayCommand(opts *ReplayOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Apply staged commands to the store one at a time",
		Long: `Replay staged command logs against the store in (file, line) order.

A command the store rejects is recorded and replay continues. A failure that
shows the store's own persisted state is invalid aborts the run: the failing
command is reported once, every later command is marked skipped-after-abort,
and the partial report is written.

Exit codes:
  0 - Every command applied
  1 - Invalid usage or unreadable input
  2 - Failed commands, failed post-replay validation, or cascade abort

Examples:
  triangulate replay --kind components --db .riviere/graph.db
  triangulate replay --kind links --exec "npx riviere builder" --graph .riviere/graph.json
  triangulate replay --kind enrichments --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", config.KindComponents, "staged log kind (components|links|enrichments)")
	cmd.Flags().StringVar(&opts.WorkDir, "work-dir", "", "directory holding staged logs (default work dir)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite store to apply to")
	cmd.Flags().StringVar(&opts.Exec, "exec", "", "external builder CLI to apply through, e.g. \"npx riviere builder\"")
	cmd.Flags().StringVar(&opts.Graph, "graph", "", "graph path passed to the external CLI")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print commands instead of applying them")
	cmd.Flags().DurationVar(&opts.ValidateTimeout, "validate-timeout", 0, "post-replay validation timeout (default 2m)")
	cmd.MarkFlagsMutuallyExclusive("db", "exec")

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := opts.setup(cmd, "replay")
	if err != nil {
		return err
	}
	out := opts.formatter(cmd)

	prefix, err := cfg.ReplayPrefix(opts.Kind)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --kind", err)
	}
	workDir := stringFlag(cmd, "work-dir", opts.WorkDir, cfg.Path(cfg.WorkDir))

	batch, err := ingest.NewCollector(ingest.Options{
		Prefix:      prefix,
		DefaultKind: defaultStagedKind(opts.Kind),
	}, logger).Collect(ctx, workDir)
	if err != nil {
		return inputError(out, err)
	}
	out.VerboseLog("Read %d staged line(s) from %d file(s) in %s", batch.LinesTotal, len(batch.Files), workDir)
	plan := replay.PlanFromBatch(opts.Kind, batch)

	reportPath := filepath.Join(workDir, replay.ReportFileName(opts.Kind))
	dryOut := cmd.OutOrStdout()
	if opts.Format == "json" {
		dryOut = cmd.ErrOrStderr()
	}

	rep, graphPath, err := executePlan(ctx, cfg, opts, cmd, plan, workDir, reportPath, dryOut, logger)
	if err != nil {
		return err
	}
	if rep.Aborted() {
		CascadeBanner(cmd.ErrOrStderr(), graphPath, rep.AbortedAt.InstancePath, reportPath)
	}
	return finishReplay(out, cmd.OutOrStdout(), rep, reportPath)
}

// executePlan opens the selected store and runs plan against it. It returns
// the location operators should repair on a cascade abort.
func executePlan(ctx context.Context, cfg *config.Config, opts *ReplayOptions, cmd *cobra.Command, plan *replay.Plan,
	workDir, reportPath string, dryOut io.Writer, logger *slog.Logger) (*replay.Report, string, error) {
	replayOpts := []replay.Option{
		replay.WithLogger(logger),
		replay.WithValidateTimeout(cfg.Replay.ValidateTimeout),
	}
	if opts.ValidateTimeout > 0 {
		replayOpts = append(replayOpts, replay.WithValidateTimeout(opts.ValidateTimeout))
	}
	sinks := replay.MultiSink{replay.FileSink{Path: reportPath}}

	var (
		st       target
		repairAt string
	)
	switch {
	case opts.DryRun:
		// Dry runs never call the store.
		replayOpts = append(replayOpts, replay.WithDryRun(dryOut), replay.WithTarget(workDir, "dry-run"))
	case opts.Exec != "":
		graph := stringFlag(cmd, "graph", opts.Graph, cfg.Path(cfg.Replay.Exec.GraphPath))
		ps, err := procstore.New(procstore.Options{
			Command:   strings.Fields(opts.Exec),
			GraphPath: graph,
			Dir:       cfg.ProjectRoot,
			Marker:    cfg.Replay.Exec.Marker,
			Timeout:   cfg.Replay.Exec.Timeout,
		}, opts.Runner, logger)
		if err != nil {
			return nil, "", WrapExitError(ExitCommandError, "configure external store", err)
		}
		st, repairAt = ps, graph
		replayOpts = append(replayOpts, replay.WithTarget(workDir, opts.Exec))
	default:
		dbPath := stringFlag(cmd, "db", opts.Database, cfg.Path(cfg.DBPath))
		sq, err := openStore(dbPath)
		if err != nil {
			return nil, "", WrapExitError(ExitCommandError, "open store", err)
		}
		defer sq.Close()
		st, repairAt = sq, dbPath
		sinks = append(sinks, sq)
		replayOpts = append(replayOpts, replay.WithTarget(workDir, dbPath))
	}

	var s replay.Store
	if st != nil {
		s = st
		if opts.Kind == config.KindComponents {
			replayOpts = append(replayOpts, replay.WithValidator(st))
		}
	}
	replayOpts = append(replayOpts, replay.WithReportSink(sinks))

	rep, err := replay.New(s, replayOpts...).Run(ctx, plan)
	if err != nil {
		return rep, repairAt, WrapExitError(ExitCommandError, "persist replay report", err)
	}
	return rep, repairAt, nil
}

// defaultStagedKind is the record kind assumed for untagged staged lines.
func defaultStagedKind(kind string) ingest.Kind {
	switch kind {
	case config.KindLinks:
		return ingest.KindLink
	case config.KindEnrichments:
		return ingest.KindEnrichment
	default:
		return ingest.KindComponent
	}
}

func finishReplay(out *OutputFormatter, w io.Writer, rep *replay.Report, reportPath string) error {
	code, message := "", ""
	switch {
	case rep.Aborted():
		code, message = CodeCascadeAbort, fmt.Sprintf("replay aborted at %s:%d", rep.AbortedAt.File, rep.AbortedAt.Line)
	case rep.Cancelled():
		code, message = CodeCancelled, fmt.Sprintf("replay cancelled; %d command(s) not attempted", rep.CommandsNotAttempted)
	case rep.NeedsAttention():
		code, message = CodeCommandFailed, fmt.Sprintf("%d failure(s) need attention", len(rep.Failures))
	}

	if out.Format == "json" {
		if code == "" {
			return out.Success(rep)
		}
		if err := out.Result(rep, code, message); err != nil {
			return err
		}
		return reportedExit(ExitNeedsAttention, message)
	}

	writeReplayText(w, rep)
	fmt.Fprintf(w, "  Report: %s\n", reportPath)
	if code != "" {
		fmt.Fprintf(w, "\n%s: %s\n", code, message)
		return reportedExit(ExitNeedsAttention, message)
	}
	return nil
}

func writeReplayText(w io.Writer, rep *replay.Report) {
	fmt.Fprintf(w, "Replay %s (%s): %s\n", rep.RunID, rep.Kind, rep.Status)
	fmt.Fprintf(w, "  Attempted: %d  Succeeded: %d  Skipped after abort: %d  Failures: %d\n",
		rep.CommandsAttempted, rep.CommandsSucceeded, rep.CommandsSkipped, len(rep.Failures))
	if rep.Cancelled() {
		fmt.Fprintf(w, "  Not attempted (cancelled): %d\n", rep.CommandsNotAttempted)
	}
	types := make([]string, 0, len(rep.ByType))
	for t := range rep.ByType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(w, "    %s: %d\n", t, rep.ByType[t])
	}
	for _, f := range rep.Failures {
		marker := ""
		if f.Cascade {
			marker = " [cascade]"
		}
		fmt.Fprintf(w, "  ✗ %s:%d%s %s\n", f.File, f.Line, marker, f.Reason)
	}
	for _, u := range rep.URLWarnings {
		fmt.Fprintf(w, "  ! %s:%d targetUrl %q %s\n", u.File, u.Line, u.OriginalValue, u.Action)
	}
	if rep.Derivation != nil {
		d := rep.Derivation
		fmt.Fprintf(w, "  Derived: %d  Skipped LOW: %d  Skipped conflicted: %d  Invalid: %d\n",
			d.Derived, d.SkippedLow, d.SkippedConflicted, d.Invalid)
	}
	if rep.Validation != nil {
		if rep.Validation.OK {
			fmt.Fprintln(w, "  ✓ Post-replay validation passed")
		} else {
			fmt.Fprintf(w, "  ✗ Post-replay validation failed: %s\n", rep.Validation.Error)
		}
	}
}
