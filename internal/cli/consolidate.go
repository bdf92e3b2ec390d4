package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/triangulate/internal/config"
	"github.com/roach88/triangulate/internal/ingest"
	"github.com/roach88/triangulate/internal/replay"
	"github.com/roach88/triangulate/internal/store"
	"github.com/roach88/triangulate/internal/triangulate"
)

// ConsolidateOptions holds flags for the consolidate command.
type ConsolidateOptions struct {
	*RootOptions
	InputDir           string
	Output             string
	Prefix             string
	KeyField           string
	DryRun             bool
	OriginFromFilename bool
	Apply              bool
	Database           string
}

// ConsolidateResult is the command's output payload.
type ConsolidateResult struct {
	Report     triangulate.Report `json:"report"`
	ReportPath string             `json:"reportPath,omitempty"`
	Replay     *replay.Report     `json:"replay,omitempty"`
}

// NewConsolidateCommand creates the consolidate command.
func NewConsolidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConsolidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Consolidate observation logs into canonical records",
		Long: `Read every observation log in the input directory, resolve identities
across producers, score each identity by how many distinct origins saw it,
and surface disagreeing fields as conflicts.

Writes the canonical JSONL log and triangulation-report.json next to it.
With --apply, conflict-free HIGH and MEDIUM records are also applied to the
SQLite store as component commands.

Examples:
  triangulate consolidate
  triangulate consolidate --input-dir .riviere/work --dry-run
  triangulate consolidate --apply --db .riviere/graph.db --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsolidate(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.InputDir, "input-dir", "", "directory holding observation logs (default work dir)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "consolidated JSONL path")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "observation log file prefix")
	cmd.Flags().StringVar(&opts.KeyField, "key-field", "", "identity field of each observation")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report without writing any file")
	cmd.Flags().BoolVar(&opts.OriginFromFilename, "origin-from-filename", false, "use each file's stem as the origin of untagged records")
	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "apply trusted records to the store")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite store for --apply")

	return cmd
}

func runConsolidate(ctx context.Context, opts *ConsolidateOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := opts.setup(cmd, "consolidate")
	if err != nil {
		return err
	}
	out := opts.formatter(cmd)

	inputDir := stringFlag(cmd, "input-dir", opts.InputDir, cfg.Path(cfg.WorkDir))
	outputPath := stringFlag(cmd, "output", opts.Output, cfg.OutputPath())
	keyField := stringFlag(cmd, "key-field", opts.KeyField, cfg.Consolidate.KeyField)

	batch, res, err := consolidate(ctx, cfg, ingest.Options{
		Prefix:             stringFlag(cmd, "prefix", opts.Prefix, cfg.Consolidate.Prefix),
		DefaultKind:        ingest.KindObservation,
		KeyField:           keyField,
		OriginFromFilename: opts.OriginFromFilename,
		Concurrency:        cfg.Consolidate.Concurrency,
	}, inputDir, logger)
	if err != nil {
		return inputError(out, err)
	}
	out.VerboseLog("Read %d observation(s) from %d file(s) in %s", res.Observations, len(batch.Files), inputDir)

	data, err := triangulate.EncodeJSONL(res.Records)
	if err != nil {
		return WrapExitError(ExitCommandError, "encode consolidated log", err)
	}

	result := ConsolidateResult{
		Report: triangulate.NewReport(batch, res, data, triangulate.ReportInput{
			InputDir:   inputDir,
			OutputPath: outputPath,
			DryRun:     opts.DryRun,
			Now:        time.Now(),
		}),
	}

	if !opts.DryRun {
		if err := writeFile(outputPath, data); err != nil {
			return WrapExitError(ExitCommandError, "write consolidated log", err)
		}
		result.ReportPath = filepath.Join(filepath.Dir(outputPath), triangulate.ReportFileName)
		if err := triangulate.WriteReport(result.ReportPath, result.Report); err != nil {
			return WrapExitError(ExitCommandError, "write triangulation report", err)
		}
		logger.Info("wrote consolidated log", "path", outputPath, "records", len(res.Records))
	}

	if opts.Apply {
		dbPath := stringFlag(cmd, "db", opts.Database, cfg.Path(cfg.DBPath))
		rep, err := applyCanonical(ctx, cfg, opts, dbPath, outputPath, res, logger, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		result.Replay = rep
	}

	return finishConsolidate(out, cmd.OutOrStdout(), result, res)
}

// consolidate collects observations from dir and consolidates them.
func consolidate(ctx context.Context, cfg *config.Config, in ingest.Options, dir string, logger *slog.Logger) (*ingest.Batch, *triangulate.Result, error) {
	batch, err := ingest.NewCollector(in, logger).Collect(ctx, dir)
	if err != nil {
		return nil, nil, err
	}
	res := triangulate.Consolidate(batch.Observations(), triangulate.Options{
		KeyField:        in.KeyField,
		MaxEditDistance: cfg.Consolidate.MaxEditDistance,
	}, logger)
	return batch, res, nil
}

func applyCanonical(ctx context.Context, cfg *config.Config, opts *ConsolidateOptions, dbPath, outputPath string,
	res *triangulate.Result, logger *slog.Logger, stderr io.Writer) (*replay.Report, error) {
	plan, d := replay.PlanFromCanonical(outputPath, res.Records)
	logger.Info("derived commands from consolidated records",
		"derived", d.Derived, "skipped_low", d.SkippedLow,
		"skipped_conflicted", d.SkippedConflicted, "invalid", d.Invalid)

	st, err := openStore(dbPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open store", err)
	}
	defer st.Close()

	reportPath := filepath.Join(filepath.Dir(outputPath), replay.ReportFileName(plan.Kind))
	replayOpts := []replay.Option{
		replay.WithLogger(logger),
		replay.WithTarget(filepath.Dir(outputPath), dbPath),
		replay.WithValidator(st),
		replay.WithValidateTimeout(cfg.Replay.ValidateTimeout),
	}
	if opts.DryRun {
		replayOpts = append(replayOpts, replay.WithDryRun(stderr))
	} else {
		replayOpts = append(replayOpts, replay.WithReportSink(replay.MultiSink{replay.FileSink{Path: reportPath}, st}))
	}

	rep, err := replay.New(st, replayOpts...).Run(ctx, plan)
	if err != nil {
		return rep, WrapExitError(ExitCommandError, "persist replay report", err)
	}
	if rep.Aborted() {
		CascadeBanner(stderr, dbPath, rep.AbortedAt.InstancePath, reportPath)
	}
	return rep, nil
}

func finishConsolidate(out *OutputFormatter, w io.Writer, result ConsolidateResult, res *triangulate.Result) error {
	code, message := "", ""
	switch {
	case result.Replay != nil && result.Replay.Aborted():
		code, message = CodeCascadeAbort, "replay aborted: store poisoned"
	case result.Replay != nil && result.Replay.Cancelled():
		code, message = CodeCancelled, "replay cancelled"
	case result.Replay != nil && result.Replay.NeedsAttention():
		code, message = CodeCommandFailed, fmt.Sprintf("%d command(s) failed", len(result.Replay.Failures))
	case res.NeedsAttention():
		code, message = CodeNeedsReview, "conflicts or near duplicates need review"
	}

	if out.Format == "json" {
		if code == "" {
			return out.Success(result)
		}
		if err := out.Result(result, code, message); err != nil {
			return err
		}
		return reportedExit(ExitNeedsAttention, message)
	}

	writeConsolidateText(w, result)
	if code != "" {
		fmt.Fprintf(w, "\n%s: %s\n", code, message)
		return reportedExit(ExitNeedsAttention, message)
	}
	return nil
}

func writeConsolidateText(w io.Writer, result ConsolidateResult) {
	r := result.Report
	fmt.Fprintf(w, "Consolidated %d observation(s) from %d file(s) into %d identities\n",
		r.TotalObservations, len(r.FilesProcessed), r.UniqueIdentities)
	fmt.Fprintf(w, "  HIGH: %d  MEDIUM: %d  LOW: %d\n", r.HighConfidence, r.MediumConfidence, r.LowConfidence)
	fmt.Fprintf(w, "  Records with conflicts: %d\n", r.Contradictions)
	for _, nd := range r.NearDuplicates {
		fmt.Fprintf(w, "  Near duplicate: %q ~ %q (distance %d), both withheld\n", nd.NameA, nd.NameB, nd.Distance)
	}
	if len(r.ReviewQueue) > 0 {
		fmt.Fprintf(w, "  Review queue: %d LOW record(s)\n", len(r.ReviewQueue))
	}
	if len(r.Malformed) > 0 {
		fmt.Fprintf(w, "  Skipped lines: %d\n", len(r.Malformed))
	}
	if r.InferredOrigins > 0 {
		fmt.Fprintf(w, "  Origins inferred from file names: %d\n", r.InferredOrigins)
	}
	fmt.Fprintf(w, "  Output hash: %s\n", r.OutputHash)
	if r.DryRun {
		fmt.Fprintln(w, "  Dry run: nothing written")
	} else {
		fmt.Fprintf(w, "  Output: %s\n", r.OutputPath)
		fmt.Fprintf(w, "  Report: %s\n", result.ReportPath)
	}
	if result.Replay != nil {
		writeReplayText(w, result.Replay)
	}
}

// inputError maps collection errors to usage failures.
func inputError(out *OutputFormatter, err error) error {
	code := CodeInput
	if ingest.IsNoInput(err) {
		code = CodeNoInput
	}
	if out.Format == "json" {
		if ferr := out.Error(code, err.Error(), nil); ferr != nil {
			return ferr
		}
		return reportedExit(ExitCommandError, err.Error())
	}
	return WrapExitError(ExitCommandError, "read input", err)
}

// openStore opens the SQLite store, creating its directory.
func openStore(path string) (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return store.Open(path)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
