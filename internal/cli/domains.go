package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/triangulate/internal/config"
	"github.com/roach88/triangulate/internal/domains"
	"github.com/roach88/triangulate/internal/identity"
	"github.com/roach88/triangulate/internal/ingest"
	"github.com/roach88/triangulate/internal/replay"
	"github.com/roach88/triangulate/internal/store"
	"github.com/roach88/triangulate/internal/triangulate"
)

// DomainReportFileName is written to the work directory.
const DomainReportFileName = "domain-merge-report.json"

// DomainsOptions holds flags for the domains command.
type DomainsOptions struct {
	*RootOptions
	InputDir   string
	Database   string
	AddToGraph bool
	DryRun     bool
}

// DomainReport is the persisted domain merge report.
type DomainReport struct {
	GeneratedAt    string             `json:"generatedAt"`
	FilesProcessed []string           `json:"filesProcessed"`
	DryRun         bool               `json:"dryRun"`
	Added          []domains.Entry    `json:"added"`
	Updated        []domains.Update   `json:"updated"`
	Conflicts      []domains.Conflict `json:"conflicts"`
	Malformed      []ingest.Malformed `json:"malformed"`
	Replay         *replay.Report     `json:"replay,omitempty"`
}

// NewDomainsCommand creates the domains command.
func NewDomainsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DomainsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "domains",
		Short: "Merge discovered domains into the domain registry",
		Long: `Merge domain discoveries into the registry held in the store.

A new name is added, an ADD row appends repositories to an existing domain,
and a name within two edits of an existing one is reported as a conflict and
left for a human.

With --add-to-graph, every added domain is also applied to the graph as a
domain command.

Examples:
  triangulate domains
  triangulate domains --add-to-graph --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDomains(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.InputDir, "input-dir", "", "directory holding domain logs (default work dir)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite store holding the registry")
	cmd.Flags().BoolVar(&opts.AddToGraph, "add-to-graph", false, "apply added domains to the graph")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report without writing")

	return cmd
}

func runDomains(ctx context.Context, opts *DomainsOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := opts.setup(cmd, "domains")
	if err != nil {
		return err
	}
	out := opts.formatter(cmd)

	inputDir := stringFlag(cmd, "input-dir", opts.InputDir, cfg.Path(cfg.WorkDir))
	batch, err := ingest.NewCollector(ingest.Options{
		Prefix:      cfg.Domains.Prefix,
		DefaultKind: ingest.KindDomain,
	}, logger).Collect(ctx, inputDir)
	if err != nil {
		return inputError(out, err)
	}

	var discoveries []ingest.Domain
	for _, r := range batch.Records {
		if d, ok := r.(ingest.Domain); ok {
			discoveries = append(discoveries, d)
			continue
		}
		logger.Warn("ignoring record in domains log", "kind", r.Kind(), "source", r.Ref().String())
	}

	dbPath := stringFlag(cmd, "db", opts.Database, cfg.Path(cfg.DBPath))
	st, err := openStore(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "open store", err)
	}
	defer st.Close()

	res, err := domains.NewMerger(st, logger).Merge(ctx, discoveries, opts.DryRun)
	if err != nil {
		return WrapExitError(ExitCommandError, "merge domains", err)
	}

	report := DomainReport{
		GeneratedAt:    time.Now().UTC().Format(time.RFC3339),
		FilesProcessed: batch.Files,
		DryRun:         opts.DryRun,
		Added:          res.Added,
		Updated:        res.Updated,
		Conflicts:      res.Conflicts,
		Malformed:      batch.Malformed,
	}
	if report.Malformed == nil {
		report.Malformed = []ingest.Malformed{}
	}

	workDir := cfg.Path(cfg.WorkDir)
	if opts.AddToGraph && len(res.Added) > 0 {
		report.Replay, err = addDomainsToGraph(ctx, cfg, opts, st, discoveries, res.Added, workDir, cmd.ErrOrStderr(), logger)
		if err != nil {
			return err
		}
		if report.Replay.Aborted() {
			CascadeBanner(cmd.ErrOrStderr(), dbPath, report.Replay.AbortedAt.InstancePath,
				filepath.Join(workDir, replay.ReportFileName("domains")))
		}
	}

	reportPath := ""
	if !opts.DryRun {
		reportPath = filepath.Join(workDir, DomainReportFileName)
		if err := triangulate.WriteReport(reportPath, report); err != nil {
			return WrapExitError(ExitCommandError, "write domain report", err)
		}
	}

	return finishDomains(out, cmd.OutOrStdout(), report, reportPath)
}

// addDomainsToGraph replays one domain command per added entry, in the
// order the discoveries were read.
func addDomainsToGraph(ctx context.Context, cfg *config.Config, opts *DomainsOptions, st *store.Store,
	discoveries []ingest.Domain, added []domains.Entry, workDir string, stderr io.Writer, logger *slog.Logger) (*replay.Report, error) {
	addedKeys := map[string]bool{}
	for _, e := range added {
		addedKeys[identity.Normalize(e.Name)] = true
	}

	plan := &replay.Plan{Kind: "domains"}
	for _, d := range discoveries {
		key := identity.Normalize(d.Name)
		if !addedKeys[key] {
			continue
		}
		delete(addedKeys, key)
		cmd, err := replay.FromRecord(d)
		if err != nil {
			plan.Steps = append(plan.Steps, replay.Step{Source: d.Source, ParseError: err.Error()})
			continue
		}
		plan.Steps = append(plan.Steps, replay.Step{Source: d.Source, Command: &cmd})
		if !slices.Contains(plan.Files, d.Source.File) {
			plan.Files = append(plan.Files, d.Source.File)
		}
		plan.LinesTotal++
	}

	replayOpts := []replay.Option{
		replay.WithLogger(logger),
		replay.WithTarget(workDir, st.Path()),
		replay.WithValidateTimeout(cfg.Replay.ValidateTimeout),
	}
	if opts.DryRun {
		replayOpts = append(replayOpts, replay.WithDryRun(stderr))
	} else {
		replayOpts = append(replayOpts, replay.WithReportSink(replay.MultiSink{
			replay.FileSink{Path: filepath.Join(workDir, replay.ReportFileName(plan.Kind))},
			st,
		}))
	}

	rep, err := replay.New(st, replayOpts...).Run(ctx, plan)
	if err != nil {
		return rep, WrapExitError(ExitCommandError, "persist replay report", err)
	}
	return rep, nil
}

func finishDomains(out *OutputFormatter, w io.Writer, report DomainReport, reportPath string) error {
	code, message := "", ""
	switch {
	case report.Replay != nil && report.Replay.Aborted():
		code, message = CodeCascadeAbort, "graph replay aborted: store poisoned"
	case report.Replay != nil && report.Replay.Cancelled():
		code, message = CodeCancelled, "graph replay cancelled"
	case len(report.Conflicts) > 0:
		code, message = CodeNeedsReview, fmt.Sprintf("%d domain conflict(s) need review", len(report.Conflicts))
	case report.Replay != nil && report.Replay.NeedsAttention():
		code, message = CodeCommandFailed, fmt.Sprintf("%d command(s) failed", len(report.Replay.Failures))
	}

	if out.Format == "json" {
		if code == "" {
			return out.Success(report)
		}
		if err := out.Result(report, code, message); err != nil {
			return err
		}
		return reportedExit(ExitNeedsAttention, message)
	}

	fmt.Fprintf(w, "Merged domains from %d file(s)\n", len(report.FilesProcessed))
	fmt.Fprintf(w, "  Added: %d  Updated: %d  Conflicts: %d\n", len(report.Added), len(report.Updated), len(report.Conflicts))
	for _, e := range report.Added {
		fmt.Fprintf(w, "  + %s (%s)\n", e.Name, e.SystemType)
	}
	for _, u := range report.Updated {
		fmt.Fprintf(w, "  ~ %s: +%d repositories\n", u.Name, len(u.AddedRepos))
	}
	for _, c := range report.Conflicts {
		fmt.Fprintf(w, "  ✗ %s: %s\n", c.Name, c.Reason)
	}
	if report.Replay != nil {
		writeReplayText(w, report.Replay)
	}
	if reportPath != "" {
		fmt.Fprintf(w, "  Report: %s\n", reportPath)
	}
	if code != "" {
		fmt.Fprintf(w, "\n%s: %s\n", code, message)
		return reportedExit(ExitNeedsAttention, message)
	}
	return nil
}
