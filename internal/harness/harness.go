package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/triangulate/internal/config"
	"github.com/roach88/triangulate/internal/ingest"
	"github.com/roach88/triangulate/internal/replay"
	"github.com/roach88/triangulate/internal/store"
	"github.com/roach88/triangulate/internal/testutil"
	"github.com/roach88/triangulate/internal/triangulate"
)

// RunID is the fixed run ID given to every scenario replay.
const RunID = "harness-run"

// Harness is the scenario execution engine.
// It runs scenarios with a deterministic clock and run ID.
type Harness struct {
	cfg    *config.Config
	clock  *testutil.DeterministicClock
	logger *slog.Logger
}

// New creates a harness. A nil logger discards diagnostics.
func New(logger *slog.Logger) *Harness {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Harness{
		cfg:    config.Default(""),
		clock:  testutil.NewDeterministicClock(),
		logger: logger,
	}
}

// Run executes a scenario with a fresh harness.
//
// Each scenario runs in its own scratch directory, removed afterwards.
// An error is returned only when the pipeline itself cannot run; failed
// assertions are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	return New(nil).Run(context.Background(), scenario)
}

// Run executes a scenario.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "triangulate-harness-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	for name, content := range scenario.Inputs {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("write input %s: %w", name, err)
		}
	}

	result := NewResult()
	if c := scenario.Consolidate; c != nil {
		if err := h.consolidate(ctx, dir, c, result); err != nil {
			return nil, err
		}
	}
	if r := scenario.Replay; r != nil {
		if err := h.replay(ctx, dir, r, result); err != nil {
			return nil, err
		}
	}

	for _, a := range scenario.Assertions {
		if err := evaluate(result, a); err != nil {
			result.AddError(err.Error())
		}
	}
	return result, nil
}

func (h *Harness) consolidate(ctx context.Context, dir string, c *ConsolidateStep, result *Result) error {
	prefix := c.Prefix
	if prefix == "" {
		prefix = h.cfg.Consolidate.Prefix
	}
	maxDist := c.MaxEditDistance
	if maxDist == 0 {
		maxDist = h.cfg.Consolidate.MaxEditDistance
	}

	batch, err := ingest.NewCollector(ingest.Options{
		Prefix:             prefix,
		DefaultKind:        ingest.KindObservation,
		KeyField:           c.KeyField,
		OriginFromFilename: c.OriginFromFilename,
	}, h.logger).Collect(ctx, dir)
	if err != nil {
		return fmt.Errorf("consolidate: %w", err)
	}

	res := triangulate.Consolidate(batch.Observations(), triangulate.Options{
		KeyField:        c.KeyField,
		MaxEditDistance: maxDist,
	}, h.logger)
	output, err := triangulate.EncodeJSONL(res.Records)
	if err != nil {
		return fmt.Errorf("encode consolidated records: %w", err)
	}
	result.Consolidated = res
	result.Output = output

	if !c.Apply {
		return nil
	}
	outputPath := filepath.Join(dir, h.cfg.Consolidate.Output)
	plan, _ := replay.PlanFromCanonical(outputPath, res.Records)
	rep, err := h.execute(ctx, dir, plan, c.Store, nil, false)
	if err != nil {
		return err
	}
	result.Replay = rep
	return nil
}

func (h *Harness) replay(ctx context.Context, dir string, r *ReplayStep, result *Result) error {
	prefix := r.Prefix
	if prefix == "" {
		p, err := h.cfg.ReplayPrefix(r.Kind)
		if err != nil {
			return err
		}
		prefix = p
	}

	batch, err := ingest.NewCollector(ingest.Options{
		Prefix:      prefix,
		DefaultKind: stagedKind(r.Kind),
	}, h.logger).Collect(ctx, dir)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	rep, err := h.execute(ctx, dir, replay.PlanFromBatch(r.Kind, batch), r.Store, r, r.DryRun)
	if err != nil {
		return err
	}
	result.Replay = rep
	return nil
}

// execute runs plan against the named store. script, when set, programs
// rejections and poisoning into the memory store.
func (h *Harness) execute(ctx context.Context, dir string, plan *replay.Plan, storeName string,
	script *ReplayStep, dryRun bool) (*replay.Report, error) {
	opts := []replay.Option{
		replay.WithRunIDGenerator(testutil.NewFixedRunIDGenerator(RunID)),
		replay.WithClock(h.clock.Now),
		replay.WithLogger(h.logger),
	}
	if dryRun {
		opts = append(opts, replay.WithDryRun(io.Discard))
		return replay.New(nil, opts...).Run(ctx, plan)
	}

	var target replay.Store
	switch storeName {
	case StoreSQLite:
		st, err := store.Open(filepath.Join(dir, "graph.db"))
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		target = st
		opts = append(opts, replay.WithReportSink(st))
		if validates(plan.Kind) {
			opts = append(opts, replay.WithValidator(st))
		}
	default:
		mem := replay.NewMemoryStore()
		if script != nil {
			for key, msg := range script.Reject {
				mem.RejectKey(key, msg)
			}
			for key, path := range script.Poison {
				mem.PoisonOn(key, path)
			}
		}
		target = mem
		if validates(plan.Kind) {
			opts = append(opts, replay.WithValidator(mem))
		}
	}
	return replay.New(target, opts...).Run(ctx, plan)
}

// validates reports whether runs of kind end with a whole-store check.
func validates(kind string) bool {
	return kind == config.KindComponents || kind == "consolidated"
}

// stagedKind is the record kind assumed for untagged staged lines.
func stagedKind(kind string) ingest.Kind {
	switch kind {
	case config.KindLinks:
		return ingest.KindLink
	case config.KindEnrichments:
		return ingest.KindEnrichment
	default:
		return ingest.KindComponent
	}
}
