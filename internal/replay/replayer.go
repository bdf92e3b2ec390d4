package replay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Store applies commands to a target model.
//
// Apply must be idempotent per command identity. A failure must be a
// *StoreError; plain errors are treated as rejections.
type Store interface {
	Apply(ctx context.Context, cmd Command) error
}

// Validator checks a store's whole persisted state.
type Validator interface {
	Validate(ctx context.Context) error
}

// DefaultValidateTimeout bounds the post-replay validation call.
const DefaultValidateTimeout = 2 * time.Minute

// Replayer is the single-writer apply loop.
//
// Commands are applied one at a time in plan order; there is never more
// than one store call in flight. A run stops early only on a poisoned
// store or a cancelled context.
type Replayer struct {
	store           Store
	validator       Validator
	sink            ReportSink
	runIDs          RunIDGenerator
	now             func() time.Time
	logger          *slog.Logger
	dryRun          bool
	dryRunOut       io.Writer
	validateTimeout time.Duration
	workDir         string
	target          string
}

// Option configures a Replayer.
type Option func(*Replayer)

// WithDryRun renders commands to w instead of applying them. Rendered
// commands count as succeeded.
func WithDryRun(w io.Writer) Option {
	return func(r *Replayer) {
		r.dryRun = true
		r.dryRunOut = w
	}
}

// WithValidator runs v after a complete, non-dry-run replay.
func WithValidator(v Validator) Option {
	return func(r *Replayer) {
		r.validator = v
	}
}

// WithValidateTimeout overrides DefaultValidateTimeout.
func WithValidateTimeout(d time.Duration) Option {
	return func(r *Replayer) {
		if d > 0 {
			r.validateTimeout = d
		}
	}
}

// WithReportSink sets where the finished report goes.
func WithReportSink(s ReportSink) Option {
	return func(r *Replayer) {
		r.sink = s
	}
}

// WithRunIDGenerator replaces the UUIDv7 run ID generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(r *Replayer) {
		r.runIDs = g
	}
}

// WithClock replaces time.Now for the report timestamp.
func WithClock(now func() time.Time) Option {
	return func(r *Replayer) {
		r.now = now
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Replayer) {
		r.logger = l
	}
}

// WithTarget records where the run was applied, for the report.
func WithTarget(workDir, target string) Option {
	return func(r *Replayer) {
		r.workDir = workDir
		r.target = target
	}
}

// New creates a Replayer over s.
func New(s Store, opts ...Option) *Replayer {
	r := &Replayer{
		store:           s,
		runIDs:          UUIDv7Generator{},
		now:             time.Now,
		logger:          slog.New(slog.DiscardHandler),
		dryRunOut:       io.Discard,
		validateTimeout: DefaultValidateTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run applies every command of plan and writes the report once.
//
// Rejected commands are recorded and the loop continues. The first
// poisoned failure is recorded as the cascade failure, every later command
// is marked skipped-after-abort, and the partial report is written. When
// ctx is cancelled the remaining commands are marked not-attempted and the
// report is still written. The returned error is non-nil only when the
// report could not be persisted.
func (r *Replayer) Run(ctx context.Context, plan *Plan) (*Report, error) {
	report := &Report{
		RunID:          r.runIDs.Generate(),
		GeneratedAt:    r.now().UTC().Format(time.RFC3339),
		Kind:           plan.Kind,
		WorkDir:        r.workDir,
		Target:         r.target,
		DryRun:         r.dryRun,
		Status:         StatusComplete,
		FilesProcessed: nonNil(plan.Files),
		LinesTotal:     plan.LinesTotal,
		ByType:         map[string]int{},
		Failures:       []Failure{},
		URLWarnings:    nonNil(plan.URLWarnings),
		Outcomes:       []Outcome{},
		Derivation:     plan.Derivation,
	}
	log := r.logger.With("run_id", report.RunID, "kind", plan.Kind)

	for _, step := range plan.Steps {
		if !report.stopped() && ctx.Err() != nil {
			report.Status = StatusCancelled
			log.Warn("replay cancelled", "source", step.Source.String(), "reason", ctx.Err())
		}
		switch {
		case report.Aborted():
			if step.Command != nil {
				report.CommandsSkipped++
				report.Outcomes = append(report.Outcomes, outcome(*step.Command, StateSkippedAfterAbort))
			}
			continue
		case report.Cancelled():
			if step.Command != nil {
				report.CommandsNotAttempted++
				report.Outcomes = append(report.Outcomes, outcome(*step.Command, StateNotAttempted))
			}
			continue
		}

		if step.Command == nil {
			f := failureAt(step.Source, step.ParseError)
			f.Command = step.Raw
			report.Failures = append(report.Failures, f)
			log.Warn("skipping unparseable line", "source", step.Source.String(), "reason", step.ParseError)
			continue
		}

		cmd := *step.Command
		report.CommandsAttempted++

		if r.dryRun {
			fmt.Fprintln(r.dryRunOut, Render(cmd))
			r.succeed(report, cmd)
			continue
		}

		err := r.store.Apply(ctx, cmd)
		if err == nil {
			r.succeed(report, cmd)
			continue
		}

		if ctx.Err() != nil {
			// Interrupted mid-command; the store did not reject it.
			report.CommandsAttempted--
			report.CommandsNotAttempted++
			report.Outcomes = append(report.Outcomes, outcome(cmd, StateNotAttempted))
			report.Status = StatusCancelled
			log.Warn("replay cancelled", "source", cmd.Source.String(), "reason", ctx.Err())
			continue
		}

		se := AsStoreError(err)
		f := failureAt(cmd.Source, se.Message)
		f.CommandID = cmd.ID
		f.Command = cmd.Payload
		f.Args = Args(cmd)
		f.Stdout = se.Stdout
		f.Stderr = se.Stderr
		f.InstancePath = se.InstancePath
		report.Outcomes = append(report.Outcomes, outcome(cmd, StateFailed))

		if se.Kind == Poisoned {
			f.Cascade = true
			report.Failures = append(report.Failures, f)
			report.Status = StatusAborted
			report.AbortedAt = &AbortPoint{
				File:         cmd.Source.File,
				Line:         cmd.Source.Line,
				CommandID:    cmd.ID,
				InstancePath: se.InstancePath,
				Reason:       se.Message,
			}
			log.Error("store poisoned, aborting replay",
				"source", cmd.Source.String(),
				"command_id", cmd.ID,
				"instance_path", se.InstancePath)
			continue
		}

		report.Failures = append(report.Failures, f)
		log.Warn("command rejected", "source", cmd.Source.String(), "command_id", cmd.ID, "reason", se.Message)
	}

	if !report.stopped() && !r.dryRun && r.validator != nil {
		report.Validation = r.validate(ctx, report)
	}

	log.Info("replay finished",
		"status", report.Status,
		"attempted", report.CommandsAttempted,
		"succeeded", report.CommandsSucceeded,
		"skipped", report.CommandsSkipped,
		"not_attempted", report.CommandsNotAttempted,
		"failures", len(report.Failures))

	// A cancelled run still leaves its partial report behind.
	if r.sink != nil {
		if err := r.sink.WriteReport(context.WithoutCancel(ctx), report); err != nil {
			return report, fmt.Errorf("write replay report: %w", err)
		}
	}
	return report, nil
}

func (r *Replayer) succeed(report *Report, cmd Command) {
	report.CommandsSucceeded++
	report.ByType[cmd.Type()]++
	report.Outcomes = append(report.Outcomes, outcome(cmd, StateSucceeded))
}

// validate runs the store check under the configured timeout. A failure is
// appended to the report's failures as well.
func (r *Replayer) validate(ctx context.Context, report *Report) *Validation {
	vctx, cancel := context.WithTimeout(ctx, r.validateTimeout)
	defer cancel()

	err := r.validator.Validate(vctx)
	if err == nil {
		return &Validation{OK: true}
	}

	v := &Validation{OK: false, Error: err.Error()}
	if vctx.Err() != nil {
		v.Error = fmt.Sprintf("validation timed out after %s", r.validateTimeout)
	}
	se := AsStoreError(err)
	v.InstancePath = se.InstancePath

	report.Failures = append(report.Failures, Failure{
		File:         "(post-replay validation)",
		Reason:       "schema validation failed after replay: " + v.Error,
		InstancePath: v.InstancePath,
		Stdout:       se.Stdout,
		Stderr:       se.Stderr,
	})
	return v
}

func outcome(cmd Command, s State) Outcome {
	return Outcome{CommandID: cmd.ID, File: cmd.Source.File, Line: cmd.Source.Line, State: s}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
