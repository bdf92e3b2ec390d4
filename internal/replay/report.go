package replay

import (
	"context"
	"errors"
	"strings"

	"github.com/roach88/triangulate/internal/ingest"
	"github.com/roach88/triangulate/internal/ir"
	"github.com/roach88/triangulate/internal/triangulate"
)

// State is the terminal state of one command.
type State string

const (
	StateSucceeded         State = "succeeded"
	StateFailed            State = "failed"
	StateSkippedAfterAbort State = "skipped-after-abort"
	StateNotAttempted      State = "not-attempted"
)

// Status is the outcome of a whole run.
type Status string

const (
	StatusComplete Status = "complete"
	StatusAborted  Status = "aborted"
	// StatusCancelled marks a run stopped by its caller, e.g. on SIGINT.
	StatusCancelled Status = "cancelled"
)

// Failure is one failed line or command.
type Failure struct {
	File      string    `json:"file"`
	Line      int       `json:"line"`
	Reason    string    `json:"reason"`
	CommandID string    `json:"commandId,omitempty"`
	Command   ir.Object `json:"command,omitempty"`
	// Args is the rendered builder invocation, when the line became a command.
	Args         []string `json:"args,omitempty"`
	Stdout       string   `json:"stdout,omitempty"`
	Stderr       string   `json:"stderr,omitempty"`
	InstancePath string   `json:"instancePath,omitempty"`
	Cascade      bool     `json:"cascade,omitempty"`
}

// AbortPoint locates the command whose failure poisoned the store.
type AbortPoint struct {
	File         string `json:"file"`
	Line         int    `json:"line"`
	CommandID    string `json:"commandId"`
	InstancePath string `json:"instancePath,omitempty"`
	Reason       string `json:"reason"`
}

// Outcome is the terminal state of one command.
type Outcome struct {
	CommandID string `json:"commandId"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	State     State  `json:"state"`
}

// Validation is the result of the post-replay store check.
type Validation struct {
	OK           bool   `json:"ok"`
	Error        string `json:"error,omitempty"`
	InstancePath string `json:"instancePath,omitempty"`
}

// Report summarises one replay run. It is written exactly once per run,
// including runs that abort early.
type Report struct {
	RunID                string         `json:"runId"`
	GeneratedAt          string         `json:"generatedAt"`
	Kind                 string         `json:"kind"`
	WorkDir              string         `json:"workDir"`
	Target               string         `json:"target"`
	DryRun               bool           `json:"dryRun"`
	Status               Status         `json:"status"`
	FilesProcessed       []string       `json:"filesProcessed"`
	LinesTotal           int            `json:"linesTotal"`
	CommandsAttempted    int            `json:"commandsAttempted"`
	CommandsSucceeded    int            `json:"commandsSucceeded"`
	CommandsSkipped      int            `json:"commandsSkipped"`
	CommandsNotAttempted int            `json:"commandsNotAttempted"`
	ByType               map[string]int `json:"byType"`
	Failures             []Failure      `json:"failures"`
	URLWarnings          []URLWarning   `json:"urlWarnings"`
	AbortedAt            *AbortPoint    `json:"abortedAt,omitempty"`
	Outcomes             []Outcome      `json:"outcomes"`
	Validation           *Validation    `json:"validation,omitempty"`
	Derivation           *Derivation    `json:"derivation,omitempty"`
}

// Aborted reports whether the run stopped on a poisoned store.
func (r *Report) Aborted() bool {
	return r.Status == StatusAborted
}

// Cancelled reports whether the run was stopped by its context.
func (r *Report) Cancelled() bool {
	return r.Status == StatusCancelled
}

// stopped reports whether no further command may be applied.
func (r *Report) stopped() bool {
	return r.Aborted() || r.Cancelled()
}

// NeedsAttention reports whether a human must act on the run's result.
func (r *Report) NeedsAttention() bool {
	return r.stopped() || len(r.Failures) > 0
}

// ReportSink persists a finished report.
type ReportSink interface {
	WriteReport(ctx context.Context, r *Report) error
}

// FileSink writes the report as indented JSON to Path.
type FileSink struct {
	Path string
}

// WriteReport implements ReportSink.
func (s FileSink) WriteReport(_ context.Context, r *Report) error {
	return triangulate.WriteReport(s.Path, r)
}

// MultiSink writes to every sink in order and joins their errors.
type MultiSink []ReportSink

// WriteReport implements ReportSink.
func (m MultiSink) WriteReport(ctx context.Context, r *Report) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteReport(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReportFileName returns the report file name for a run kind, e.g.
// "link-replay-report.json" for "links".
func ReportFileName(kind string) string {
	if kind == "enrichments" {
		return "enrich-replay-report.json"
	}
	return strings.TrimSuffix(kind, "s") + "-replay-report.json"
}

func failureAt(src ingest.SourceRef, reason string) Failure {
	return Failure{File: src.File, Line: src.Line, Reason: reason}
}
