package harness

import (
	"github.com/roach88/triangulate/internal/identity"
	"github.com/roach88/triangulate/internal/replay"
	"github.com/roach88/triangulate/internal/triangulate"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every assertion holds.
	Pass bool `json:"pass"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Consolidated is set when the scenario ran the consolidation stage.
	Consolidated *triangulate.Result `json:"-"`

	// Output is the consolidated JSONL exactly as it would be written.
	Output []byte `json:"-"`

	// Replay is the report of the replay or apply stage, if any.
	Replay *replay.Report `json:"replay,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Records returns the consolidated records, or nil if consolidation did not
// run.
func (r *Result) Records() []triangulate.CanonicalRecord {
	if r.Consolidated == nil {
		return nil
	}
	return r.Consolidated.Records
}

// NearDuplicates returns the withheld near-duplicate pairs.
func (r *Result) NearDuplicates() []identity.NearDuplicate {
	if r.Consolidated == nil {
		return nil
	}
	return r.Consolidated.NearDuplicates
}
