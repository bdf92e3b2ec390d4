package harness

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/triangulate/internal/identity"
	"github.com/roach88/triangulate/internal/replay"
	"github.com/roach88/triangulate/internal/triangulate"
)

func consolidated(records ...triangulate.CanonicalRecord) *Result {
	r := NewResult()
	r.Consolidated = &triangulate.Result{
		Records: records,
		NearDuplicates: []identity.NearDuplicate{
			{A: "refund", B: "refunds", NameA: "Refund", NameB: "Refunds", Distance: 1},
		},
	}
	return r
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertConfidence,
		Expected: "X is HIGH",
		Actual:   "X is LOW",
		Context:  []string{"X LOW origins=[a] conflicts=[]"},
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: confidence")
	assert.Contains(t, msg, "Expected: X is HIGH")
	assert.Contains(t, msg, "Actual: X is LOW")
	assert.Contains(t, msg, "[1] X LOW")
}

func TestEvaluate_RecordAssertions(t *testing.T) {
	res := consolidated(triangulate.CanonicalRecord{
		Name:       "Checkout",
		Confidence: triangulate.High,
		Origins:    []string{"a", "b", "c"},
		Conflicts:  []triangulate.Conflict{{Field: "owner"}},
	})

	tests := []struct {
		name string
		a    Assertion
		ok   bool
	}{
		{"confidence holds", Assertion{Type: AssertConfidence, Name: "Checkout", Confidence: "HIGH"}, true},
		{"confidence differs", Assertion{Type: AssertConfidence, Name: "Checkout", Confidence: "LOW"}, false},
		{"confidence missing record", Assertion{Type: AssertConfidence, Name: "Cart", Confidence: "LOW"}, false},
		{"conflict holds", Assertion{Type: AssertConflict, Name: "Checkout", Field: "owner"}, true},
		{"conflict on other field", Assertion{Type: AssertConflict, Name: "Checkout", Field: "schema"}, false},
		{"no conflicts fails", Assertion{Type: AssertNoConflicts, Name: "Checkout"}, false},
		{"absent holds", Assertion{Type: AssertAbsent, Name: "Refund"}, true},
		{"absent fails", Assertion{Type: AssertAbsent, Name: "Checkout"}, false},
		{"near duplicate either order", Assertion{Type: AssertNearDuplicate, Names: []string{"Refunds", "Refund"}}, true},
		{"near duplicate missing", Assertion{Type: AssertNearDuplicate, Names: []string{"Cart", "Carts"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := evaluate(res, tt.a)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var ae *AssertionError
			require.True(t, errors.As(err, &ae), "want AssertionError, got %v", err)
			assert.Equal(t, tt.a.Type, ae.Type)
		})
	}
}

func TestEvaluate_ReplayAssertions(t *testing.T) {
	res := NewResult()
	res.Replay = &replay.Report{
		Status:            replay.StatusAborted,
		CommandsAttempted: 2,
		CommandsSucceeded: 1,
		CommandsSkipped:   1,
		Failures:          []replay.Failure{{Line: 2, Reason: "poisoned", Cascade: true}},
		AbortedAt:         &replay.AbortPoint{Line: 2, InstancePath: "/components/1"},
		Outcomes: []replay.Outcome{
			{Line: 1, State: replay.StateSucceeded},
			{Line: 2, State: replay.StateFailed},
			{Line: 3, State: replay.StateSkippedAfterAbort},
		},
	}

	tests := []struct {
		name string
		a    Assertion
		ok   bool
	}{
		{"status", Assertion{Type: AssertReplayStatus, Status: "aborted"}, true},
		{"status differs", Assertion{Type: AssertReplayStatus, Status: "complete"}, false},
		{"counts", Assertion{Type: AssertReplayCounts, Attempted: 2, Succeeded: 1, Skipped: 1, Failures: 1}, true},
		{"counts differ", Assertion{Type: AssertReplayCounts, Attempted: 3}, false},
		{"aborted at", Assertion{Type: AssertAbortedAt, Line: 2, InstancePath: "/components/1"}, true},
		{"aborted at any path", Assertion{Type: AssertAbortedAt, Line: 2}, true},
		{"aborted elsewhere", Assertion{Type: AssertAbortedAt, Line: 3}, false},
		{"outcome", Assertion{Type: AssertOutcome, Line: 3, State: "skipped-after-abort"}, true},
		{"outcome differs", Assertion{Type: AssertOutcome, Line: 1, State: "failed"}, false},
		{"outcome missing line", Assertion{Type: AssertOutcome, Line: 9, State: "failed"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := evaluate(res, tt.a)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestEvaluate_AbortedAtOnCompleteRun(t *testing.T) {
	res := NewResult()
	res.Replay = &replay.Report{Status: replay.StatusComplete}

	err := evaluate(res, Assertion{Type: AssertAbortedAt, Line: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run did not abort")
}
