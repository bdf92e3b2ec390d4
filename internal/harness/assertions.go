package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/triangulate/internal/replay"
	"github.com/roach88/triangulate/internal/triangulate"
)

// AssertionError is returned when an assertion fails.
// It includes the observed records or outcomes to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Context  []string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Context) > 0 {
		fmt.Fprintf(&buf, "\nObserved:\n")
		for i, line := range e.Context {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, line)
		}
	}
	return buf.String()
}

// evaluate dispatches one assertion.
func evaluate(res *Result, a Assertion) error {
	switch a.Type {
	case AssertConfidence, AssertConflict, AssertNoConflicts, AssertAbsent, AssertNearDuplicate:
		if res.Consolidated == nil {
			return fmt.Errorf("%s assertion needs a consolidate stage", a.Type)
		}
	default:
		if res.Replay == nil {
			return fmt.Errorf("%s assertion needs a replay stage", a.Type)
		}
	}

	switch a.Type {
	case AssertConfidence:
		return assertConfidence(res, a)
	case AssertConflict:
		return assertConflict(res, a)
	case AssertNoConflicts:
		return assertNoConflicts(res, a)
	case AssertAbsent:
		return assertAbsent(res, a)
	case AssertNearDuplicate:
		return assertNearDuplicate(res, a)
	case AssertReplayStatus:
		return assertReplayStatus(res.Replay, a)
	case AssertReplayCounts:
		return assertReplayCounts(res.Replay, a)
	case AssertAbortedAt:
		return assertAbortedAt(res.Replay, a)
	case AssertOutcome:
		return assertOutcome(res.Replay, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func findRecord(res *Result, name string) (triangulate.CanonicalRecord, bool) {
	for _, rec := range res.Records() {
		if rec.Name == name {
			return rec, true
		}
	}
	return triangulate.CanonicalRecord{}, false
}

func recordLines(res *Result) []string {
	var out []string
	for _, rec := range res.Records() {
		fields := make([]string, len(rec.Conflicts))
		for i, c := range rec.Conflicts {
			fields[i] = c.Field
		}
		out = append(out, fmt.Sprintf("%s %s origins=%v conflicts=%v",
			rec.Name, rec.Confidence, rec.Origins, fields))
	}
	return out
}

func missingRecord(res *Result, a Assertion) error {
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("record %q", a.Name),
		Actual:   "no such record",
		Context:  recordLines(res),
	}
}

func assertConfidence(res *Result, a Assertion) error {
	rec, ok := findRecord(res, a.Name)
	if !ok {
		return missingRecord(res, a)
	}
	if string(rec.Confidence) != a.Confidence {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s is %s", a.Name, a.Confidence),
			Actual:   fmt.Sprintf("%s is %s", a.Name, rec.Confidence),
			Context:  recordLines(res),
		}
	}
	return nil
}

func assertConflict(res *Result, a Assertion) error {
	rec, ok := findRecord(res, a.Name)
	if !ok {
		return missingRecord(res, a)
	}
	for _, c := range rec.Conflicts {
		if c.Field == a.Field {
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s disputes %s", a.Name, a.Field),
		Actual:   fmt.Sprintf("%d conflict(s), none on %s", len(rec.Conflicts), a.Field),
		Context:  recordLines(res),
	}
}

func assertNoConflicts(res *Result, a Assertion) error {
	rec, ok := findRecord(res, a.Name)
	if !ok {
		return missingRecord(res, a)
	}
	if rec.HasConflicts() {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s has no conflicts", a.Name),
			Actual:   fmt.Sprintf("%d conflict(s)", len(rec.Conflicts)),
			Context:  recordLines(res),
		}
	}
	return nil
}

func assertAbsent(res *Result, a Assertion) error {
	if _, ok := findRecord(res, a.Name); ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("no record %q", a.Name),
			Actual:   "record present",
			Context:  recordLines(res),
		}
	}
	return nil
}

func assertNearDuplicate(res *Result, a Assertion) error {
	var seen []string
	for _, nd := range res.NearDuplicates() {
		if (nd.NameA == a.Names[0] && nd.NameB == a.Names[1]) ||
			(nd.NameA == a.Names[1] && nd.NameB == a.Names[0]) {
			return nil
		}
		seen = append(seen, fmt.Sprintf("%s ~ %s (distance %d)", nd.NameA, nd.NameB, nd.Distance))
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s ~ %s withheld", a.Names[0], a.Names[1]),
		Actual:   fmt.Sprintf("%d near duplicate(s)", len(seen)),
		Context:  seen,
	}
}

func outcomeLines(rep *replay.Report) []string {
	out := make([]string, 0, len(rep.Outcomes)+len(rep.Failures))
	for _, o := range rep.Outcomes {
		out = append(out, fmt.Sprintf("line %d: %s", o.Line, o.State))
	}
	for _, f := range rep.Failures {
		out = append(out, fmt.Sprintf("line %d failed: %s", f.Line, f.Reason))
	}
	return out
}

func assertReplayStatus(rep *replay.Report, a Assertion) error {
	if string(rep.Status) != a.Status {
		return &AssertionError{
			Type:     a.Type,
			Expected: a.Status,
			Actual:   string(rep.Status),
			Context:  outcomeLines(rep),
		}
	}
	return nil
}

func assertReplayCounts(rep *replay.Report, a Assertion) error {
	want := fmt.Sprintf("attempted=%d succeeded=%d skipped=%d failures=%d",
		a.Attempted, a.Succeeded, a.Skipped, a.Failures)
	got := fmt.Sprintf("attempted=%d succeeded=%d skipped=%d failures=%d",
		rep.CommandsAttempted, rep.CommandsSucceeded, rep.CommandsSkipped, len(rep.Failures))
	if want != got {
		return &AssertionError{Type: a.Type, Expected: want, Actual: got, Context: outcomeLines(rep)}
	}
	return nil
}

func assertAbortedAt(rep *replay.Report, a Assertion) error {
	if rep.AbortedAt == nil {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("abort at line %d", a.Line),
			Actual:   "run did not abort",
			Context:  outcomeLines(rep),
		}
	}
	at := rep.AbortedAt
	if at.Line != a.Line || (a.InstancePath != "" && at.InstancePath != a.InstancePath) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("line %d at %q", a.Line, a.InstancePath),
			Actual:   fmt.Sprintf("line %d at %q", at.Line, at.InstancePath),
			Context:  outcomeLines(rep),
		}
	}
	return nil
}

func assertOutcome(rep *replay.Report, a Assertion) error {
	for _, o := range rep.Outcomes {
		if o.Line != a.Line {
			continue
		}
		if string(o.State) == a.State {
			return nil
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("line %d %s", a.Line, a.State),
			Actual:   fmt.Sprintf("line %d %s", o.Line, o.State),
			Context:  outcomeLines(rep),
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("line %d %s", a.Line, a.State),
		Actual:   "no command at that line",
		Context:  outcomeLines(rep),
	}
}
