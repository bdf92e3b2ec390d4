package harness

import (
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/triangulate/internal/ir"
	"github.com/roach88/triangulate/internal/replay"
)

// Snapshot renders the scenario outcome as canonical JSON followed by a
// newline. Scratch paths are reduced to base names and command IDs are
// left out, so the bytes depend only on the scenario.
func Snapshot(name string, result *Result) ([]byte, error) {
	snap := map[string]any{"scenario_name": name}

	if result.Consolidated != nil {
		records := make([]any, 0, len(result.Records()))
		for _, rec := range result.Records() {
			records = append(records, rec.ToObject())
		}
		nearDups := make([]any, 0, len(result.NearDuplicates()))
		for _, nd := range result.NearDuplicates() {
			nearDups = append(nearDups, map[string]any{
				"a":        nd.A,
				"b":        nd.B,
				"distance": nd.Distance,
			})
		}
		snap["records"] = records
		snap["near_duplicates"] = nearDups
	}
	if result.Replay != nil {
		snap["replay"] = replaySnapshot(result.Replay)
	}

	data, err := ir.MarshalCanonical(snap)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func replaySnapshot(rep *replay.Report) map[string]any {
	outcomes := make([]any, len(rep.Outcomes))
	for i, o := range rep.Outcomes {
		outcomes[i] = map[string]any{
			"file":  filepath.Base(o.File),
			"line":  o.Line,
			"state": string(o.State),
		}
	}
	failures := make([]any, len(rep.Failures))
	for i, f := range rep.Failures {
		entry := map[string]any{
			"file":    filepath.Base(f.File),
			"line":    f.Line,
			"cascade": f.Cascade,
		}
		if f.InstancePath != "" {
			entry["instance_path"] = f.InstancePath
		}
		failures[i] = entry
	}

	snap := map[string]any{
		"kind":      rep.Kind,
		"status":    string(rep.Status),
		"attempted": rep.CommandsAttempted,
		"succeeded": rep.CommandsSucceeded,
		"skipped":   rep.CommandsSkipped,
		"outcomes":  outcomes,
		"failures":  failures,
	}
	if at := rep.AbortedAt; at != nil {
		snap["aborted_at"] = map[string]any{
			"file":          filepath.Base(at.File),
			"line":          at.Line,
			"instance_path": at.InstancePath,
		}
	}
	if v := rep.Validation; v != nil {
		snap["validation"] = map[string]any{"ok": v.OK}
	}
	return snap
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
