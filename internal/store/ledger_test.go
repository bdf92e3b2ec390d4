package store

import (
	"context"
	"testing"

	"github.com/roach88/triangulate/internal/replay"
	"github.com/roach88/triangulate/internal/testutil"
)

func TestWriteReport_RecordsRunOnce(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	report := &replay.Report{
		RunID:             "run-1",
		GeneratedAt:       "2024-01-01T00:00:00Z",
		Kind:              "components",
		Status:            replay.StatusComplete,
		CommandsAttempted: 2,
		CommandsSucceeded: 1,
		Failures:          []replay.Failure{{File: "a.jsonl", Line: 2, Reason: "bad"}},
	}
	for i := 0; i < 2; i++ {
		if err := s.WriteReport(ctx, report); err != nil {
			t.Fatalf("WriteReport() failed: %v", err)
		}
	}

	runs, err := s.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs() failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(Runs()) = %d, want 1", len(runs))
	}
	want := RunSummary{
		RunID: "run-1", Kind: "components", Status: "complete",
		GeneratedAt: "2024-01-01T00:00:00Z", Attempted: 2, Succeeded: 1, Failures: 1,
	}
	if runs[0] != want {
		t.Errorf("Runs()[0] = %+v, want %+v", runs[0], want)
	}

	full, err := s.RunReport(ctx, "run-1")
	if err != nil {
		t.Fatalf("RunReport() failed: %v", err)
	}
	if len(full.Failures) != 1 || full.Failures[0].Reason != "bad" {
		t.Errorf("RunReport().Failures = %+v", full.Failures)
	}
}

func TestRuns_OrderedByRunID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	r := replay.New(s,
		replay.WithReportSink(s),
		replay.WithRunIDGenerator(testutil.NewSequenceGenerator("run-a", "run-b")),
		replay.WithClock(testutil.NewDeterministicClock().Now),
	)

	cmd := createTestComponent(t, "A", 1)
	plan := &replay.Plan{Kind: "components", Steps: []replay.Step{{Source: cmd.Source, Command: &cmd}}}
	for i := 0; i < 2; i++ {
		if _, err := r.Run(ctx, plan); err != nil {
			t.Fatalf("Run() failed: %v", err)
		}
	}

	runs, err := s.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs() failed: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-a" || runs[1].RunID != "run-b" {
		t.Errorf("Runs() = %+v", runs)
	}
}

func TestRunReport_Missing(t *testing.T) {
	s := createTestStore(t)
	if _, err := s.RunReport(context.Background(), "nope"); err == nil {
		t.Error("expected error for missing run")
	}
}
