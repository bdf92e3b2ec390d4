package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/triangulate/internal/replay"
)

var (
	_ replay.Store      = (*Store)(nil)
	_ replay.Validator  = (*Store)(nil)
	_ replay.ReportSink = (*Store)(nil)
)

// RunSummary is one row of the run ledger.
type RunSummary struct {
	RunID       string `json:"runId"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	GeneratedAt string `json:"generatedAt"`
	DryRun      bool   `json:"dryRun"`
	Attempted   int    `json:"attempted"`
	Succeeded   int    `json:"succeeded"`
	Skipped     int    `json:"skipped"`
	Failures    int    `json:"failures"`
}

// WriteReport implements replay.ReportSink by recording the run in the
// ledger. A run ID is recorded once; writing it again is a no-op.
func (s *Store) WriteReport(ctx context.Context, r *replay.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	dryRun := 0
	if r.DryRun {
		dryRun = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs
		(run_id, kind, status, generated_at, dry_run, attempted, succeeded, skipped, failures, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`,
		r.RunID,
		r.Kind,
		string(r.Status),
		r.GeneratedAt,
		dryRun,
		r.CommandsAttempted,
		r.CommandsSucceeded,
		r.CommandsSkipped,
		len(r.Failures),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.RunID, err)
	}
	return nil
}

// Runs returns the ledger ordered by run ID. Run IDs are UUIDv7, so this is
// creation order.
func (s *Store) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, kind, status, generated_at, dry_run, attempted, succeeded, skipped, failures
		FROM runs
		ORDER BY run_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	out := []RunSummary{}
	for rows.Next() {
		var r RunSummary
		var dryRun int
		if err := rows.Scan(&r.RunID, &r.Kind, &r.Status, &r.GeneratedAt, &dryRun,
			&r.Attempted, &r.Succeeded, &r.Skipped, &r.Failures); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.DryRun = dryRun != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// RunReport returns the full stored report of one run.
func (s *Store) RunReport(ctx context.Context, runID string) (*replay.Report, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM runs WHERE run_id = ?`, runID).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}
	var r replay.Report
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &r, nil
}
