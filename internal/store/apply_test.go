package store

import (
	"context"
	"strings"
	"testing"

	"github.com/roach88/triangulate/internal/ingest"
	"github.com/roach88/triangulate/internal/ir"
	"github.com/roach88/triangulate/internal/replay"
	"github.com/roach88/triangulate/internal/schema"
)

func TestApply_WritesComponent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	cmd := createTestComponent(t, "PlaceOrder", 1)

	if err := s.Apply(ctx, cmd); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	row, ok, err := s.Get(ctx, schema.Components, cmd.Key)
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if row.CommandID != cmd.ID {
		t.Errorf("CommandID = %q, want %q", row.CommandID, cmd.ID)
	}
	if !row.Validated {
		t.Error("row written by Apply should be validated")
	}
	if got := ir.StringOf(row.Payload["httpMethod"]); got != "POST" {
		t.Errorf("httpMethod = %q, want POST", got)
	}
}

func TestApply_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	cmd := createTestComponent(t, "PlaceOrder", 1)

	for i := 0; i < 3; i++ {
		if err := s.Apply(ctx, cmd); err != nil {
			t.Fatalf("Apply() iteration %d failed: %v", i, err)
		}
	}

	n, err := s.Count(ctx, schema.Components)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestApply_RejectsSchemaViolation(t *testing.T) {
	s := createTestStore(t)
	cmd := createTestComponent(t, "PlaceOrder", 1)
	cmd.Payload["httpMethod"] = ir.String("FETCH")

	err := s.Apply(context.Background(), cmd)
	if !replay.IsRejected(err) {
		t.Fatalf("Apply() error = %v, want rejection", err)
	}
	se := replay.AsStoreError(err)
	if !strings.Contains(se.InstancePath, "httpMethod") {
		t.Errorf("InstancePath = %q, want it to name httpMethod", se.InstancePath)
	}

	n, _ := s.Count(context.Background(), schema.Components)
	if n != 0 {
		t.Errorf("rejected command was written")
	}
}

func TestApply_RejectsUnsupportedKind(t *testing.T) {
	s := createTestStore(t)
	err := s.Apply(context.Background(), replay.Command{Kind: ingest.KindObservation, Key: "x"})
	if !replay.IsRejected(err) {
		t.Fatalf("Apply() error = %v, want rejection", err)
	}
}

func TestApply_RejectsDanglingLink(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := createTestComponent(t, "PlaceOrder", 1)
	if err := s.Apply(ctx, a); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	err := s.Apply(ctx, createTestLink(t, a.Key, "Missing", 1))
	if !replay.IsRejected(err) {
		t.Fatalf("Apply() error = %v, want rejection", err)
	}
	if se := replay.AsStoreError(err); !strings.HasSuffix(se.InstancePath, "/to") {
		t.Errorf("InstancePath = %q, want suffix /to", se.InstancePath)
	}

	b := createTestComponent(t, "Missing", 2)
	if err := s.Apply(ctx, b); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if err := s.Apply(ctx, createTestLink(t, a.Key, "Missing", 1)); err != nil {
		t.Errorf("link between existing components failed: %v", err)
	}
}

// corrupt inserts a row that bypasses Apply, as an older writer or a manual
// edit would.
func corrupt(t *testing.T, s *Store, id, payload string) {
	t.Helper()
	_, err := s.db.Exec(`
		INSERT INTO entities (entity, id, command_id, payload, seq, validated)
		VALUES ('components', ?, 'manual', ?, 1000, 0)
	`, id, payload)
	if err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}
}

func TestApply_PoisonedStoreFailsEveryCommand(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	corrupt(t, s, "orders:checkout:api:broken",
		`{"domain":"orders","filePath":"x.ts","httpMethod":"FETCH","lineNumber":1,"module":"checkout","name":"Broken","repository":"shop","type":"API"}`)

	for i, name := range []string{"A", "B"} {
		err := s.Apply(ctx, createTestComponent(t, name, i+1))
		if !replay.IsPoisoned(err) {
			t.Fatalf("Apply(%s) error = %v, want poisoned", name, err)
		}
		se := replay.AsStoreError(err)
		if !strings.HasPrefix(se.InstancePath, "/components/orders:checkout:api:broken") {
			t.Errorf("InstancePath = %q", se.InstancePath)
		}
	}

	if err := s.Validate(ctx); !replay.IsPoisoned(err) {
		t.Errorf("Validate() = %v, want poisoned", err)
	}
}

func TestApply_ValidPendingRowsAreAccepted(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	corrupt(t, s, "orders:checkout:api:imported",
		`{"domain":"orders","filePath":"x.ts","lineNumber":1,"module":"checkout","name":"Imported","repository":"shop","type":"API"}`)

	if err := s.Apply(ctx, createTestComponent(t, "A", 1)); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	row, _, err := s.Get(ctx, schema.Components, "orders:checkout:api:imported")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !row.Validated {
		t.Error("pending row should be marked validated after a clean check")
	}
}

func TestValidate_CleanStore(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := createTestComponent(t, "A", 1)
	b := createTestComponent(t, "B", 2)
	for _, cmd := range []replay.Command{a, b, createTestLink(t, a.Key, "B", 1)} {
		if err := s.Apply(ctx, cmd); err != nil {
			t.Fatalf("Apply() failed: %v", err)
		}
	}

	if err := s.Validate(ctx); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestValidate_DanglingReference(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := createTestComponent(t, "A", 1)
	b := createTestComponent(t, "B", 2)
	for _, cmd := range []replay.Command{a, b, createTestLink(t, a.Key, "B", 1)} {
		if err := s.Apply(ctx, cmd); err != nil {
			t.Fatalf("Apply() failed: %v", err)
		}
	}
	if _, err := s.db.Exec(`DELETE FROM entities WHERE entity = 'components' AND id = ?`, b.Key); err != nil {
		t.Fatalf("delete: %v", err)
	}

	err := s.Validate(ctx)
	if !replay.IsPoisoned(err) {
		t.Fatalf("Validate() = %v, want poisoned", err)
	}
	if se := replay.AsStoreError(err); !strings.HasSuffix(se.InstancePath, "/to") {
		t.Errorf("InstancePath = %q, want suffix /to", se.InstancePath)
	}
}

func TestReplay_CascadeAgainstSQLite(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	c1 := createTestComponent(t, "c1", 1)
	c2 := createTestComponent(t, "c2", 2)
	c3 := createTestComponent(t, "c3", 3)
	c4 := createTestComponent(t, "c4", 4)
	c5 := createTestComponent(t, "c5", 5)

	plan := &replay.Plan{Kind: "components"}
	for _, c := range []replay.Command{c1, c2, c3, c4, c5} {
		plan.Steps = append(plan.Steps, replay.Step{Source: c.Source, Command: &c})
	}

	// c3 lands, then something outside Apply corrupts the graph before c4.
	poisoner := storeHook{Store: s, after: func(cmd replay.Command) {
		if cmd.ID == c3.ID {
			corrupt(t, s, "orders:checkout:api:ghost", `{"type":"Ghost"}`)
		}
	}}

	report, err := replay.New(poisoner, replay.WithReportSink(s)).Run(ctx, plan)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if report.CommandsAttempted != 4 || report.CommandsSucceeded != 3 || report.CommandsSkipped != 1 {
		t.Errorf("attempted/succeeded/skipped = %d/%d/%d, want 4/3/1",
			report.CommandsAttempted, report.CommandsSucceeded, report.CommandsSkipped)
	}
	if report.AbortedAt == nil || report.AbortedAt.Line != 4 {
		t.Fatalf("AbortedAt = %+v, want line 4", report.AbortedAt)
	}

	runs, err := s.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs() failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != "aborted" {
		t.Errorf("Runs() = %+v", runs)
	}
}

type storeHook struct {
	*Store
	after func(replay.Command)
}

func (h storeHook) Apply(ctx context.Context, cmd replay.Command) error {
	err := h.Store.Apply(ctx, cmd)
	h.after(cmd)
	return err
}
