package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/triangulate/internal/ir"
	"github.com/roach88/triangulate/internal/replay"
	"github.com/roach88/triangulate/internal/schema"
)

// Apply implements replay.Store.
//
// The command is checked against the graph schema and its references before
// anything is written; a failure there is a rejection. Inside the write
// transaction every unvalidated row is checked first; a failure there means
// the store is poisoned. The write itself upserts by (entity, key), so
// re-applying a command is a no-op apart from refreshing its payload.
func (s *Store) Apply(ctx context.Context, cmd replay.Command) error {
	entity, err := schema.EntityFor(cmd.Kind)
	if err != nil {
		return replay.NewRejected("unsupported command: %s", cmd.Kind)
	}
	if err := s.validator.Validate(entity, cmd.Key, cmd.Payload); err != nil {
		return rejection(err)
	}

	payload, err := marshalPayload(cmd.Payload)
	if err != nil {
		return replay.NewRejected("%v", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := s.checkPending(ctx, tx); err != nil {
		return err
	}
	if err := checkReferences(ctx, tx, cmd); err != nil {
		return err
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM entities`).Scan(&seq); err != nil {
		return fmt.Errorf("apply: next seq: %w", err)
	}

	// The original seq is kept on update so full-state reads stay in first
	// write order.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities (entity, id, command_id, payload, seq, validated)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(entity, id) DO UPDATE SET
			command_id = excluded.command_id,
			payload = excluded.payload,
			validated = 1
	`, string(entity), cmd.Key, cmd.ID, payload, seq)
	if err != nil {
		return fmt.Errorf("apply: write %s %s: %w", entity, cmd.Key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply: commit: %w", err)
	}
	return nil
}

// Validate implements replay.Validator. It checks every stored row against
// the schema and every link against the components it names.
func (s *Store) Validate(ctx context.Context) error {
	rows, err := s.Entities(ctx, "")
	if err != nil {
		return err
	}

	components := make(map[string]bool)
	for _, r := range rows {
		if r.Entity == schema.Components {
			components[r.ID] = true
		}
	}

	for _, r := range rows {
		if r.Payload == nil {
			return replay.NewPoisoned(schema.Pointer(r.Entity, r.ID), "stored payload is not a JSON object")
		}
		if err := s.validator.Validate(r.Entity, r.ID, r.Payload); err != nil {
			return poisoning(err)
		}
		for _, ref := range references(r.Entity, r.Payload) {
			if !components[strings.ToLower(ref.id)] {
				return replay.NewPoisoned(schema.Pointer(r.Entity, r.ID, ref.field),
					"references missing component %q", ref.id)
			}
		}
	}
	return nil
}

// checkPending validates rows that were written outside Apply. Rows that
// pass are marked validated; the first that fails poisons the store.
func (s *Store) checkPending(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT entity, id, payload FROM entities
		WHERE validated = 0
		ORDER BY seq ASC, entity ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return fmt.Errorf("apply: query pending rows: %w", err)
	}

	type pending struct {
		entity, id, payload string
	}
	var todo []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.entity, &p.id, &p.payload); err != nil {
			rows.Close()
			return fmt.Errorf("apply: scan pending row: %w", err)
		}
		todo = append(todo, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("apply: iterate pending rows: %w", err)
	}
	rows.Close()

	for _, p := range todo {
		entity := schema.Entity(p.entity)
		obj, err := unmarshalPayload(p.payload)
		if err != nil {
			return replay.NewPoisoned(schema.Pointer(entity, p.id), "stored payload is not a JSON object")
		}
		if err := s.validator.Validate(entity, p.id, obj); err != nil {
			return poisoning(err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE entities SET validated = 1 WHERE entity = ? AND id = ?`, p.entity, p.id); err != nil {
			return fmt.Errorf("apply: mark validated: %w", err)
		}
	}
	return nil
}

type reference struct {
	field string
	id    string
}

// references lists the component IDs an entity payload points at.
func references(entity schema.Entity, p ir.Object) []reference {
	var fields []string
	switch entity {
	case schema.Links:
		fields = []string{"from", "to"}
	case schema.HTTPLinks:
		fields = []string{"to"}
	case schema.ExternalLinks:
		fields = []string{"from"}
	case schema.Enrichments:
		fields = []string{"id"}
	}
	var out []reference
	for _, f := range fields {
		if id := ir.StringOf(p[f]); id != "" {
			out = append(out, reference{field: f, id: id})
		}
	}
	return out
}

func checkReferences(ctx context.Context, tx *sql.Tx, cmd replay.Command) error {
	entity, _ := schema.EntityFor(cmd.Kind)
	for _, ref := range references(entity, cmd.Payload) {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM entities WHERE entity = ? AND id = ?`,
			string(schema.Components), strings.ToLower(ref.id),
		).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			rej := replay.NewRejected("%s references missing component %q", cmd.Kind, ref.id)
			rej.InstancePath = schema.Pointer(entity, cmd.Key, ref.field)
			return rej
		}
		if err != nil {
			return fmt.Errorf("apply: check %s reference: %w", ref.field, err)
		}
	}
	return nil
}

func rejection(err error) *replay.StoreError {
	se := &replay.StoreError{Kind: replay.Rejected, Message: err.Error(), Err: err}
	if v, ok := schema.First(err); ok {
		se.Message = v.Message
		se.InstancePath = v.Path
	}
	return se
}

func poisoning(err error) *replay.StoreError {
	se := rejection(err)
	se.Kind = replay.Poisoned
	se.Message = "persisted state failed schema validation: " + se.Message
	return se
}
