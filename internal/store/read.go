package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/triangulate/internal/ir"
	"github.com/roach88/triangulate/internal/schema"
)

// Row is one stored graph entity.
type Row struct {
	Entity    schema.Entity
	ID        string
	CommandID string
	// Payload is nil when the stored text is not a JSON object.
	Payload   ir.Object
	Seq       int64
	Validated bool
}

// Entities returns stored rows of one entity, or of all entities when
// entity is empty. Results are ordered by seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if no rows exist.
func (s *Store) Entities(ctx context.Context, entity schema.Entity) ([]Row, error) {
	query := `
		SELECT entity, id, command_id, payload, seq, validated
		FROM entities`
	var args []any
	if entity != "" {
		query += ` WHERE entity = ?`
		args = append(args, string(entity))
	}
	query += ` ORDER BY seq ASC, entity ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

// Get returns one row. The boolean is false when no such row exists.
func (s *Store) Get(ctx context.Context, entity schema.Entity, id string) (Row, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entity, id, command_id, payload, seq, validated
		FROM entities
		WHERE entity = ? AND id = ?
	`, string(entity), id)
	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, err
	}
	return r, true, nil
}

// Count returns the number of rows of entity.
func (s *Store) Count(ctx context.Context, entity schema.Entity) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE entity = ?`, string(entity)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", entity, err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(sc scanner) (Row, error) {
	var (
		r         Row
		entity    string
		payload   string
		validated int
	)
	if err := sc.Scan(&entity, &r.ID, &r.CommandID, &payload, &r.Seq, &validated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Row{}, err
		}
		return Row{}, fmt.Errorf("scan entity: %w", err)
	}
	r.Entity = schema.Entity(entity)
	r.Validated = validated != 0
	if obj, err := unmarshalPayload(payload); err == nil {
		r.Payload = obj
	}
	return r, nil
}
