package store

import (
	"context"
	"fmt"

	"github.com/roach88/triangulate/internal/domains"
)

var _ domains.Registry = (*Store)(nil)

// List implements domains.Registry. Entries are ordered by name.
func (s *Store) List(ctx context.Context) ([]domains.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, system_type, description, repositories
		FROM registry_domains
		ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query domains: %w", err)
	}
	defer rows.Close()

	out := []domains.Entry{}
	for rows.Next() {
		var e domains.Entry
		var repos string
		if err := rows.Scan(&e.Name, &e.SystemType, &e.Description, &repos); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		if e.Repositories, err = unmarshalStrings(repos); err != nil {
			return nil, fmt.Errorf("domain %q: %w", e.Name, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domains: %w", err)
	}
	return out, nil
}

// Put implements domains.Registry, replacing any entry with the same name.
func (s *Store) Put(ctx context.Context, e domains.Entry) error {
	repos, err := marshalStrings(e.Repositories)
	if err != nil {
		return fmt.Errorf("put domain %q: %w", e.Name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO registry_domains (name, system_type, description, repositories)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			system_type = excluded.system_type,
			description = excluded.description,
			repositories = excluded.repositories
	`, e.Name, e.SystemType, e.Description, repos)
	if err != nil {
		return fmt.Errorf("put domain %q: %w", e.Name, err)
	}
	return nil
}
