// Package domains merges discovered business domains into the domain
// registry.
//
// A discovery either names a new domain, appends repositories to an existing
// one, or is ambiguous. Ambiguity (a near-miss of an existing name, or an
// append to a domain that does not exist) is reported as a conflict and
// never guessed at.
package domains

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/triangulate/internal/identity"
	"github.com/roach88/triangulate/internal/ingest"
)

// ExistsMarker in a discovery's system type marks it as an append.
const ExistsMarker = "(exists)"

// Entry is one registered domain.
type Entry struct {
	Name         string   `json:"name"`
	SystemType   string   `json:"systemType"`
	Description  string   `json:"description"`
	Repositories []string `json:"repositories"`
}

// Registry stores domain entries. Put replaces any entry with the same name.
type Registry interface {
	List(ctx context.Context) ([]Entry, error)
	Put(ctx context.Context, e Entry) error
}

// Update records repositories appended to an existing domain.
type Update struct {
	Name       string   `json:"name"`
	AddedRepos []string `json:"addedRepos"`
}

// Conflict is a discovery that needs a human decision.
type Conflict struct {
	Name    string   `json:"name"`
	Sources []string `json:"sources"`
	Reason  string   `json:"reason"`
}

// Result is the outcome of a merge.
type Result struct {
	Added     []Entry    `json:"added"`
	Updated   []Update   `json:"updated"`
	Conflicts []Conflict `json:"conflicts"`
}

// Merger applies discoveries to a Registry.
type Merger struct {
	reg     Registry
	maxDist int
	logger  *slog.Logger
}

// NewMerger creates a Merger using identity.DefaultMaxEditDistance.
func NewMerger(reg Registry, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Merger{reg: reg, maxDist: identity.DefaultMaxEditDistance, logger: logger}
}

// Merge applies discoveries in order. With dryRun set the registry is read
// but never written.
func (m *Merger) Merge(ctx context.Context, discoveries []ingest.Domain, dryRun bool) (*Result, error) {
	existing, err := m.reg.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}

	byKey := make(map[string]*Entry, len(existing))
	var keys []string
	for i := range existing {
		key := identity.Normalize(existing[i].Name)
		byKey[key] = &existing[i]
		keys = append(keys, key)
	}

	res := &Result{Added: []Entry{}, Updated: []Update{}, Conflicts: []Conflict{}}
	dirty := map[string]bool{}

	for _, d := range discoveries {
		key := identity.Normalize(d.Name)
		src := d.Source.String()

		if d.Add || d.SystemType == ExistsMarker {
			target, ok := byKey[key]
			if !ok {
				res.Conflicts = append(res.Conflicts, Conflict{
					Name:    d.Name,
					Sources: []string{src},
					Reason:  fmt.Sprintf("ADD row references domain %q which does not exist in registry", d.Name),
				})
				continue
			}
			var added []string
			for _, r := range d.Repositories {
				if !slices.Contains(target.Repositories, r) {
					target.Repositories = append(target.Repositories, r)
					added = append(added, r)
				}
			}
			if len(added) > 0 {
				res.Updated = append(res.Updated, Update{Name: target.Name, AddedRepos: added})
				dirty[key] = true
			}
			continue
		}

		if _, ok := byKey[key]; ok {
			continue
		}

		if near, ok := m.nearMatch(key, keys); ok {
			res.Conflicts = append(res.Conflicts, Conflict{
				Name:    d.Name,
				Sources: []string{src},
				Reason: fmt.Sprintf("near-duplicate of existing domain %q (edit distance <= %d)",
					byKey[near].Name, m.maxDist),
			})
			continue
		}

		entry := Entry{
			Name:         d.Name,
			SystemType:   d.SystemType,
			Description:  d.Description,
			Repositories: slices.Clone(d.Repositories),
		}
		if entry.Repositories == nil {
			entry.Repositories = []string{}
		}
		byKey[key] = &entry
		keys = append(keys, key)
		res.Added = append(res.Added, entry)
		dirty[key] = true
	}

	for _, c := range res.Conflicts {
		m.logger.Warn("domain conflict", "name", c.Name, "reason", c.Reason)
	}
	if dryRun {
		return res, nil
	}

	for _, key := range keys {
		if !dirty[key] {
			continue
		}
		if err := m.reg.Put(ctx, *byKey[key]); err != nil {
			return res, fmt.Errorf("put domain %q: %w", byKey[key].Name, err)
		}
	}
	return res, nil
}

// nearMatch finds the first existing key, in sorted order, within edit
// distance of key.
func (m *Merger) nearMatch(key string, keys []string) (string, bool) {
	sorted := slices.Sorted(slices.Values(keys))
	rk := []rune(key)
	for _, k := range sorted {
		if k == key {
			continue
		}
		if _, ok := identity.BoundedDistance(rk, []rune(k), m.maxDist); ok {
			return k, true
		}
	}
	return "", false
}

// MemoryRegistry is a Registry held in memory.
type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryRegistry returns a registry seeded with entries.
func NewMemoryRegistry(entries ...Entry) *MemoryRegistry {
	r := &MemoryRegistry{entries: map[string]Entry{}}
	for _, e := range entries {
		r.entries[e.Name] = e
	}
	return r
}

// List returns entries sorted by name.
func (r *MemoryRegistry) List(_ context.Context) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		e.Repositories = slices.Clone(e.Repositories)
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// Put stores e, replacing any entry with the same name.
func (r *MemoryRegistry) Put(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Repositories = slices.Clone(e.Repositories)
	r.entries[e.Name] = e
	return nil
}
