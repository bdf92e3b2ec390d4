package triangulate

import (
	"cmp"
	"log/slog"
	"slices"

	"github.com/roach88/triangulate/internal/identity"
	"github.com/roach88/triangulate/internal/ingest"
	"github.com/roach88/triangulate/internal/ir"
)

// Options configures consolidation.
type Options struct {
	// KeyField is the identity field; the canonical name is written back
	// under it in each record's data.
	KeyField string
	// MaxEditDistance bounds near-duplicate detection. Zero means
	// identity.DefaultMaxEditDistance; negative disables it.
	MaxEditDistance int
}

// Group is every observation sharing one normalized identity, in
// (file, line) order.
type Group struct {
	Key          string
	Observations []ingest.Observation
}

// Origins returns the distinct origins of g in first-seen order.
func (g Group) Origins() []string {
	var out []string
	for _, o := range g.Observations {
		if !slices.Contains(out, o.Origin) {
			out = append(out, o.Origin)
		}
	}
	return out
}

// CanonicalRecord is the consolidated view of one identity.
type CanonicalRecord struct {
	// Name is the first-seen spelling of the identity.
	Name       string
	Key        string
	Confidence Confidence
	Origins    []string
	Data       ir.Object
	Conflicts  []Conflict
	// Sources lists where each contributing observation was read.
	Sources []ingest.SourceRef
}

// HasConflicts reports whether any field is disputed.
func (r CanonicalRecord) HasConflicts() bool {
	return len(r.Conflicts) > 0
}

// Result is the outcome of one consolidation.
type Result struct {
	Records        []CanonicalRecord
	NearDuplicates []identity.NearDuplicate
	// Dropped holds observations that never reached a group.
	Dropped []ingest.Malformed
	// Observations counts observations considered, including withheld ones.
	Observations int
}

// Counts returns record totals per tier and the number carrying conflicts.
func (r *Result) Counts() (high, medium, low, conflicted int) {
	for _, rec := range r.Records {
		switch rec.Confidence {
		case High:
			high++
		case Medium:
			medium++
		default:
			low++
		}
		if rec.HasConflicts() {
			conflicted++
		}
	}
	return high, medium, low, conflicted
}

// ReviewQueue lists the names of LOW records, which must be reviewed by a
// human before they are used.
func (r *Result) ReviewQueue() []string {
	var out []string
	for _, rec := range r.Records {
		if rec.Confidence == Low {
			out = append(out, rec.Name)
		}
	}
	return out
}

// NeedsAttention reports whether the result holds conflicts or near
// duplicates.
func (r *Result) NeedsAttention() bool {
	if len(r.NearDuplicates) > 0 {
		return true
	}
	for _, rec := range r.Records {
		if rec.HasConflicts() {
			return true
		}
	}
	return false
}

// Consolidate groups, scores and merges observations.
func Consolidate(obs []ingest.Observation, opts Options, logger *slog.Logger) *Result {
	if opts.KeyField == "" {
		opts.KeyField = "name"
	}
	maxDist := opts.MaxEditDistance
	if maxDist == 0 {
		maxDist = identity.DefaultMaxEditDistance
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	// Canonical order makes first-seen independent of read order.
	obs = slices.Clone(obs)
	slices.SortStableFunc(obs, func(a, b ingest.Observation) int {
		if a.Source.File != b.Source.File {
			return cmp.Compare(a.Source.File, b.Source.File)
		}
		return cmp.Compare(a.Source.Line, b.Source.Line)
	})

	res := &Result{Observations: len(obs)}
	groups, keys := groupObservations(obs, res, logger)

	res.NearDuplicates = identity.FindNearDuplicates(keys, maxDist)
	withheld := identity.Withheld(res.NearDuplicates)
	for _, nd := range res.NearDuplicates {
		logger.Warn("near-duplicate identities withheld",
			"a", nd.NameA, "b", nd.NameB, "distance", nd.Distance)
	}

	for _, g := range groups {
		if withheld[g.Key] {
			continue
		}
		res.Records = append(res.Records, buildRecord(g, opts.KeyField))
	}

	slices.SortFunc(res.Records, func(a, b CanonicalRecord) int {
		if c := cmp.Compare(a.Confidence.Rank(), b.Confidence.Rank()); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})

	high, medium, low, conflicted := res.Counts()
	logger.Debug("consolidated",
		"observations", res.Observations,
		"high", high, "medium", medium, "low", low,
		"conflicted", conflicted,
		"near_duplicates", len(res.NearDuplicates))
	return res
}

func groupObservations(obs []ingest.Observation, res *Result, logger *slog.Logger) ([]*Group, []identity.Key) {
	byKey := map[string]*Group{}
	var groups []*Group
	var keys []identity.Key

	for _, o := range obs {
		key := identity.Normalize(o.Key)
		if key == "" {
			res.Dropped = append(res.Dropped, ingest.Malformed{
				Source:     o.Source,
				Reason:     "identity normalizes to empty: " + o.Key,
				MissingKey: true,
			})
			logger.Warn("dropped observation without identity", "source", o.Source.String())
			continue
		}
		g, ok := byKey[key]
		if !ok {
			g = &Group{Key: key}
			byKey[key] = g
			groups = append(groups, g)
			keys = append(keys, identity.Key{Normalized: key, Display: o.Key})
		}
		g.Observations = append(g.Observations, o)
	}
	return groups, keys
}

func buildRecord(g *Group, keyField string) CanonicalRecord {
	views := make([]observationView, len(g.Observations))
	sources := make([]ingest.SourceRef, len(g.Observations))
	for i, o := range g.Observations {
		views[i] = observationView{origin: o.Origin, fields: o.Fields}
		sources[i] = o.Source
	}
	data, conflicts := mergeFields(views)

	name := g.Observations[0].Key
	data[keyField] = ir.String(name)

	origins := g.Origins()
	return CanonicalRecord{
		Name:       name,
		Key:        g.Key,
		Confidence: Score(len(origins)),
		Origins:    origins,
		Data:       data,
		Conflicts:  conflicts,
		Sources:    sources,
	}
}
