// Package identity normalizes entity names and finds near-miss names that
// must not be merged automatically.
package identity

import (
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DefaultMaxEditDistance is the largest edit distance reported as a near
// duplicate.
const DefaultMaxEditDistance = 2

// Normalize returns the identity key for a raw name: NFKC, full case
// folding, punctuation replaced by spaces, whitespace collapsed and trimmed.
// Names that normalize equal denote the same entity.
func Normalize(raw string) string {
	folded := cases.Fold().String(norm.NFKC.String(raw))

	var b strings.Builder
	b.Grow(len(folded))
	pendingSpace := false
	for _, r := range folded {
		if unicode.IsPunct(r) || unicode.IsSpace(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Key pairs a normalized identity with the name shown to humans.
type Key struct {
	Normalized string
	Display    string
}

// NearDuplicate names two distinct identities close enough that they may
// be the same entity. A sorts before B.
type NearDuplicate struct {
	A        string `json:"a"`
	B        string `json:"b"`
	NameA    string `json:"nameA"`
	NameB    string `json:"nameB"`
	Distance int    `json:"distance"`
}

// FindNearDuplicates compares every pair of distinct normalized keys and
// returns the pairs within maxDist edits, sorted by (A, B). Duplicate
// entries in keys are ignored; the first display name wins.
func FindNearDuplicates(keys []Key, maxDist int) []NearDuplicate {
	if maxDist <= 0 {
		return nil
	}

	display := make(map[string]string, len(keys))
	uniq := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, seen := display[k.Normalized]; seen {
			continue
		}
		display[k.Normalized] = k.Display
		uniq = append(uniq, k.Normalized)
	}
	slices.Sort(uniq)

	runes := make([][]rune, len(uniq))
	for i, k := range uniq {
		runes[i] = []rune(k)
	}

	var out []NearDuplicate
	for i := 0; i < len(uniq); i++ {
		for j := i + 1; j < len(uniq); j++ {
			d, ok := BoundedDistance(runes[i], runes[j], maxDist)
			if !ok {
				continue
			}
			out = append(out, NearDuplicate{
				A:        uniq[i],
				B:        uniq[j],
				NameA:    display[uniq[i]],
				NameB:    display[uniq[j]],
				Distance: d,
			})
		}
	}
	return out
}

// Withheld returns the set of keys named by any finding.
func Withheld(findings []NearDuplicate) map[string]bool {
	out := make(map[string]bool, 2*len(findings))
	for _, f := range findings {
		out[f.A] = true
		out[f.B] = true
	}
	return out
}
