package triangulate

import (
	"slices"
	"strings"

	"github.com/roach88/triangulate/internal/ir"
)

// Conflict records origins that disagree on one field. Values always holds
// the first-seen origin's value plus each later disagreeing origin's value.
type Conflict struct {
	Field  string
	Values map[string]ir.Value
}

// Contradicts reports whether two values for the same field genuinely
// disagree. Values of different kinds always do. Arrays are compared as
// multisets at every depth, including inside objects, so ordering alone
// never conflicts.
func Contradicts(a, b ir.Value) bool {
	if ir.Kind(a) != ir.Kind(b) {
		return true
	}

	switch av := a.(type) {
	case ir.Null:
		return false
	case ir.String, ir.Int, ir.Number, ir.Bool:
		return a != b
	case ir.Array, ir.Object:
		return unordered(av) != unordered(b)
	default:
		return true
	}
}

// unordered encodes v as canonical JSON with every array's elements sorted
// by their own encoding.
func unordered(v ir.Value) string {
	switch val := v.(type) {
	case ir.Array:
		elems := make([]string, len(val))
		for i, e := range val {
			elems[i] = unordered(e)
		}
		slices.Sort(elems)
		return "[" + strings.Join(elems, ",") + "]"
	case ir.Object:
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				b.WriteByte(',')
			}
			b.Write(canonical(ir.String(k)))
			b.WriteByte(':')
			b.WriteString(unordered(val[k]))
		}
		b.WriteByte('}')
		return b.String()
	default:
		return string(canonical(v))
	}
}

// canonical encodes values decoded by ir, which cannot fail.
func canonical(v ir.Value) []byte {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		panic(err)
	}
	return b
}

// fieldState tracks one field while a group is merged.
type fieldState struct {
	first       ir.Value
	firstOrigin string
	conflict    *Conflict
}

// mergeFields merges observation fields first-seen-wins and collects
// conflicts. A disagreement is only a conflict when it comes from an origin
// other than the first-seen one; each origin contributes at most one value
// to a conflict.
func mergeFields(obs []observationView) (ir.Object, []Conflict) {
	data := ir.Object{}
	states := map[string]*fieldState{}
	var order []string

	for _, o := range obs {
		for _, field := range o.fields.SortedKeys() {
			v := o.fields[field]
			st, seen := states[field]
			if !seen {
				states[field] = &fieldState{first: v, firstOrigin: o.origin}
				data[field] = v
				order = append(order, field)
				continue
			}
			if o.origin == st.firstOrigin || !Contradicts(st.first, v) {
				continue
			}
			if st.conflict == nil {
				st.conflict = &Conflict{
					Field:  field,
					Values: map[string]ir.Value{st.firstOrigin: st.first},
				}
			}
			if _, recorded := st.conflict.Values[o.origin]; !recorded {
				st.conflict.Values[o.origin] = v
			}
		}
	}

	var conflicts []Conflict
	for _, field := range order {
		if c := states[field].conflict; c != nil {
			conflicts = append(conflicts, *c)
		}
	}
	slices.SortFunc(conflicts, func(a, b Conflict) int {
		return strings.Compare(a.Field, b.Field)
	})
	return data, conflicts
}

type observationView struct {
	origin string
	fields ir.Object
}
