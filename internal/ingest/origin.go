package ingest

import (
	"path/filepath"
	"strings"
)

// DefaultOrigin is assigned when neither the record nor its file name
// names a producer.
const DefaultOrigin = "deterministic"

// InferOrigin guesses the producer of a log from its file name.
//
// With fromStem unset the name is searched for the known producer names
// "semantic" and "agentic". With fromStem set the origin is the file stem
// with prefix removed, so meta-p1.jsonl yields "p1".
func InferOrigin(path, prefix string, fromStem bool) string {
	base := filepath.Base(path)
	if fromStem {
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		stem = strings.TrimPrefix(stem, prefix)
		if stem != "" {
			return stem
		}
		return DefaultOrigin
	}

	lower := strings.ToLower(base)
	switch {
	case strings.Contains(lower, "semantic"):
		return "semantic"
	case strings.Contains(lower, "agentic"):
		return "agentic"
	default:
		return DefaultOrigin
	}
}
