package ingest

import "fmt"

// Malformed describes a line that was skipped. The rest of its file is
// still read.
type Malformed struct {
	Source SourceRef `json:"source"`
	Reason string    `json:"reason"`
	// Raw is the trimmed line as read.
	Raw string `json:"raw,omitempty"`
	// MissingKey is set when the line parsed but had no identity.
	MissingKey bool `json:"missingKey,omitempty"`
}

func (m Malformed) Error() string {
	return fmt.Sprintf("%s: %s", m.Source, m.Reason)
}

// MissingKeyError reports an observation without a usable identity field.
type MissingKeyError struct {
	Field string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("missing identity field %q", e.Field)
}
