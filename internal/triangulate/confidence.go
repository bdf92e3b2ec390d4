package triangulate

import "fmt"

// Confidence is the corroboration tier of a canonical record.
type Confidence string

const (
	High   Confidence = "HIGH"
	Medium Confidence = "MEDIUM"
	Low    Confidence = "LOW"
)

// Score maps a distinct-origin count to a tier. Only the count matters:
// repeated observations from one origin never raise it.
func Score(distinctOrigins int) Confidence {
	switch {
	case distinctOrigins >= 3:
		return High
	case distinctOrigins == 2:
		return Medium
	default:
		return Low
	}
}

// Rank orders tiers HIGH, MEDIUM, LOW.
func (c Confidence) Rank() int {
	switch c {
	case High:
		return 0
	case Medium:
		return 1
	default:
		return 2
	}
}

// AutoAccept reports whether records of this tier may be applied without
// review.
func (c Confidence) AutoAccept() bool {
	return c == High || c == Medium
}

// ParseConfidence reads a tier name.
func ParseConfidence(s string) (Confidence, error) {
	switch Confidence(s) {
	case High, Medium, Low:
		return Confidence(s), nil
	default:
		return "", fmt.Errorf("unknown confidence %q", s)
	}
}
