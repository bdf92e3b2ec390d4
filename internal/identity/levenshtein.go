package identity

// Distance returns the Levenshtein distance between a and b, counted in runes.
func Distance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	d, _ := BoundedDistance(ra, rb, max(len(ra), len(rb)))
	return d
}

// BoundedDistance computes the Levenshtein distance between a and b and
// reports whether it is at most limit. It stops early once every cell of a
// row exceeds limit; the returned distance is only exact when ok is true.
func BoundedDistance(a, b []rune, limit int) (int, bool) {
	if diff := len(a) - len(b); diff > limit || -diff > limit {
		return limit + 1, false
	}
	if len(a) < len(b) {
		a, b = b, a
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			rowMin = min(rowMin, curr[j])
		}
		if rowMin > limit {
			return limit + 1, false
		}
		prev, curr = curr, prev
	}

	d := prev[len(b)]
	return d, d <= limit
}
