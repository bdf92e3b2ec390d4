// Package triangulate consolidates observations from independent producers
// into canonical records.
//
// Observations are grouped by normalized identity. Each group is scored by
// the number of distinct origins that corroborate it and its fields are
// merged first-seen-wins. Genuine disagreements are recorded as conflicts,
// never resolved. Identities that are near misses of one another are
// withheld entirely until a human decides whether they are the same entity.
//
// Everything here is a pure function of the Batch: the same logs always
// produce the same records in the same order, whatever order the files were
// read in.
package triangulate
