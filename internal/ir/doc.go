// Package ir provides the typed value layer shared by every stage of the
// consolidation pipeline.
//
// ir imports nothing internal. Observations, canonical records, rule shapes
// and staged command payloads all carry their open-ended fields as ir.Object,
// so downstream packages never re-validate JSON shape.
//
// Key constraints:
//   - Numbers are Int when integral and within int64, otherwise Number
//     holding RFC 8785 number text
//   - Canonical JSON (RFC 8785) is the only serialization used where bytes
//     must be reproducible
//   - Content-addressed IDs use SHA-256 with domain separation
package ir
