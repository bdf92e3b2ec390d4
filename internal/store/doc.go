// Package store provides the SQLite-backed target graph.
//
// The store implements replay.Store, replay.Validator, replay.ReportSink and
// domains.Registry over one database:
//   - entities: components, links, enrichments and graph domains, one row
//     per identity
//   - registry_domains: the domain registry
//   - runs: one row per replay run, holding the full report
//
// # Failure classes
//
// Apply distinguishes a bad command from a bad store. A command that fails
// the graph schema or references a missing component is rejected and
// nothing is written. Before each write the store re-checks every row not
// yet validated; if one fails, the store itself is poisoned and every later
// Apply fails the same way until the row is repaired.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Payloads are stored as RFC 8785 canonical JSON, so reads are byte-stable.
package store
