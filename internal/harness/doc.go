// Package harness runs end-to-end pipeline scenarios for triangulate.
//
// A scenario writes a set of JSONL logs into a scratch directory, runs the
// consolidation and/or replay stages over them and checks the outcome with
// assertions. Results can also be compared against golden snapshots.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: corroboration
//	description: "Three producers agree on Checkout"
//	inputs:
//	  meta-a.jsonl: |
//	    {"name":"Checkout","prong":"a"}
//	consolidate:
//	  prefix: meta-
//	  apply: false
//	replay:
//	  kind: components
//	  store: memory
//	  poison:
//	    orders:checkout:usecase:placeorder: /components/1/type
//	assertions:
//	  - type: confidence
//	    name: Checkout
//	    confidence: HIGH
//
// Unknown fields are rejected so that typos fail loudly.
//
// # Assertion Types
//
//   - confidence: the record named Name has tier Confidence
//   - conflict: the record named Name disputes Field
//   - no_conflicts: the record named Name carries no conflicts
//   - absent: no record is named Name
//   - near_duplicate: Names were withheld as near duplicates
//   - replay_status: the replay run ended with Status
//   - replay_counts: attempted, succeeded, skipped and failure totals
//   - aborted_at: the run aborted at Line with InstancePath
//   - outcome: the command at Line ended in State
//
// # Deterministic Testing
//
// Replays run with a fixed run ID and testutil.DeterministicClock, and the
// snapshot drops scratch paths, so golden files are byte-stable.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/cascade_abort.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, e := range result.Errors {
//	    log.Println(e)
//	}
package harness
