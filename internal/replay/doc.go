// Package replay applies staged commands to a target store one at a time
// and stops as soon as the store reports that its own state is corrupt.
//
// Commands run strictly in (file, line) order with one store call in flight.
// A store failure is either a rejection of that one command, which is
// recorded and skipped, or a poisoning of the store, after which every
// remaining command would fail for the same reason. The first poisoning
// aborts the run: later commands are marked skipped-after-abort and the
// partial report is written.
//
// The distinction comes only from the store's structured error (StoreError),
// never from exit status. Idempotence is the store's job: applying the same
// command twice must not duplicate its effect.
package replay
