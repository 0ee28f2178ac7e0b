// Package refresh keeps a cache fresh with a single background worker.
//
// A Scheduler runs a pass immediately on Start and then once per interval.
// Each pass snapshots the resident keys, fetches each one and writes the
// result back. Failures are isolated per key and handed to a Reporter.
// Stop is one-way: a stopped Scheduler cannot be started again.
package refresh
