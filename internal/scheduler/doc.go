// Package scheduler provides the durable job scheduler that drives deferred
// email sends and recurring invoice generation.
//
// # Overview
//
// Jobs are named, single-fire trigger points persisted in a job store. The
// job id is the owning entity's id, so adding a job for an id that already
// has one replaces it (upsert) and removal is deterministic. Recurring work
// is modelled as a one-shot job whose action computes and submits its own
// next trigger under the same id; the scheduler itself never re-arms.
//
// # Execution
//
// A single polling loop scans the store for due jobs and dispatches them to
// a bounded worker pool. A due row is consumed on submission. At most one
// execution per job id is in flight at a time: a firing that becomes due
// while the previous run is still executing is rejected, not queued.
//
// # Fire policy
//
// Lateness handling is fixed at construction: with a misfire grace, firings
// later than the grace are skipped and reported as missed; without one a job
// fires no matter how late. Because the store holds one row per id, firings
// that elapsed while the process was unable to run coalesce into a single
// late execution.
//
// # Observability
//
// Every lifecycle transition is dispatched through the Hooks observer. An
// event kind with no registered handler is logged and dropped; observers can
// never stop the loop.
//
// # Lifecycle
//
// The Service can be started/stopped at runtime. Actions are registered
// under stable kind tags before Start; jobs referencing an unregistered kind
// at fire time are consumed and reported through the errored hook.
package scheduler
