// Package billing holds the entity services that sit between callers and
// the scheduling engine: email and invoice CRUD with their schedule hooks,
// the per-entity scheduling coordinator, the invoice recurrence engine and
// the outbound mailer.
//
// The invariant the package enforces is one active job per entity id: the
// job id is the entity id, scheduling always replaces, and unscheduling is
// idempotent.
package billing
