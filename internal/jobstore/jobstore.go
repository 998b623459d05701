package jobstore

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps every persistence failure so callers can classify
// scheduling errors without knowing the backing driver.
var ErrUnavailable = errors.New("job store unavailable")

// Config configures the job store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Job is a persisted single-fire trigger. RunAt is epoch seconds, the
// canonical stored time representation.
//
// Invariant: at most one Job per ID exists at any time. Upsert replaces.
type Job struct {
	ID        string
	RunAt     int64
	Action    string // registered action kind, resolved at fire time
	Recurring bool
	CreatedAt int64
}

// Run records one execution of a job's action.
// Keep it compact and schema-stable.
type Run struct {
	JobID    string
	Action   string
	Started  time.Time
	Duration time.Duration
	Error    string
}

// Store is the durable keyed collection of pending triggers.
// Implementations must serialize mutations; the scheduler is the single
// logical owner but API callers upsert/delete concurrently with its loop.
type Store interface {
	// Upsert inserts or atomically replaces the job with j.ID.
	// It reports whether an existing job was replaced.
	Upsert(ctx context.Context, j Job) (replaced bool, err error)

	// Delete removes the job if present and reports whether it did.
	// Absent ids are not an error.
	Delete(ctx context.Context, id string) (bool, error)

	// Get returns the pending job for id, if any.
	Get(ctx context.Context, id string) (Job, bool, error)

	// DueBefore returns all jobs with RunAt <= t, oldest first.
	DueBefore(ctx context.Context, t time.Time) ([]Job, error)

	// AppendRun records an execution for monitoring.
	AppendRun(ctx context.Context, r Run) error

	// PruneRuns deletes run records started before the cutoff.
	PruneRuns(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}
