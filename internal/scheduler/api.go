package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"schedbill/internal/jobstore"
	logx "schedbill/pkg/logx"
)

// ErrInvalidJobID rejects blank job ids before they reach the store.
var ErrInvalidJobID = errors.New("invalid job id")

// AddOrReplace upserts the job for jobID: if a job with the same id exists
// it is atomically replaced and its old trigger never fires. actionKind must
// name a registered action. Persistence failures wrap jobstore.ErrUnavailable.
func (s *Service) AddOrReplace(ctx context.Context, jobID string, runAt time.Time, actionKind string, recurring bool) error {
	if strings.TrimSpace(jobID) == "" {
		return ErrInvalidJobID
	}
	j := jobstore.Job{
		ID:        jobID,
		RunAt:     runAt.Unix(),
		Action:    actionKind,
		Recurring: recurring,
	}
	replaced, err := s.store.Upsert(ctx, j)
	if err != nil {
		return err
	}
	if replaced {
		s.log.Debug("job replaced", logx.String("job", jobID), logx.String("action", actionKind), logx.Time("run_at", runAt))
		s.emit(Event{Kind: EventJobModified, JobID: jobID, RunAt: runAt})
	} else {
		s.log.Debug("job added", logx.String("job", jobID), logx.String("action", actionKind), logx.Time("run_at", runAt))
		s.emit(Event{Kind: EventJobAdded, JobID: jobID, RunAt: runAt})
	}
	return nil
}

// Remove deletes the pending job for jobID if one exists. It reports whether
// something was removed; absent ids are not an error. A job already
// dispatched to a worker cannot be recalled.
func (s *Service) Remove(ctx context.Context, jobID string) (bool, error) {
	if strings.TrimSpace(jobID) == "" {
		return false, ErrInvalidJobID
	}
	removed, err := s.store.Delete(ctx, jobID)
	if err != nil {
		return false, err
	}
	if removed {
		s.log.Debug("job removed", logx.String("job", jobID))
		s.emit(Event{Kind: EventJobRemoved, JobID: jobID})
	}
	return removed, nil
}

// Get returns the pending job for jobID, if any. Used by monitoring and tests.
func (s *Service) Get(ctx context.Context, jobID string) (jobstore.Job, bool, error) {
	return s.store.Get(ctx, jobID)
}
