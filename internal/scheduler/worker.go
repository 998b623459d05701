package scheduler

import (
	"context"
	"fmt"
	"time"

	"schedbill/internal/jobstore"
	logx "schedbill/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task, idx int) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.execOne(ctx, t)
		}
	}
}

// execOne runs a single firing on a worker slot. Action errors are isolated
// to the job and surfaced only through the errored hook; they never stop the
// loop or other jobs.
func (s *Service) execOne(ctx context.Context, t task) {
	start := time.Now()
	runAt := time.Unix(t.job.RunAt, 0)

	defer s.release(t.job.ID)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return t.run(ctx, t.job.ID)
	}()

	dur := time.Since(start)
	if err != nil {
		s.log.Warn("job failed", logx.String("job", t.job.ID), logx.String("action", t.job.Action), logx.Err(err), logx.Duration("dur", dur))
		s.emit(Event{Kind: EventJobError, JobID: t.job.ID, RunAt: runAt, Late: t.late, Err: err})
	} else {
		// Avoid noisy logs for very frequent jobs: only elevate to INFO when it took noticeable time.
		if dur >= 750*time.Millisecond {
			s.log.Info("job executed", logx.String("job", t.job.ID), logx.String("action", t.job.Action), logx.Duration("dur", dur))
		} else {
			s.log.Debug("job executed", logx.String("job", t.job.ID), logx.String("action", t.job.Action), logx.Duration("dur", dur))
		}
		s.emit(Event{Kind: EventJobExecuted, JobID: t.job.ID, RunAt: runAt, Late: t.late})
	}

	run := jobstore.Run{
		JobID:    t.job.ID,
		Action:   t.job.Action,
		Started:  start,
		Duration: dur,
	}
	if err != nil {
		run.Error = err.Error()
	}
	if aerr := s.store.AppendRun(ctx, run); aerr != nil {
		s.log.Warn("run record append failed", logx.String("job", t.job.ID), logx.Err(aerr))
	}
}

func errUnknownAction(kind string) error {
	return fmt.Errorf("unregistered action kind %q", kind)
}
