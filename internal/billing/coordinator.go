package billing

import (
	"context"
	"time"

	"schedbill/internal/docstore"
	"schedbill/internal/scheduler"
	logx "schedbill/pkg/logx"
)

// Action kinds persisted in the job store. Stable tags: changing them
// orphans jobs already on disk.
const (
	ActionSendEmail       = "email.send"
	ActionGenerateInvoice = "invoice.generate"
)

// Schedule outcomes, kept numeric to match the operation contracts:
// 1 = a job was armed or removed, 0 = nothing existed, -1 = unexpected state.
const (
	ScheduleArmed    = 1
	ScheduleNone     = 0
	ScheduleConflict = -1
)

// Coordinator owns the per-entity scheduling operations. It is the only
// path that arms email jobs, so "at most one job per entity id" follows
// from the scheduler's replace-on-add.
type Coordinator struct {
	sched *scheduler.Service
	log   logx.Logger
}

func NewCoordinator(sched *scheduler.Service, log logx.Logger) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{sched: sched, log: log}
}

// ScheduleEmail arms (or re-arms) the send job for e when e.SendAt is in
// use. With SendAt == 0 any leftover job is removed instead; finding one in
// that case is reported as ScheduleConflict since nothing should have armed
// it. The returned error is reserved for job store failures.
func (c *Coordinator) ScheduleEmail(ctx context.Context, e docstore.Email) (int, error) {
	if e.SendAt > 0 {
		err := c.sched.AddOrReplace(ctx, e.ID, time.Unix(e.SendAt, 0), ActionSendEmail, false)
		if err != nil {
			return ScheduleNone, err
		}
		return ScheduleArmed, nil
	}

	ret, err := c.UnscheduleEmail(ctx, e)
	if err != nil {
		return ScheduleNone, err
	}
	if ret == ScheduleNone {
		return ScheduleNone, nil
	}
	c.log.Warn("removed job for email without a send time", logx.String("email", e.ID))
	return ScheduleConflict, nil
}

// UnscheduleEmail removes the pending job for e if one exists.
// Idempotent: repeat calls return ScheduleNone.
func (c *Coordinator) UnscheduleEmail(ctx context.Context, e docstore.Email) (int, error) {
	return c.unschedule(ctx, e.ID)
}

// UnscheduleInvoice removes the pending job for inv if one exists.
// Idempotent: repeat calls return ScheduleNone.
func (c *Coordinator) UnscheduleInvoice(ctx context.Context, inv docstore.Invoice) (int, error) {
	return c.unschedule(ctx, inv.ID)
}

func (c *Coordinator) unschedule(ctx context.Context, id string) (int, error) {
	removed, err := c.sched.Remove(ctx, id)
	if err != nil {
		return ScheduleNone, err
	}
	if removed {
		return ScheduleArmed, nil
	}
	return ScheduleNone, nil
}
