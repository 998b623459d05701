package scheduler

import (
	"time"

	logx "schedbill/pkg/logx"
)

// EventKind enumerates every scheduler lifecycle transition.
type EventKind int

const (
	EventSchedulerStarted EventKind = iota
	EventSchedulerStopped
	EventJobAdded
	EventJobModified
	EventJobRemoved
	EventJobSubmitted
	EventJobExecuted
	EventJobError
	EventJobMissed
	EventJobMaxInstances
)

func (k EventKind) String() string {
	switch k {
	case EventSchedulerStarted:
		return "scheduler_started"
	case EventSchedulerStopped:
		return "scheduler_stopped"
	case EventJobAdded:
		return "job_added"
	case EventJobModified:
		return "job_modified"
	case EventJobRemoved:
		return "job_removed"
	case EventJobSubmitted:
		return "job_submitted"
	case EventJobExecuted:
		return "job_executed"
	case EventJobError:
		return "job_error"
	case EventJobMissed:
		return "job_missed"
	case EventJobMaxInstances:
		return "job_max_instances"
	default:
		return "unknown"
	}
}

// Event describes one lifecycle transition. JobID is empty for scheduler
// start/stop. Err is set only for job_error.
type Event struct {
	Kind  EventKind
	JobID string
	RunAt time.Time
	Late  time.Duration
	Err   error
	At    time.Time
}

// Hooks is the observer for scheduler events. Any field may be nil; an event
// whose handler is nil goes to Unhandled, and when that is nil too it is
// logged as an unhandled warning. Dispatch never panics the loop.
type Hooks struct {
	SchedulerStarted func(Event)
	SchedulerStopped func(Event)
	JobAdded         func(Event)
	JobModified      func(Event)
	JobRemoved       func(Event)
	JobSubmitted     func(Event)
	JobExecuted      func(Event)
	JobError         func(Event)
	JobMissed        func(Event)
	JobMaxInstances  func(Event)

	// Unhandled is the default arm for kinds with no dedicated handler.
	Unhandled func(Event)
}

// emit dispatches ev through the hooks with a total match over the kind.
func (s *Service) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	var h func(Event)
	switch ev.Kind {
	case EventSchedulerStarted:
		h = s.hooks.SchedulerStarted
	case EventSchedulerStopped:
		h = s.hooks.SchedulerStopped
	case EventJobAdded:
		h = s.hooks.JobAdded
	case EventJobModified:
		h = s.hooks.JobModified
	case EventJobRemoved:
		h = s.hooks.JobRemoved
	case EventJobSubmitted:
		h = s.hooks.JobSubmitted
	case EventJobExecuted:
		h = s.hooks.JobExecuted
	case EventJobError:
		h = s.hooks.JobError
	case EventJobMissed:
		h = s.hooks.JobMissed
	case EventJobMaxInstances:
		h = s.hooks.JobMaxInstances
	default:
		h = nil
	}
	if h == nil {
		h = s.hooks.Unhandled
	}
	if h == nil {
		s.log.Warn("unhandled scheduler event", logx.String("event", ev.Kind.String()), logx.String("job", ev.JobID))
		return
	}

	// Observer faults must never stop the scheduler.
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduler event hook", logx.String("event", ev.Kind.String()), logx.Any("panic", r))
		}
	}()
	h(ev)
}
