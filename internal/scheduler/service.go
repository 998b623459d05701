package scheduler

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"schedbill/internal/jobstore"
	logx "schedbill/pkg/logx"
)

func New(cfg Config, store jobstore.Store, hooks Hooks, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg.withDefaults(),
		store:   store,
		hooks:   hooks,
		log:     log,
		actions: map[string]Action{},
		running: map[string]struct{}{},
	}
}

// RegisterAction binds a persisted action kind to its implementation.
// Register all kinds before Start; jobs referencing an unknown kind at fire
// time are consumed and reported through the errored hook.
func (s *Service) RegisterAction(kind string, fn Action) {
	s.amu.Lock()
	s.actions[kind] = fn
	s.amu.Unlock()
}

func (s *Service) action(kind string) Action {
	s.amu.Lock()
	defer s.amu.Unlock()
	return s.actions[kind]
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()
	s.log.Debug("start requested", logx.Int("workers", cur.Workers), logx.String("tz", strings.TrimSpace(cur.Timezone)))
	// If a Stop() is in progress, wait for it to complete (prevents double worker pools).
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		// already running (no stop in progress)
		if done == nil {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
			// loop and try again
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	// Fresh queue per run to avoid executing "stale" enqueued tasks after a stop/start toggle.
	s.queue = make(chan task, s.cfg.QueueSize)

	loc := s.loadLocationLocked()
	s.loc = loc

	// Local captures prevent races if fields are swapped/nilled during Stop().
	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue

	workers := s.cfg.Workers
	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in scheduler worker", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue, idx)
		}()
	}

	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		s.pollLoop(runCtx, stopCh, queue)
	}()

	if strings.TrimSpace(s.cfg.JanitorSpec) != "" {
		s.janitor = cron.New(cron.WithLocation(loc))
		if _, err := s.janitor.AddFunc(s.cfg.JanitorSpec, func() { s.pruneRuns(runCtx) }); err != nil {
			s.log.Error("janitor spec rejected", logx.String("spec", s.cfg.JanitorSpec), logx.Err(err))
			s.janitor = nil
		} else {
			s.janitor.Start()
		}
	}

	s.log.Info("scheduler started", logx.Int("workers", workers), logx.String("tz", loc.String()), logx.Duration("poll", s.cfg.PollInterval))
	s.emit(Event{Kind: EventSchedulerStarted})
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")
	// If a stop is already in progress, just wait (best-effort).
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
	// Initiate stop.
	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	janitor := s.janitor
	s.janitor = nil
	s.runCancel = nil
	s.mu.Unlock()

	// signal loop and workers to exit promptly
	close(stopCh)
	if cancel != nil {
		cancel()
	}
	if janitor != nil {
		<-janitor.Stop().Done()
	}

	// finalize cleanup in background so Stop() can return on timeout safely.
	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.queue = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
		s.emit(Event{Kind: EventSchedulerStopped})
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
		// stop continues in background
		return
	}
}

// Snapshot returns a point-in-time view for monitoring.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Workers: s.cfg.Workers, Started: s.stopCh != nil}
	if s.queue != nil {
		snap.QueueLen = len(s.queue)
	}
	s.mu.Unlock()

	s.rmu.Lock()
	for id := range s.running {
		snap.Running = append(snap.Running, id)
	}
	s.rmu.Unlock()
	return snap
}

// pollLoop is the single owner of due-job dispatch. It blocks only on its
// poll interval; store I/O happens inside dispatchDue.
func (s *Service) pollLoop(ctx context.Context, stopCh <-chan struct{}, queue chan task) {
	tick := time.NewTicker(s.cfg.PollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-tick.C:
			s.dispatchDue(ctx, queue)
		}
	}
}

func (s *Service) dispatchDue(ctx context.Context, queue chan task) {
	now := time.Now()
	due, err := s.store.DueBefore(ctx, now)
	if err != nil {
		// Keep running for the next tick; the store may come back.
		s.log.Error("due scan failed", logx.Err(err))
		return
	}
	for _, j := range due {
		s.fireOne(ctx, queue, j, now)
	}
}

// fireOne applies the fire policy to a single due job and, when the firing
// survives it, consumes the row and hands the action to the worker pool.
func (s *Service) fireOne(ctx context.Context, queue chan task, j jobstore.Job, now time.Time) {
	runAt := time.Unix(j.RunAt, 0)
	late := now.Sub(runAt)
	if late < 0 {
		late = 0
	}

	// Misfire grace: a firing later than the grace is skipped, not run.
	if grace := s.cfg.MisfireGrace; grace > 0 && late > grace {
		if _, err := s.store.Delete(ctx, j.ID); err != nil {
			s.log.Error("missed job cleanup failed", logx.String("job", j.ID), logx.Err(err))
			return
		}
		s.log.Warn("job missed (beyond misfire grace)", logx.String("job", j.ID), logx.Duration("late", late))
		s.emit(Event{Kind: EventJobMissed, JobID: j.ID, RunAt: runAt, Late: late})
		return
	}

	// Max one in-flight execution per id: a second due firing is rejected,
	// not queued.
	if !s.acquire(j.ID) {
		if _, err := s.store.Delete(ctx, j.ID); err != nil {
			s.log.Error("rejected job cleanup failed", logx.String("job", j.ID), logx.Err(err))
			return
		}
		s.log.Warn("job rejected, previous run still executing", logx.String("job", j.ID))
		s.emit(Event{Kind: EventJobMaxInstances, JobID: j.ID, RunAt: runAt, Late: late})
		return
	}

	run := s.action(j.Action)
	if run == nil {
		s.release(j.ID)
		if _, err := s.store.Delete(ctx, j.ID); err != nil {
			s.log.Error("unresolvable job cleanup failed", logx.String("job", j.ID), logx.Err(err))
			return
		}
		s.log.Error("job action kind not registered", logx.String("job", j.ID), logx.String("action", j.Action))
		s.emit(Event{Kind: EventJobError, JobID: j.ID, RunAt: runAt, Err: errUnknownAction(j.Action)})
		return
	}

	// The loop is the only enqueuer, so a capacity check here cannot race
	// with another producer. Leave the row for the next tick when full.
	if len(queue) == cap(queue) {
		s.release(j.ID)
		s.log.Warn("scheduler queue full, firing deferred to next tick", logx.String("job", j.ID), logx.Int("queue_cap", cap(queue)))
		return
	}

	// One-shot rows are consumed on submission; recurring jobs re-arm from
	// their own action, never from the loop. Deleting before enqueue keeps a
	// self-rearmed row under the same id from being clobbered.
	if _, err := s.store.Delete(ctx, j.ID); err != nil {
		s.release(j.ID)
		s.log.Error("job consume failed", logx.String("job", j.ID), logx.Err(err))
		return
	}

	if s.cfg.Coalesce && late > s.cfg.PollInterval {
		// Late-but-run: signal the coalesced firing, then run exactly once.
		s.emit(Event{Kind: EventJobMissed, JobID: j.ID, RunAt: runAt, Late: late})
	}

	queue <- task{job: j, run: run, late: late}
	s.emit(Event{Kind: EventJobSubmitted, JobID: j.ID, RunAt: runAt, Late: late})
}

func (s *Service) acquire(id string) bool {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	if _, busy := s.running[id]; busy {
		return false
	}
	s.running[id] = struct{}{}
	return true
}

func (s *Service) release(id string) {
	s.rmu.Lock()
	delete(s.running, id)
	s.rmu.Unlock()
}

func (s *Service) pruneRuns(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.RunRetention)
	n, err := s.store.PruneRuns(ctx, cutoff)
	if err != nil {
		s.log.Warn("run history prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Debug("run history pruned", logx.Int64("rows", n))
	}
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}

// Location returns the scheduler's internal location, resolved from config.
// Valid before Start.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc != nil {
		return s.loc
	}
	return s.loadLocationLocked()
}
