package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"schedbill/internal/billing"
	"schedbill/internal/config"
	"schedbill/internal/docstore"
	"schedbill/internal/eventbus"
	"schedbill/internal/jobstore"
	"schedbill/internal/scheduler"
	logx "schedbill/pkg/logx"
)

// App wires config, logging, storage, the scheduler and the billing services
// together and owns their lifecycle.
type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service

	jobs jobstore.Store
	docs docstore.Store
	bus  eventbus.Bus

	sched *scheduler.Service

	mailer   *billing.Mailer
	users    *billing.UserService
	emails   *billing.EmailService
	invoices *billing.InvoiceService
	engine   *billing.Engine

	runCancel context.CancelFunc
	watchDone chan struct{}
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	schedCfg, err := mapSchedulerConfig(cfg.Scheduler)
	if err != nil {
		return nil, err
	}

	jobsBusy, err := config.ParseDurationOrDefault("storage.jobs.busy_timeout", cfg.Storage.Jobs.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	jobs, err := jobstore.Open(jobstore.Config{
		Path:        cfg.Storage.Jobs.Path,
		BusyTimeout: jobsBusy,
	}, log.With(logx.String("comp", "jobstore")))
	if err != nil {
		return nil, err
	}

	docsBusy, err := config.ParseDurationOrDefault("storage.docs.busy_timeout", cfg.Storage.Docs.BusyTimeout, 5*time.Second)
	if err != nil {
		_ = jobs.Close()
		return nil, err
	}
	docs, err := docstore.Open(docstore.Config{
		Path:        cfg.Storage.Docs.Path,
		BusyTimeout: docsBusy,
	}, log.With(logx.String("comp", "docstore")))
	if err != nil {
		_ = jobs.Close()
		return nil, err
	}

	bus := eventbus.New()

	schedLog := log.With(logx.String("comp", "scheduler"))
	sched := scheduler.New(schedCfg, jobs, observerHooks(schedLog, bus), schedLog)

	mailer := billing.NewMailer(cfg.Mailer.RatePerSec, log.With(logx.String("comp", "mailer")))
	loc := sched.Location()

	coord := billing.NewCoordinator(sched, log.With(logx.String("comp", "billing")))
	users := billing.NewUserService(docs)
	emails := billing.NewEmailService(docs, coord, mailer, loc, log.With(logx.String("comp", "emails")))
	invoices := billing.NewInvoiceService(docs, coord)
	engine := billing.NewEngine(docs, sched, coord, emails, mailer, bus, loc, log.With(logx.String("comp", "invoices")))

	sched.RegisterAction(billing.ActionSendEmail, emails.Send)
	sched.RegisterAction(billing.ActionGenerateInvoice, engine.GenerateInvoice)

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		jobs:     jobs,
		docs:     docs,
		bus:      bus,
		sched:    sched,
		mailer:   mailer,
		users:    users,
		emails:   emails,
		invoices: invoices,
		engine:   engine,
	}, nil
}

func (a *App) Scheduler() *scheduler.Service     { return a.sched }
func (a *App) Users() *billing.UserService       { return a.users }
func (a *App) Emails() *billing.EmailService     { return a.emails }
func (a *App) Invoices() *billing.InvoiceService { return a.invoices }
func (a *App) Engine() *billing.Engine           { return a.engine }
func (a *App) Bus() eventbus.Bus                 { return a.bus }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapSchedulerConfig(cfg.Scheduler); err != nil {
			return err
		}
		if _, err := config.ParseDurationField("storage.jobs.busy_timeout", cfg.Storage.Jobs.BusyTimeout); err != nil {
			return err
		}
		if _, err := config.ParseDurationField("storage.docs.busy_timeout", cfg.Storage.Docs.BusyTimeout); err != nil {
			return err
		}
		return nil
	})

	a.sched.Start(runCtx)

	// hot reload: logging is the only section applied live; storage and
	// scheduler changes take effect on restart.
	sub := a.cfgm.Subscribe(8)
	a.watchDone = make(chan struct{})
	go func() {
		defer close(a.watchDone)
		defer a.cfgm.Unsubscribe(sub)
		go func() { _ = a.cfgm.Watch(runCtx) }()
		for {
			select {
			case <-runCtx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})
				a.log.Info("config reloaded")
			}
		}
	}()

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.runCancel != nil {
		a.runCancel()
	}
	a.sched.Stop(ctx)
	if a.watchDone != nil {
		select {
		case <-a.watchDone:
		case <-ctx.Done():
		}
	}
	if err := a.jobs.Close(); err != nil {
		a.log.Warn("job store close failed", logx.Err(err))
	}
	if err := a.docs.Close(); err != nil {
		a.log.Warn("doc store close failed", logx.Err(err))
	}
	a.log.Info("stopped")
	return nil
}

func mapSchedulerConfig(sc config.SchedulerConfig) (scheduler.Config, error) {
	if sc.Workers < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.workers must be >= 0")
	}
	poll, err := config.ParseDurationField("scheduler.poll_interval", sc.PollInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	grace, err := config.ParseDurationField("scheduler.misfire_grace", sc.MisfireGrace)
	if err != nil {
		return scheduler.Config{}, err
	}
	retention, err := config.ParseDurationField("scheduler.run_retention", sc.RunRetention)
	if err != nil {
		return scheduler.Config{}, err
	}
	if tz := strings.TrimSpace(sc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return scheduler.Config{
		Workers:      sc.Workers,
		QueueSize:    sc.QueueSize,
		PollInterval: poll,
		Coalesce:     sc.Coalesce,
		MisfireGrace: grace,
		Timezone:     sc.Timezone,
		JanitorSpec:  sc.JanitorSpec,
		RunRetention: retention,
	}, nil
}

// observerHooks logs every scheduler transition and republishes job outcomes
// on the bus for in-process consumers.
func observerHooks(log logx.Logger, bus eventbus.Bus) scheduler.Hooks {
	jobEvent := func(level func(string, ...logx.Field), msg string, publish bool) func(scheduler.Event) {
		return func(ev scheduler.Event) {
			fields := []logx.Field{logx.String("job", ev.JobID)}
			if ev.Late > 0 {
				fields = append(fields, logx.Duration("late", ev.Late))
			}
			if ev.Err != nil {
				fields = append(fields, logx.Err(ev.Err))
			}
			level(msg, fields...)
			if publish && bus != nil {
				bus.Publish(eventbus.Event{Type: "scheduler." + ev.Kind.String(), Data: ev})
			}
		}
	}
	return scheduler.Hooks{
		SchedulerStarted: func(scheduler.Event) {},
		SchedulerStopped: func(scheduler.Event) {},
		JobAdded:         jobEvent(log.Debug, "job added", false),
		JobModified:      jobEvent(log.Debug, "job replaced", false),
		JobRemoved:       jobEvent(log.Debug, "job removed", false),
		JobSubmitted:     jobEvent(log.Debug, "job submitted", false),
		JobExecuted:      jobEvent(log.Debug, "job executed", true),
		JobError:         jobEvent(log.Error, "job failed", true),
		JobMissed:        jobEvent(log.Warn, "job missed", true),
		JobMaxInstances:  jobEvent(log.Warn, "job rejected, already running", true),
		Unhandled: func(ev scheduler.Event) {
			log.Warn("unhandled scheduler event", logx.String("event", ev.Kind.String()))
		},
	}
}
