package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"schedbill/internal/jobstore"
	logx "schedbill/pkg/logx"
)

// Config controls the scheduler service. Fire-policy settings are fixed at
// construction; max one concurrent run per job id and replace-on-add are
// hard-wired.
type Config struct {
	Workers      int
	QueueSize    int
	PollInterval time.Duration

	// Coalesce reports a late firing through the missed hook before running
	// it. Elapsed firings always collapse into a single run either way.
	Coalesce bool

	// MisfireGrace is the maximum tolerated lateness before a due firing is
	// skipped as missed. Zero means unbounded: fire no matter how late.
	MisfireGrace time.Duration

	Timezone string // IANA TZ for the scheduler's internal clock, e.g. "Europe/Paris"

	// JanitorSpec is a cron spec for pruning old run records.
	// Empty disables the janitor.
	JanitorSpec  string
	RunRetention time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.RunRetention <= 0 {
		c.RunRetention = 7 * 24 * time.Hour
	}
	return c
}

// Action executes one firing of a job. jobID is the owning entity's id.
type Action func(ctx context.Context, jobID string) error

type task struct {
	job  jobstore.Job
	run  Action
	late time.Duration
}

type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	loc   *time.Location
	store jobstore.Store
	hooks Hooks

	queue  chan task
	stopCh chan struct{}
	// stopDone is non-nil while a Stop() is in progress; it is closed when workers fully exit.
	stopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	janitor *cron.Cron

	// amu guards the action registry.
	amu     sync.Mutex
	actions map[string]Action

	// rmu guards the in-flight set (max-instances control).
	rmu     sync.Mutex
	running map[string]struct{}
}

// Snapshot is a point-in-time view for monitoring and tests.
type Snapshot struct {
	Workers  int
	QueueLen int
	Running  []string
	Started  bool
}
