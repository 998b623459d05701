package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Mailer    MailerConfig    `json:"mailer,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig points at the two sqlite files: job rows and documents
// (users/emails/invoices) live in separate databases so job churn never
// contends with document reads.
type StorageConfig struct {
	Jobs SQLiteConfig `json:"jobs"`
	Docs SQLiteConfig `json:"docs"`
}

type SQLiteConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// SchedulerConfig controls polling, the worker pool and the fire policy.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - poll_interval: "1s"
//   - misfire_grace: "0s" (late jobs always run)
//   - run_retention: "168h"
type SchedulerConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	PollInterval string `json:"poll_interval,omitempty"`

	// Coalesce collapses a backlog of missed firings into a single run.
	Coalesce bool `json:"coalesce"`

	// MisfireGrace skips jobs later than this. "0s" disables the cutoff.
	MisfireGrace string `json:"misfire_grace,omitempty"`

	Timezone string `json:"timezone,omitempty"`

	// JanitorSpec is a cron expression for pruning old run history.
	// Empty disables the janitor.
	JanitorSpec  string `json:"janitor_spec,omitempty"`
	RunRetention string `json:"run_retention,omitempty"`
}

type MailerConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"`
}
