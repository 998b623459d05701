package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
		"storage": {
			"jobs": {"path": "./jobs.db", "busy_timeout": "5s"},
			"docs": {"path": "./docs.db"}
		},
		"scheduler": {"workers": 4, "poll_interval": "500ms", "coalesce": true, "timezone": "Europe/Paris"}
	}`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
	if cfg.Scheduler.Workers != 4 || !cfg.Scheduler.Coalesce {
		t.Fatalf("unexpected scheduler config: %+v", cfg.Scheduler)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
logging:
  level: warn
  console: true
  file:
    enabled: true
    path: ./out.log
storage:
  jobs:
    path: ./jobs.db
  docs:
    path: ./docs.db
scheduler:
  workers: 2
  misfire_grace: 30s
  coalesce: false
mailer:
  rate_per_sec: 5
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load yaml: %v", err)
	}
	if cfg.Logging.Level != "warn" || !cfg.Logging.File.Enabled {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
	if cfg.Scheduler.MisfireGrace != "30s" {
		t.Fatalf("misfire_grace = %q, want 30s", cfg.Scheduler.MisfireGrace)
	}
	if cfg.Mailer.RatePerSec != 5 {
		t.Fatalf("mailer.rate_per_sec = %d, want 5", cfg.Mailer.RatePerSec)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"logging": {}, "storage": {}, "scheduler": {}, "smtp": {"host": "x"}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"logging": {}, "storage": {}, "scheduler": {}}{"extra": 1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestSubscribeDelivery(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("delivered config mismatch")
		}
	default:
		t.Fatal("expected a delivered config")
	}

	// Full buffer: oldest is dropped, latest wins.
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatal("expected latest config after overflow")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("x", " 90s ")
	if err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "nope"); err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default: got %v, %v", d, err)
	}
}
