package jobstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "schedbill/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the SQLite-backed store at cfg.Path.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("jobstore path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Upsert(ctx context.Context, j Job) (bool, error) {
	if j.CreatedAt == 0 {
		j.CreatedAt = time.Now().Unix()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE id = ?`, j.ID).Scan(&exists)
	if err != nil {
		return false, unavailable(err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs(id, run_at, action, recurring, created_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET run_at=excluded.run_at, action=excluded.action, recurring=excluded.recurring`,
		j.ID, j.RunAt, j.Action, boolInt(j.Recurring), j.CreatedAt,
	)
	if err != nil {
		return false, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return false, unavailable(err)
	}
	return exists > 0, nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable(err)
	}
	return n > 0, nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (Job, bool, error) {
	var j Job
	var recurring int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, run_at, action, recurring, created_at FROM jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.RunAt, &j.Action, &recurring, &j.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, unavailable(err)
	}
	j.Recurring = recurring != 0
	return j, true, nil
}

func (s *sqliteStore) DueBefore(ctx context.Context, t time.Time) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_at, action, recurring, created_at FROM jobs WHERE run_at <= ? ORDER BY run_at`,
		t.Unix(),
	)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var due []Job
	for rows.Next() {
		var j Job
		var recurring int
		if err := rows.Scan(&j.ID, &j.RunAt, &j.Action, &recurring, &j.CreatedAt); err != nil {
			return nil, unavailable(err)
		}
		j.Recurring = recurring != 0
		due = append(due, j)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return due, nil
}

func (s *sqliteStore) AppendRun(ctx context.Context, r Run) error {
	if r.Started.IsZero() {
		r.Started = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs(job_id, action, started_at, took_ms, err) VALUES(?,?,?,?,?)`,
		r.JobID, r.Action, r.Started.UnixMilli(), r.Duration.Milliseconds(), nullStr(r.Error),
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *sqliteStore) PruneRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_runs WHERE started_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
