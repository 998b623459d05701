package docstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	logx "schedbill/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the SQLite-backed document store at cfg.Path.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("docstore path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

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

// ---- users ----

func (s *sqliteStore) FindUser(ctx context.Context, id string) (User, error) {
	if err := ValidateID(id); err != nil {
		return User{}, err
	}
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email_address, first_name, last_name FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.EmailAddress, &u.FirstName, &u.LastName)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("%w: user %q", ErrNotFound, id)
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *sqliteStore) FindUserByEmail(ctx context.Context, address string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email_address, first_name, last_name FROM users WHERE email_address = ?`, address,
	).Scan(&u.ID, &u.EmailAddress, &u.FirstName, &u.LastName)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("%w: user address %q", ErrNotFound, address)
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *sqliteStore) SaveUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = NewID()
	} else if err := ValidateID(u.ID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, email_address, first_name, last_name) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET email_address=excluded.email_address,
		   first_name=excluded.first_name, last_name=excluded.last_name`,
		u.ID, u.EmailAddress, u.FirstName, u.LastName,
	)
	return err
}

func (s *sqliteStore) DeleteUser(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "users", "user", id)
}

// ---- emails ----

func (s *sqliteStore) FindEmail(ctx context.Context, id string) (Email, error) {
	if err := ValidateID(id); err != nil {
		return Email{}, err
	}
	var e Email
	err := s.db.QueryRowContext(ctx,
		`SELECT id, sender, recipient, title, content, send_at FROM emails WHERE id = ?`, id,
	).Scan(&e.ID, &e.Sender, &e.Recipient, &e.Title, &e.Content, &e.SendAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Email{}, fmt.Errorf("%w: email %q", ErrNotFound, id)
	}
	if err != nil {
		return Email{}, err
	}
	return e, nil
}

func (s *sqliteStore) SaveEmail(ctx context.Context, e *Email) error {
	if e.ID == "" {
		e.ID = NewID()
	} else if err := ValidateID(e.ID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO emails(id, sender, recipient, title, content, send_at) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET sender=excluded.sender, recipient=excluded.recipient,
		   title=excluded.title, content=excluded.content, send_at=excluded.send_at`,
		e.ID, e.Sender, e.Recipient, e.Title, e.Content, e.SendAt,
	)
	return err
}

func (s *sqliteStore) DeleteEmail(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "emails", "email", id)
}

// ---- invoices ----

func (s *sqliteStore) FindInvoice(ctx context.Context, id string) (Invoice, error) {
	if err := ValidateID(id); err != nil {
		return Invoice{}, err
	}
	var inv Invoice
	var notify int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, sender, recipient, reference, periodicity, notify, notify_at FROM invoices WHERE id = ?`, id,
	).Scan(&inv.ID, &inv.Sender, &inv.Recipient, &inv.Reference, &inv.Periodicity, &notify, &inv.NotifyAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Invoice{}, fmt.Errorf("%w: invoice %q", ErrNotFound, id)
	}
	if err != nil {
		return Invoice{}, err
	}
	inv.Notify = notify != 0
	return inv, nil
}

func (s *sqliteStore) SaveInvoice(ctx context.Context, inv *Invoice) error {
	if inv.ID == "" {
		inv.ID = NewID()
	} else if err := ValidateID(inv.ID); err != nil {
		return err
	}
	notify := 0
	if inv.Notify {
		notify = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invoices(id, sender, recipient, reference, periodicity, notify, notify_at) VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET sender=excluded.sender, recipient=excluded.recipient,
		   reference=excluded.reference, periodicity=excluded.periodicity,
		   notify=excluded.notify, notify_at=excluded.notify_at`,
		inv.ID, inv.Sender, inv.Recipient, inv.Reference, inv.Periodicity, notify, inv.NotifyAt,
	)
	return err
}

func (s *sqliteStore) DeleteInvoice(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "invoices", "invoice", id)
}

func (s *sqliteStore) deleteByID(ctx context.Context, table, kind, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %q", ErrNotFound, kind, id)
	}
	return nil
}
