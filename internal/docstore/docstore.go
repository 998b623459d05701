// Package docstore persists the billing documents (users, emails, invoices).
//
// The scheduling engine treats it as an external collaborator: find-by-id,
// save, delete. Document ids are UUID strings and double as job ids.
package docstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no document matches the lookup.
	ErrNotFound = errors.New("document not found")

	// ErrInvalidID is returned for malformed document ids.
	ErrInvalidID = errors.New("invalid document id")
)

// Config configures the document store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// User is a sender or recipient of emails and invoices.
type User struct {
	ID           string
	EmailAddress string // unique
	FirstName    string
	LastName     string
}

// Email is an outbound mail. SendAt is epoch seconds; 0 means "no scheduled
// send" and the job id equal to the email's id must not exist.
type Email struct {
	ID        string
	Sender    string // User id
	Recipient string // email address
	Title     string
	Content   string
	SendAt    int64
}

// Invoice is a billing document. Periodicity 0 means one-shot; NotifyAt is
// seconds since local midnight, -1 meaning notify immediately.
type Invoice struct {
	ID          string
	Sender      string // User id
	Recipient   string // User id
	Reference   string // unique
	Periodicity int64
	Notify      bool
	NotifyAt    int64
}

// Store is the document persistence collaborator.
// Save assigns a fresh UUID when the document has none.
type Store interface {
	FindUser(ctx context.Context, id string) (User, error)
	FindUserByEmail(ctx context.Context, address string) (User, error)
	SaveUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id string) error

	FindEmail(ctx context.Context, id string) (Email, error)
	SaveEmail(ctx context.Context, e *Email) error
	DeleteEmail(ctx context.Context, id string) error

	FindInvoice(ctx context.Context, id string) (Invoice, error)
	SaveInvoice(ctx context.Context, inv *Invoice) error
	DeleteInvoice(ctx context.Context, id string) error

	Close() error
}

// ValidateID rejects malformed document ids before they hit the store.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidID
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidID
	}
	return nil
}

// NewID mints a document id.
func NewID() string { return uuid.NewString() }
