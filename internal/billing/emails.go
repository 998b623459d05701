package billing

import (
	"context"
	"time"

	"schedbill/internal/docstore"
	"schedbill/internal/timing"
	logx "schedbill/pkg/logx"
)

// EmailInput carries the accepted fields for creating or updating an email.
// SendAt takes any of the shapes timing.ToEpoch understands (instant,
// numeric or free-text string); nil leaves the stored value unchanged.
type EmailInput struct {
	Sender    string
	Recipient string
	Title     string
	Content   string
	SendAt    any
}

// EmailService owns email CRUD and is, together with the invoice engine's
// notifications, the only caller of ScheduleEmail.
type EmailService struct {
	docs   docstore.Store
	coord  *Coordinator
	mailer *Mailer
	loc    *time.Location
	log    logx.Logger
}

func NewEmailService(docs docstore.Store, coord *Coordinator, mailer *Mailer, loc *time.Location, log logx.Logger) *EmailService {
	if loc == nil {
		loc = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &EmailService{docs: docs, coord: coord, mailer: mailer, loc: loc, log: log}
}

// Create saves a new email and arms its send job when a send time is set.
func (s *EmailService) Create(ctx context.Context, in EmailInput) (docstore.Email, error) {
	e := docstore.Email{
		Sender:    in.Sender,
		Recipient: in.Recipient,
		Title:     in.Title,
		Content:   in.Content,
	}
	if in.SendAt != nil {
		ts, err := timing.ToEpoch(in.SendAt, s.loc)
		if err != nil {
			return docstore.Email{}, err
		}
		e.SendAt = ts
	}
	if err := s.docs.SaveEmail(ctx, &e); err != nil {
		return docstore.Email{}, err
	}
	if _, err := s.coord.ScheduleEmail(ctx, e); err != nil {
		return e, err
	}
	return e, nil
}

// Update applies the non-empty input fields to an existing email and
// reschedules it; a SendAt of 0 clears any pending job.
func (s *EmailService) Update(ctx context.Context, id string, in EmailInput) (docstore.Email, error) {
	e, err := s.docs.FindEmail(ctx, id)
	if err != nil {
		return docstore.Email{}, err
	}
	if in.Sender != "" {
		e.Sender = in.Sender
	}
	if in.Recipient != "" {
		e.Recipient = in.Recipient
	}
	if in.Title != "" {
		e.Title = in.Title
	}
	if in.Content != "" {
		e.Content = in.Content
	}
	if in.SendAt != nil {
		ts, err := timing.ToEpoch(in.SendAt, s.loc)
		if err != nil {
			return docstore.Email{}, err
		}
		e.SendAt = ts
	}
	if err := s.docs.SaveEmail(ctx, &e); err != nil {
		return docstore.Email{}, err
	}
	if _, err := s.coord.ScheduleEmail(ctx, e); err != nil {
		return e, err
	}
	return e, nil
}

// Delete unschedules the email before removing the document, so no job
// outlives its entity.
func (s *EmailService) Delete(ctx context.Context, id string) error {
	e, err := s.docs.FindEmail(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.coord.UnscheduleEmail(ctx, e); err != nil {
		return err
	}
	return s.docs.DeleteEmail(ctx, id)
}

// Find returns the email with the given id.
func (s *EmailService) Find(ctx context.Context, id string) (docstore.Email, error) {
	return s.docs.FindEmail(ctx, id)
}

// Send delivers the email now. Registered as the "email.send" job action.
func (s *EmailService) Send(ctx context.Context, id string) error {
	e, err := s.docs.FindEmail(ctx, id)
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, e)
}
