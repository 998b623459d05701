package billing

import (
	"context"
	"fmt"
	"time"

	"schedbill/internal/docstore"
	"schedbill/internal/eventbus"
	"schedbill/internal/scheduler"
	"schedbill/internal/timing"
	logx "schedbill/pkg/logx"
)

// InvoiceGenerated is the immutable record emitted for each generation.
type InvoiceGenerated struct {
	ID        string
	Reference string
	Recipient string
	At        time.Time
}

// Engine orchestrates the invoice firing sequence: generate, optionally
// notify, optionally re-arm. It is registered as the "invoice.generate" job
// action, so every firing re-reads current invoice state and decides its own
// next run; a periodicity change between firings takes effect without any
// trigger surgery.
type Engine struct {
	docs   docstore.Store
	sched  *scheduler.Service
	coord  *Coordinator
	emails *EmailService
	mailer *Mailer
	bus    eventbus.Bus
	loc    *time.Location
	log    logx.Logger
}

func NewEngine(docs docstore.Store, sched *scheduler.Service, coord *Coordinator, emails *EmailService, mailer *Mailer, bus eventbus.Bus, loc *time.Location, log logx.Logger) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		docs:   docs,
		sched:  sched,
		coord:  coord,
		emails: emails,
		mailer: mailer,
		bus:    bus,
		loc:    loc,
		log:    log,
	}
}

// GenerateInvoice runs one firing for the invoice. A missing invoice aborts
// the operation without touching any job; the job under the invoice's id is
// removed up front regardless, so a retried call can never leave two armed
// triggers.
func (g *Engine) GenerateInvoice(ctx context.Context, invoiceID string) error {
	inv, err := g.docs.FindInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}

	// Firing normally consumed the prior job already; explicit removal
	// guards against duplicate arming from retried or direct calls.
	if _, err := g.sched.Remove(ctx, inv.ID); err != nil {
		return err
	}

	g.log.Info("invoice generated", logx.String("invoice", inv.ID), logx.String("reference", inv.Reference))
	if g.bus != nil {
		g.bus.Publish(eventbus.Event{Type: "invoice.generated", Data: InvoiceGenerated{
			ID:        inv.ID,
			Reference: inv.Reference,
			Recipient: inv.Recipient,
			At:        time.Now(),
		}})
	}

	if inv.Notify {
		if err := g.notify(ctx, inv); err != nil {
			return err
		}
	}

	if inv.Periodicity > 0 {
		next := timing.NextRunFromNow(inv.Periodicity)
		return g.sched.AddOrReplace(ctx, inv.ID, time.Unix(next, 0), ActionGenerateInvoice, true)
	}
	// One-shot: the removal above already guarantees no stale job survives.
	return nil
}

func (g *Engine) notify(ctx context.Context, inv docstore.Invoice) error {
	recipient, err := g.docs.FindUser(ctx, inv.Recipient)
	if err != nil {
		return err
	}

	in := EmailInput{
		Sender:    inv.Sender,
		Recipient: recipient.EmailAddress,
		Title:     fmt.Sprintf("Your invoice %s", inv.Reference),
		Content:   "Please find below our small invoice for this hard work.",
	}

	if inv.NotifyAt >= 0 {
		// Same-day notification: creating the email arms its one-shot send job.
		in.SendAt = timing.TodayTrigger(inv.NotifyAt, g.loc)
		_, err := g.emails.Create(ctx, in)
		return err
	}

	// NotifyAt == -1: send synchronously, no scheduling.
	email, err := g.emails.Create(ctx, in)
	if err != nil {
		return err
	}
	return g.mailer.Send(ctx, email)
}
