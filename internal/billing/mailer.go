package billing

import (
	"context"

	"golang.org/x/time/rate"

	"schedbill/internal/docstore"
	logx "schedbill/pkg/logx"
)

// Mailer emits outbound mail. Actual SMTP transport is an external concern;
// the emission here is the structured record of the send, rate limited so a
// runaway recurrence cannot flood the sink.
type Mailer struct {
	log logx.Logger
	lim *rate.Limiter
}

func NewMailer(ratePerSec int, log logx.Logger) *Mailer {
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Mailer{
		log: log,
		lim: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
	}
}

func (m *Mailer) Send(ctx context.Context, e docstore.Email) error {
	if err := m.lim.Wait(ctx); err != nil {
		return err
	}
	m.log.Info("sending email",
		logx.String("email", e.ID),
		logx.String("recipient", e.Recipient),
		logx.String("title", e.Title),
	)
	return nil
}
