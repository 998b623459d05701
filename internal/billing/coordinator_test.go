package billing

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"schedbill/internal/docstore"
	"schedbill/internal/eventbus"
	"schedbill/internal/jobstore"
	"schedbill/internal/scheduler"
	logx "schedbill/pkg/logx"
)

type fixture struct {
	jobs  jobstore.Store
	docs  docstore.Store
	sched *scheduler.Service
	coord *Coordinator
	bus   eventbus.Bus

	mailer   *Mailer
	emails   *EmailService
	invoices *InvoiceService
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	jobs, err := jobstore.Open(jobstore.Config{Path: filepath.Join(dir, "jobs.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = jobs.Close() })

	docs, err := docstore.Open(docstore.Config{Path: filepath.Join(dir, "docs.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	bus := eventbus.New()
	sched := scheduler.New(scheduler.Config{PollInterval: 10 * time.Millisecond},
		jobs, scheduler.Hooks{Unhandled: func(scheduler.Event) {}}, logx.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sched.Stop(ctx)
	})

	f := &fixture{jobs: jobs, docs: docs, sched: sched, bus: bus}
	f.coord = NewCoordinator(sched, logx.Nop())
	f.mailer = NewMailer(0, logx.Nop())
	f.emails = NewEmailService(docs, f.coord, f.mailer, time.UTC, logx.Nop())
	f.invoices = NewInvoiceService(docs, f.coord)
	f.engine = NewEngine(docs, sched, f.coord, f.emails, f.mailer, bus, time.UTC, logx.Nop())

	sched.RegisterAction(ActionSendEmail, f.emails.Send)
	sched.RegisterAction(ActionGenerateInvoice, f.engine.GenerateInvoice)
	return f
}

func (f *fixture) saveUser(t *testing.T, address string) docstore.User {
	t.Helper()
	u := docstore.User{EmailAddress: address, FirstName: "Test", LastName: "User"}
	require.NoError(t, f.docs.SaveUser(context.Background(), &u))
	return u
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestScheduleEmailArmsAndReplaces(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	e := docstore.Email{ID: docstore.NewID(), Recipient: "a@example.com", SendAt: time.Now().Add(time.Hour).Unix()}
	ret, err := f.coord.ScheduleEmail(ctx, e)
	require.NoError(t, err)
	require.Equal(t, ScheduleArmed, ret)

	j, ok, err := f.sched.Get(ctx, e.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, e.SendAt, j.RunAt)
	require.Equal(t, ActionSendEmail, j.Action)

	// Rescheduling the same email replaces, never duplicates.
	e.SendAt = time.Now().Add(2 * time.Hour).Unix()
	ret, err = f.coord.ScheduleEmail(ctx, e)
	require.NoError(t, err)
	require.Equal(t, ScheduleArmed, ret)

	due, err := f.jobs.DueBefore(ctx, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, e.SendAt, due[0].RunAt)
}

func TestScheduleEmailWithoutSendTime(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	e := docstore.Email{ID: docstore.NewID()}
	ret, err := f.coord.ScheduleEmail(ctx, e)
	require.NoError(t, err)
	require.Equal(t, ScheduleNone, ret)

	// A leftover job for an unscheduled email is an inconsistency: removed
	// and reported as a conflict.
	require.NoError(t, f.sched.AddOrReplace(ctx, e.ID, time.Now().Add(time.Hour), ActionSendEmail, false))
	ret, err = f.coord.ScheduleEmail(ctx, e)
	require.NoError(t, err)
	require.Equal(t, ScheduleConflict, ret)

	_, ok, err := f.sched.Get(ctx, e.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUnscheduleContract(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	e := docstore.Email{ID: docstore.NewID(), SendAt: time.Now().Add(time.Hour).Unix()}
	_, err := f.coord.ScheduleEmail(ctx, e)
	require.NoError(t, err)

	ret, err := f.coord.UnscheduleEmail(ctx, e)
	require.NoError(t, err)
	require.Equal(t, ScheduleArmed, ret)

	// Second removal finds nothing; not an error.
	ret, err = f.coord.UnscheduleEmail(ctx, e)
	require.NoError(t, err)
	require.Equal(t, ScheduleNone, ret)
}
