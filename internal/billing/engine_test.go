package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"schedbill/internal/docstore"
)

func (f *fixture) saveInvoice(t *testing.T, inv docstore.Invoice) docstore.Invoice {
	t.Helper()
	require.NoError(t, f.docs.SaveInvoice(context.Background(), &inv))
	return inv
}

func TestGenerateInvoiceRearmsPeriodic(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	inv := f.saveInvoice(t, docstore.Invoice{Reference: "F1", Periodicity: 3600})

	events, unsub := f.bus.SubscribeType("invoice.generated", 4)
	defer unsub()

	before := time.Now().Unix()
	require.NoError(t, f.engine.GenerateInvoice(ctx, inv.ID))
	after := time.Now().Unix()

	j, ok, err := f.sched.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ActionGenerateInvoice, j.Action)
	require.True(t, j.Recurring)
	require.GreaterOrEqual(t, j.RunAt, before+3600)
	require.LessOrEqual(t, j.RunAt, after+3600)

	select {
	case ev := <-events:
		rec, isRecord := ev.Data.(InvoiceGenerated)
		require.True(t, isRecord)
		require.Equal(t, "F1", rec.Reference)
	case <-time.After(time.Second):
		t.Fatal("no invoice.generated event published")
	}
}

func TestGenerateInvoiceOneShotLeavesNoJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	inv := f.saveInvoice(t, docstore.Invoice{Reference: "F2", Periodicity: 0})

	// A stale trigger under the invoice id must not survive generation.
	require.NoError(t, f.sched.AddOrReplace(ctx, inv.ID, time.Now().Add(time.Hour), ActionGenerateInvoice, true))

	require.NoError(t, f.engine.GenerateInvoice(ctx, inv.ID))

	_, ok, err := f.sched.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGenerateInvoiceNotifyImmediate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	recipient := f.saveUser(t, "carol@example.com")
	inv := f.saveInvoice(t, docstore.Invoice{
		Reference: "F3",
		Recipient: recipient.ID,
		Notify:    true,
		NotifyAt:  -1,
	})

	require.NoError(t, f.engine.GenerateInvoice(ctx, inv.ID))

	// Immediate notification sends synchronously: no pending job anywhere.
	due, err := f.jobs.DueBefore(ctx, time.Now().Add(48*time.Hour))
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestGenerateInvoiceNotifySameDay(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	recipient := f.saveUser(t, "dave@example.com")
	inv := f.saveInvoice(t, docstore.Invoice{
		Reference: "F4",
		Recipient: recipient.ID,
		Notify:    true,
		NotifyAt:  3600, // 01:00 local
	})

	require.NoError(t, f.engine.GenerateInvoice(ctx, inv.ID))

	due, err := f.jobs.DueBefore(ctx, time.Now().Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, ActionSendEmail, due[0].Action)

	// The armed send time is today's local midnight plus the offset.
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	require.Equal(t, midnight.Unix()+3600, due[0].RunAt)
}

func TestGenerateInvoiceMissingInvoiceAborts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	ghost := docstore.NewID()
	require.NoError(t, f.sched.AddOrReplace(ctx, ghost, time.Now().Add(time.Hour), ActionGenerateInvoice, true))

	require.ErrorIs(t, f.engine.GenerateInvoice(ctx, ghost), docstore.ErrNotFound)

	// Aborting before the removal step leaves the job untouched.
	_, ok, err := f.sched.Get(ctx, ghost)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGenerateInvoiceMissingRecipientFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	inv := f.saveInvoice(t, docstore.Invoice{
		Reference: "F5",
		Recipient: docstore.NewID(),
		Notify:    true,
		NotifyAt:  -1,
	})
	require.ErrorIs(t, f.engine.GenerateInvoice(ctx, inv.ID), docstore.ErrNotFound)
}

func TestInvoiceDeleteUnschedules(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	inv := f.saveInvoice(t, docstore.Invoice{Reference: "F6", Periodicity: 3600})
	require.NoError(t, f.sched.AddOrReplace(ctx, inv.ID, time.Now().Add(time.Hour), ActionGenerateInvoice, true))

	require.NoError(t, f.invoices.Delete(ctx, inv.ID))

	_, ok, err := f.sched.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.False(t, ok)
	_, err = f.invoices.Find(ctx, inv.ID)
	require.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestRecurrenceSelfRearmsThroughScheduler(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.sched.Start(ctx)

	inv := f.saveInvoice(t, docstore.Invoice{Reference: "F7", Periodicity: 3600})
	require.NoError(t, f.sched.AddOrReplace(ctx, inv.ID, time.Now().Add(-time.Second), ActionGenerateInvoice, true))

	// The firing consumes the row, then the engine re-arms under the same id
	// with a future run time.
	waitFor(t, "recurrence re-arm", func() bool {
		j, ok, err := f.sched.Get(ctx, inv.ID)
		return err == nil && ok && j.RunAt > time.Now().Unix()+3000
	})
}
