package docstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	logx "schedbill/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "docs.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestUserLifecycle(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	u := User{EmailAddress: "ada@example.com", FirstName: "Ada", LastName: "Lovelace"}
	require.NoError(t, st.SaveUser(ctx, &u))
	require.NotEmpty(t, u.ID)

	got, err := st.FindUser(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", got.EmailAddress)

	got, err = st.FindUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	u.FirstName = "Augusta"
	require.NoError(t, st.SaveUser(ctx, &u))
	got, err = st.FindUser(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "Augusta", got.FirstName)

	require.NoError(t, st.DeleteUser(ctx, u.ID))
	_, err = st.FindUser(ctx, u.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, st.DeleteUser(ctx, u.ID), ErrNotFound)
}

func TestInvalidIDsRejectedBeforeStore(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.FindEmail(ctx, "not-a-uuid")
	require.ErrorIs(t, err, ErrInvalidID)

	_, err = st.FindInvoice(ctx, "")
	require.ErrorIs(t, err, ErrInvalidID)

	e := Email{ID: "still-not-a-uuid"}
	require.ErrorIs(t, st.SaveEmail(ctx, &e), ErrInvalidID)
}

func TestEmailSaveAssignsAndKeepsID(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	e := Email{Recipient: "bob@example.com", Title: "hi", Content: "there", SendAt: 123}
	require.NoError(t, st.SaveEmail(ctx, &e))
	require.NoError(t, ValidateID(e.ID))

	e.SendAt = 0
	require.NoError(t, st.SaveEmail(ctx, &e))

	got, err := st.FindEmail(ctx, e.ID)
	require.NoError(t, err)
	require.Zero(t, got.SendAt)
	require.Equal(t, "hi", got.Title)
}

func TestInvoiceRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	inv := Invoice{Reference: "F20170028", Periodicity: 3600, Notify: true, NotifyAt: -1}
	require.NoError(t, st.SaveInvoice(ctx, &inv))

	got, err := st.FindInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, "F20170028", got.Reference)
	require.True(t, got.Notify)
	require.Equal(t, int64(-1), got.NotifyAt)

	require.NoError(t, st.DeleteInvoice(ctx, inv.ID))
	_, err = st.FindInvoice(ctx, inv.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
