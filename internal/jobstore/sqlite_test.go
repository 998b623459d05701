package jobstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "schedbill/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "jobs.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{}, logx.Nop())
	require.Error(t, err)
}

func TestUpsertReplaceSemantics(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	replaced, err := st.Upsert(ctx, Job{ID: "a", RunAt: 100, Action: "email.send"})
	require.NoError(t, err)
	require.False(t, replaced)

	// Same id again: replaced, never duplicated.
	replaced, err = st.Upsert(ctx, Job{ID: "a", RunAt: 200, Action: "email.send"})
	require.NoError(t, err)
	require.True(t, replaced)

	j, ok, err := st.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(200), j.RunAt)

	due, err := st.DueBefore(ctx, time.Unix(1000, 0))
	require.NoError(t, err)
	require.Len(t, due, 1)
}

func TestDeleteReportsPresence(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.Upsert(ctx, Job{ID: "gone", RunAt: 1, Action: "x"})
	require.NoError(t, err)

	removed, err := st.Delete(ctx, "gone")
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = st.Delete(ctx, "gone")
	require.NoError(t, err)
	require.False(t, removed)

	_, ok, err := st.Get(ctx, "gone")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDueBeforeOrdersByRunAt(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for _, j := range []Job{
		{ID: "late", RunAt: 300, Action: "x"},
		{ID: "early", RunAt: 100, Action: "x", Recurring: true},
		{ID: "future", RunAt: 900, Action: "x"},
	} {
		_, err := st.Upsert(ctx, j)
		require.NoError(t, err)
	}

	due, err := st.DueBefore(ctx, time.Unix(500, 0))
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, "early", due[0].ID)
	require.True(t, due[0].Recurring)
	require.Equal(t, "late", due[1].ID)
}

func TestRunHistoryAppendAndPrune(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, st.AppendRun(ctx, Run{JobID: "old", Action: "x", Started: now.Add(-2 * time.Hour)}))
	require.NoError(t, st.AppendRun(ctx, Run{JobID: "new", Action: "x", Started: now, Duration: 10 * time.Millisecond, Error: "boom"}))

	n, err := st.PruneRuns(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = st.PruneRuns(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)
}
