package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostwatch/internal/reminder"
	logx "hostwatch/pkg/logx"
)

func openTestSQLite(t *testing.T) Store {
	t.Helper()
	st, err := Open(context.Background(), Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "hostwatch.db"),
	}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustDate(t *testing.T, s string) reminder.Date {
	t.Helper()
	d, err := reminder.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, openTestSQLite(t))
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hostwatch.db")
	ctx := context.Background()

	st, err := Open(ctx, Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	created, err := st.Create(ctx, NewSubscription{Name: "keep", ExpiresAt: mustDate(t, "2026-12-01")})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(ctx, Config{Path: path}, logx.Nop())
	require.NoError(t, err, "re-running migrations must be a no-op")
	defer st.Close()
	got, err := st.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "keep", got.Name)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)
	_, err = Open(context.Background(), Config{Driver: "none"}, logx.Nop())
	require.ErrorIs(t, err, ErrDisabled)
}

// runStoreSuite exercises the Store contract; every driver must pass it.
func runStoreSuite(t *testing.T, st Store) {
	ctx := context.Background()
	today := mustDate(t, "2026-10-19")

	t.Run("create validates", func(t *testing.T) {
		_, err := st.Create(ctx, NewSubscription{Name: "", ExpiresAt: today})
		require.ErrorIs(t, err, ErrInvalid)
		_, err = st.Create(ctx, NewSubscription{Name: "x", URL: "not a url", ExpiresAt: today})
		require.ErrorIs(t, err, ErrInvalid)
		assert.Contains(t, err.Error(), "url")
		_, err = st.Create(ctx, NewSubscription{Name: "x"})
		require.ErrorIs(t, err, ErrInvalid)
	})

	acme, err := st.Create(ctx, NewSubscription{
		Name: "  acme.id ", URL: "https://acme.id", Brand: "  Niaga   Hoster ", ExpiresAt: today.AddDays(3),
	})
	require.NoError(t, err)
	assert.NotZero(t, acme.ID)
	assert.Equal(t, "acme.id", acme.Name)
	assert.Equal(t, "Niaga Hoster", acme.Brand)
	assert.Equal(t, today.AddDays(3), acme.ExpiresAt)
	assert.False(t, acme.HasReminderState())

	soon, err := st.Create(ctx, NewSubscription{Name: "soon.net", ExpiresAt: today.AddDays(1)})
	require.NoError(t, err)
	late, err := st.Create(ctx, NewSubscription{Name: "late.org", ExpiresAt: today.AddDays(-2)})
	require.NoError(t, err)
	far, err := st.Create(ctx, NewSubscription{Name: "far.com", ExpiresAt: today.AddDays(90)})
	require.NoError(t, err)

	t.Run("list ordered by expiry", func(t *testing.T) {
		subs, err := st.ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, subs, 4)
		assert.Equal(t, []int64{late.ID, soon.ID, acme.ID, far.ID}, ids(subs))
	})

	t.Run("list by stage", func(t *testing.T) {
		cases := map[reminder.Stage][]int64{
			reminder.StageH3:        {acme.ID},
			reminder.StageH2:        nil,
			reminder.StageH1:        {soon.ID},
			reminder.StageH0:        {late.ID},
			reminder.StageFarFuture: {far.ID},
			reminder.StageNone:      nil,
		}
		for stage, want := range cases {
			got, err := st.ListByStage(ctx, today, stage, 20)
			require.NoError(t, err, stage)
			assert.Equal(t, want, ids(got), stage)
		}
		_, err := st.ListByStage(ctx, today, "h9", 20)
		require.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("record reminder is conditional", func(t *testing.T) {
		at := time.Date(2026, 10, 19, 1, 0, 0, 0, time.UTC)
		ok, err := st.RecordReminder(ctx, acme.ID, reminder.StageH3, acme.ExpiresAt, 2, at)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = st.RecordReminder(ctx, acme.ID, reminder.StageH3, acme.ExpiresAt, 2, at.Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = st.RecordReminder(ctx, acme.ID, reminder.StageH3, acme.ExpiresAt, 2, at.Add(2*time.Hour))
		require.NoError(t, err)
		assert.False(t, ok, "cap reached")
		ok, err = st.RecordReminder(ctx, acme.ID, reminder.StageH3, today, 2, at)
		require.NoError(t, err)
		assert.False(t, ok, "stale expiry")

		got, err := st.Get(ctx, acme.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.CountH3)
		assert.Equal(t, reminder.StageH3, got.LastNotifiedStage)
		require.NotNil(t, got.LastNotifiedAt)
		assert.True(t, got.LastNotifiedAt.Equal(at.Add(time.Hour)))

		_, err = st.RecordReminder(ctx, acme.ID, reminder.StageFarFuture, acme.ExpiresAt, 2, at)
		require.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("reset reminders", func(t *testing.T) {
		ok, err := st.ResetReminders(ctx, acme.ID, today)
		require.NoError(t, err)
		assert.False(t, ok, "stale expiry")
		ok, err = st.ResetReminders(ctx, acme.ID, acme.ExpiresAt)
		require.NoError(t, err)
		assert.True(t, ok)
		got, err := st.Get(ctx, acme.ID)
		require.NoError(t, err)
		assert.False(t, got.HasReminderState())
	})

	t.Run("update expiry keeps counters", func(t *testing.T) {
		_, err := st.RecordReminder(ctx, soon.ID, reminder.StageH1, soon.ExpiresAt, 5, time.Now())
		require.NoError(t, err)
		require.NoError(t, st.UpdateExpiry(ctx, soon.ID, today.AddDays(365)))
		got, err := st.Get(ctx, soon.ID)
		require.NoError(t, err)
		assert.Equal(t, today.AddDays(365), got.ExpiresAt)
		assert.Equal(t, 5, got.CountH1)
		assert.True(t, got.HasReminderState())
		assert.ErrorIs(t, st.UpdateExpiry(ctx, 99999, today), ErrNotFound)
	})

	t.Run("update patch", func(t *testing.T) {
		brand := "Rumahweb"
		got, err := st.Update(ctx, far.ID, Patch{Brand: &brand})
		require.NoError(t, err)
		assert.Equal(t, "Rumahweb", got.Brand)
		assert.Equal(t, "far.com", got.Name)

		empty := ""
		_, err = st.Update(ctx, far.ID, Patch{Name: &empty})
		require.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("archive hides from active", func(t *testing.T) {
		require.NoError(t, st.SetArchived(ctx, late.ID, true))
		active, err := st.ListActive(ctx)
		require.NoError(t, err)
		assert.NotContains(t, ids(active), late.ID)

		all, err := st.List(ctx, true)
		require.NoError(t, err)
		assert.Contains(t, ids(all), late.ID)

		ok, err := st.RecordReminder(ctx, late.ID, reminder.StageH0, late.ExpiresAt, 8, time.Now())
		require.NoError(t, err)
		assert.False(t, ok, "archived rows are never reminded")

		require.NoError(t, st.SetArchived(ctx, late.ID, false))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, st.Delete(ctx, late.ID))
		_, err := st.Get(ctx, late.ID)
		require.ErrorIs(t, err, ErrNotFound)
		require.ErrorIs(t, st.Delete(ctx, late.ID), ErrNotFound)
	})

	t.Run("audit and ping", func(t *testing.T) {
		require.NoError(t, st.AppendAudit(ctx, AuditEntry{
			ActorID: 42, ActorUsername: "owner", ChatID: -100, Command: "renew", Target: "1", OK: true, TookMS: 12,
		}))
		require.NoError(t, st.Ping(ctx))
	})
}

func ids(subs []reminder.Subscription) []int64 {
	if len(subs) == 0 {
		return nil
	}
	out := make([]int64, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.ID)
	}
	return out
}

func TestStageBounds(t *testing.T) {
	today := mustDate(t, "2026-10-19")
	from, to, err := stageBounds(today, reminder.StageNone, 20)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-23", from.String())
	assert.Equal(t, "2026-11-08", to.String())

	from, to, err = stageBounds(today, reminder.StageH0, 20)
	require.NoError(t, err)
	assert.True(t, from.IsZero())
	assert.Equal(t, today, to)
}

func TestPgx5URL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/x?sslmode=disable", pgx5URL("postgres://u:p@db:5432/x?sslmode=disable"))
	assert.Equal(t, "pgx5://db/x", pgx5URL("postgresql://db/x"))
}
