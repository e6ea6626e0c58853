package commands

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostwatch/internal/reminder"
	"hostwatch/internal/storage"
	"hostwatch/internal/task/engine"
	"hostwatch/internal/task/scheduler"
	kit "hostwatch/internal/transport"
	"hostwatch/internal/transport/telegram/router"
	logx "hostwatch/pkg/logx"
)

type replies struct {
	mu   sync.Mutex
	text []string
}

func (r *replies) Notify(_ context.Context, n kit.Notification) error {
	r.mu.Lock()
	r.text = append(r.text, n.Text)
	r.mu.Unlock()
	return nil
}

func (r *replies) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.text) == 0 {
		return ""
	}
	return r.text[len(r.text)-1]
}

type fakeRunner struct {
	runErr error
	ran    []string
	kicked []string
}

func (f *fakeRunner) RunNow(_ context.Context, name string) error {
	f.ran = append(f.ran, name)
	return f.runErr
}

func (f *fakeRunner) Kick(name string) error {
	f.kicked = append(f.kicked, name)
	return nil
}

type fixedReport reminder.Report

func (r fixedReport) LastReport() (reminder.Report, bool) { return reminder.Report(r), r.RunID != "" }

var jakarta = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		panic(err)
	}
	return loc
}()

type fixture struct {
	deps  Deps
	store storage.Store
	jobs  *fakeRunner
	out   *replies
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "hostwatch.db"),
	}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	jobs := &fakeRunner{}
	return &fixture{
		store: st,
		jobs:  jobs,
		out:   &replies{},
		deps: Deps{
			Store:            st,
			Jobs:             jobs,
			Location:         jakarta,
			RenewalThreshold: 20,
			Now:              func() time.Time { return time.Date(2026, 10, 19, 8, 0, 0, 0, jakarta) },
		},
	}
}

// run dispatches text to the matching command handler like the router would.
func (f *fixture) run(t *testing.T, text string) (*router.Request, error) {
	t.Helper()
	req, ok := router.NewRequest(kit.Message{ChatID: -100, FromID: 42, Text: text}, f.out)
	require.True(t, ok)
	for _, c := range Commands(f.deps) {
		if c.Name == req.Command {
			return req, c.Handle(context.Background(), req)
		}
	}
	t.Fatalf("no command %q", req.Command)
	return nil, nil
}

func (f *fixture) create(t *testing.T, name, expires string) reminder.Subscription {
	t.Helper()
	d, err := reminder.ParseDate(expires)
	require.NoError(t, err)
	sub, err := f.store.Create(context.Background(), storage.NewSubscription{Name: name, ExpiresAt: d})
	require.NoError(t, err)
	return sub
}

func TestAddCreatesAndKicksSweep(t *testing.T) {
	f := newFixture(t)
	req, err := f.run(t, "/add Acme Hosting | https://acme.id | 2026-10-22 | niagahoster")
	require.NoError(t, err)

	list, err := f.store.List(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Acme Hosting", list[0].Name)
	assert.Equal(t, "https://acme.id", list[0].URL)
	assert.Equal(t, "niagahoster", list[0].Brand)
	assert.Equal(t, "2026-10-22", list[0].ExpiresAt.String())

	assert.Equal(t, idTarget(list[0].ID), req.Target)
	assert.Equal(t, []string{SweepJob}, f.jobs.kicked)
	assert.Contains(t, f.out.last(), "ditambahkan")
	assert.Contains(t, f.out.last(), "3 hari lagi")
	assert.Contains(t, f.out.last(), "NIAGAHOSTER")
}

func TestAddRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "/add only a name")
	require.ErrorIs(t, err, errUsage)
	assert.Contains(t, f.out.last(), "Usage")

	_, err = f.run(t, "/add Acme | | 22-10-2026")
	require.ErrorIs(t, err, errUsage)

	_, err = f.run(t, "/add Acme | not a url | 2026-10-22")
	require.ErrorIs(t, err, storage.ErrInvalid)
	assert.Contains(t, f.out.last(), "url must be an absolute URL")

	assert.Empty(t, f.jobs.kicked)
}

// sweep runs one reminder pass over the fixture store at the fixture clock.
func (f *fixture) sweep(t *testing.T) (reminder.Report, int) {
	t.Helper()
	sends := 0
	eng := reminder.NewEngine(reminder.EngineConfig{
		Location:         jakarta,
		RenewalThreshold: f.deps.RenewalThreshold,
	}, f.store, reminder.SenderFunc(func(context.Context, reminder.Message) error {
		sends++
		return nil
	}), reminder.WithClock(f.deps.Now))
	rep, err := eng.Sweep(context.Background(), "test")
	require.NoError(t, err)
	return rep, sends
}

func TestRenewKeepsCountersUntilSweep(t *testing.T) {
	tests := []struct {
		name      string
		renewTo   string
		wantReset bool
	}{
		{name: "beyond threshold resets on sweep", renewTo: "2027-10-20", wantReset: true},
		{name: "same date stays capped", renewTo: "2026-10-20"},
		{name: "exactly threshold days out keeps counters", renewTo: "2026-11-08"},
		{name: "one day past threshold resets", renewTo: "2026-11-09", wantReset: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			sub := f.create(t, "Acme", "2026-10-20")
			for i := 0; i < 5; i++ {
				applied, err := f.store.RecordReminder(ctx, sub.ID, reminder.StageH1, sub.ExpiresAt, 5, time.Now())
				require.NoError(t, err)
				require.True(t, applied)
			}

			req, err := f.run(t, "/renew #"+itoa(sub.ID)+" "+tc.renewTo)
			require.NoError(t, err)
			assert.Equal(t, idTarget(sub.ID), req.Target)
			assert.Contains(t, f.out.last(), "diperpanjang sampai "+tc.renewTo)

			got, err := f.store.Get(ctx, sub.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.renewTo, got.ExpiresAt.String())
			assert.Equal(t, 5, got.CountH1, "renew alone never touches counters")

			rep, sends := f.sweep(t)
			assert.Zero(t, sends)
			got, err = f.store.Get(ctx, sub.ID)
			require.NoError(t, err)
			if tc.wantReset {
				assert.Equal(t, 1, rep.Reset)
				assert.False(t, got.HasReminderState())
				return
			}
			assert.Zero(t, rep.Reset)
			assert.Equal(t, 5, got.CountH1)
		})
	}
}

func TestRenewErrors(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "/renew 99 2027-01-01")
	require.ErrorIs(t, err, storage.ErrNotFound)
	assert.Contains(t, f.out.last(), "tidak ditemukan")

	_, err = f.run(t, "/renew abc 2027-01-01")
	require.ErrorIs(t, err, errUsage)
	_, err = f.run(t, "/renew 1")
	require.ErrorIs(t, err, errUsage)
}

func TestArchiveUnarchiveDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.create(t, "Acme", "2026-12-01")
	id := itoa(sub.ID)

	_, err := f.run(t, "/archive "+id)
	require.NoError(t, err)
	active, err := f.store.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = f.run(t, "/subs")
	require.NoError(t, err)
	assert.Contains(t, f.out.last(), "Belum ada subscription")
	_, err = f.run(t, "/subs all")
	require.NoError(t, err)
	assert.Contains(t, f.out.last(), "📦")

	_, err = f.run(t, "/unarchive "+id)
	require.NoError(t, err)
	assert.Contains(t, f.out.last(), "aktif lagi")

	_, err = f.run(t, "/delete "+id)
	require.NoError(t, err)
	_, err = f.store.Get(ctx, sub.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.run(t, "/delete "+id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEditKeepsSpacesInValue(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t, "Acme", "2026-12-01")

	_, err := f.run(t, "/edit "+itoa(sub.ID)+" name   Acme  Main Site ")
	require.NoError(t, err)
	got, err := f.store.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme  Main Site", got.Name)

	_, err = f.run(t, "/edit "+itoa(sub.ID)+" price 10")
	assert.ErrorIs(t, err, errUsage)
}

func TestSubsListsWithCounters(t *testing.T) {
	f := newFixture(t)
	f.create(t, "Later", "2027-01-01")
	f.create(t, "Soon", "2026-10-20")

	_, err := f.run(t, "/subs")
	require.NoError(t, err)
	out := f.out.last()
	assert.Contains(t, out, "Subscription (2)")
	assert.Contains(t, out, "h3:0 h2:0 h1:0 h0:0")
	assert.Less(t, strings.Index(out, "Soon"), strings.Index(out, "Later"))
	assert.Contains(t, out, "🔴 H-1")
}

func TestDueGroupsByStage(t *testing.T) {
	f := newFixture(t)
	f.create(t, "Three", "2026-10-22")
	f.create(t, "One", "2026-10-20")
	f.create(t, "Overdue", "2026-10-10")
	f.create(t, "Ten", "2026-10-29")

	_, err := f.run(t, "/due")
	require.NoError(t, err)
	out := f.out.last()
	assert.Contains(t, out, "Three")
	assert.Contains(t, out, "One")
	assert.Contains(t, out, "Overdue")
	assert.NotContains(t, out, "Ten")
	assert.Less(t, strings.Index(out, "Three"), strings.Index(out, "One"))
	assert.Less(t, strings.Index(out, "One"), strings.Index(out, "Overdue"))
}

func TestRemindReportsSweep(t *testing.T) {
	f := newFixture(t)
	f.deps.Sweeps = fixedReport{RunID: "0123456789", Trigger: scheduler.TriggerManual, Evaluated: 4, Sent: 2}

	_, err := f.run(t, "/remind")
	require.NoError(t, err)
	assert.Equal(t, []string{SweepJob}, f.jobs.ran)
	assert.Contains(t, f.out.last(), "sent=2")
	assert.Contains(t, f.out.last(), "01234567")

	f.jobs.runErr = engine.ErrOverlapSkip
	_, err = f.run(t, "/remind")
	require.NoError(t, err)
	assert.Contains(t, f.out.last(), "sedang berjalan")

	f.jobs.runErr = errors.New("boom")
	_, err = f.run(t, "/remind")
	require.Error(t, err)
	assert.Contains(t, f.out.last(), "gagal: boom")
}

func TestDigestCommand(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "/digest")
	require.NoError(t, err)
	assert.Equal(t, []string{DigestJob}, f.jobs.ran)
	assert.Contains(t, f.out.last(), "digest terkirim")

	f.jobs.runErr = scheduler.ErrUnknownSchedule
	_, err = f.run(t, "/digest")
	require.NoError(t, err)
	assert.Contains(t, f.out.last(), "digest nonaktif")
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.deps.Sweeps = fixedReport{}
	_, err := f.run(t, "/status")
	require.NoError(t, err)
	out := f.out.last()
	assert.Contains(t, out, "storage: <code>ok</code>")
	assert.Contains(t, out, "belum ada sweep")
}

type auditStore struct {
	storage.Store
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (a *auditStore) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
	return nil
}

func TestAuditRecordsOutcome(t *testing.T) {
	st := &auditStore{}
	fn := Audit(st, logx.Nop())
	req, ok := router.NewRequest(kit.Message{ChatID: -100, ThreadID: 3, FromID: 42, FromUsername: "ops", Text: "/delete 7"}, nil)
	require.True(t, ok)
	req.Target = "#7"

	fn(context.Background(), req, storage.ErrNotFound, 12*time.Millisecond)
	require.Len(t, st.entries, 1)
	e := st.entries[0]
	assert.Equal(t, "delete", e.Command)
	assert.Equal(t, "#7", e.Target)
	assert.Equal(t, int64(42), e.ActorID)
	assert.Equal(t, "ops", e.ActorUsername)
	assert.Equal(t, 3, e.ThreadID)
	assert.False(t, e.OK)
	assert.Equal(t, storage.ErrNotFound.Error(), e.Error)
	assert.Equal(t, int64(12), e.TookMS)
}

func TestParseAdd(t *testing.T) {
	in, err := parseAdd(" Acme |  | 2026-10-22 ")
	require.NoError(t, err)
	assert.Equal(t, "Acme", in.Name)
	assert.Empty(t, in.URL)
	assert.Empty(t, in.Brand)

	_, err = parseAdd("a | b | c | d | e")
	assert.ErrorIs(t, err, errUsage)
	_, err = parseAdd(" | x | 2026-10-22")
	assert.ErrorIs(t, err, errUsage)
}

func TestAfterWords(t *testing.T) {
	assert.Equal(t, "c d", afterWords(" a  b   c d ", 2))
	assert.Equal(t, "", afterWords("a b", 2))
	assert.Equal(t, "", afterWords("a", 2))
}

func itoa(id int64) string { return idTarget(id)[1:] }

