package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostwatch/internal/commands"
	"hostwatch/internal/config"
	"hostwatch/internal/observability"
	"hostwatch/internal/reminder"
	"hostwatch/internal/task/engine"
	"hostwatch/internal/task/scheduler"
	kit "hostwatch/internal/transport"
	logx "hostwatch/pkg/logx"
	"hostwatch/pkg/tgui"
)

func baseConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "t", ChatID: -100123},
		Logging:  config.LoggingConfig{Level: "info"},
	}
}

func TestMapDefaults(t *testing.T) {
	cfg := baseConfig()
	require.NoError(t, validate(cfg))

	sc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, defaultSQLitePath, sc.Path)
	assert.Equal(t, defaultBusyTimeout, sc.BusyTimeout)

	nc, err := mapNotifierConfig(cfg)
	require.NoError(t, err)
	assert.True(t, nc.Enabled)
	assert.Equal(t, defaultSendTimeout, nc.SendTimeout)
	assert.Equal(t, defaultNotifierQueue, nc.QueueSize)

	ec, err := mapEngineConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Jakarta", ec.Location.String())
	assert.Equal(t, reminder.DefaultRenewalThreshold, ec.RenewalThreshold)
	assert.True(t, ec.Spacing)
	assert.Equal(t, 8, ec.Cadence.Max(reminder.StageH0))

	te, err := mapTaskEngineConfig(cfg)
	require.NoError(t, err)
	assert.True(t, te.Enabled)

	oc, err := mapObservabilityConfig(cfg)
	require.NoError(t, err)
	assert.False(t, oc.Enabled)
	assert.Equal(t, observability.DefaultAddr, oc.Addr)

	assert.Equal(t, jobPlan{Interval: "10m", DigestAt: "09:00"}, mapJobs(cfg))
	assert.Equal(t, scheduler.Config{Timezone: config.DefaultTimezone}, mapSchedulerConfig(cfg))
}

func TestMapReminderOverrides(t *testing.T) {
	cfg := baseConfig()
	off := false
	cfg.Scheduler.Timezone = "UTC"
	cfg.Reminder = config.ReminderConfig{
		Enabled:              true,
		Interval:             "5m",
		RenewalThresholdDays: 30,
		Spacing:              &off,
		SendTimeout:          "7s",
		MaxAttempts:          map[string]int{"H1": 4},
	}
	require.NoError(t, validate(cfg))

	ec, err := mapEngineConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, time.UTC.String(), ec.Location.String())
	assert.Equal(t, 30, ec.RenewalThreshold)
	assert.False(t, ec.Spacing)
	assert.Equal(t, 7*time.Second, ec.SendTimeout)
	assert.Equal(t, 4, ec.Cadence.Max(reminder.StageH1))
	assert.Equal(t, 3, ec.Cadence.Max(reminder.StageH2))

	assert.Equal(t, jobPlan{Sweep: true, Interval: "5m", DigestAt: "09:00"}, mapJobs(cfg))
}

func TestMapStorage(t *testing.T) {
	cfg := baseConfig()
	cfg.Storage = config.StorageConfig{Driver: "postgres"}
	_, err := mapStorageConfig(cfg)
	assert.Error(t, err)

	cfg.Storage.DSN = "postgres://u:p@db/hostwatch"
	cfg.Storage.MaxConns = 4
	sc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "postgres", sc.Driver)
	assert.Equal(t, int32(4), sc.MaxConns)

	cfg.Storage = config.StorageConfig{Driver: "mongo"}
	_, err = mapStorageConfig(cfg)
	assert.Error(t, err)
}

func TestMapNotifier(t *testing.T) {
	cfg := baseConfig()
	cfg.Notifier = &config.NotifierConfig{Enabled: true, Workers: 3, RetryBase: "2s", RetryMaxDelay: "1s"}
	_, err := mapNotifierConfig(cfg)
	assert.Error(t, err)
	assert.Error(t, validate(cfg))

	cfg.Notifier.RetryMaxDelay = "30s"
	nc, err := mapNotifierConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, nc.Workers)
	assert.Equal(t, 2*time.Second, nc.RetryBase)
	assert.Equal(t, defaultNotifierRate, nc.RatePerSec)
}

func TestLogTarget(t *testing.T) {
	cfg := baseConfig()
	chat, thread := logTarget(cfg)
	assert.Zero(t, chat)
	assert.Zero(t, thread)

	cfg.Telegram.GroupLog = "-100999:7"
	chat, thread = logTarget(cfg)
	assert.Equal(t, int64(-100999), chat)
	assert.Equal(t, 7, thread)

	cfg.Logging.Telegram.ThreadID = 9
	_, thread = logTarget(cfg)
	assert.Equal(t, 9, thread)
}

func TestValidateRejectsBadInterval(t *testing.T) {
	cfg := baseConfig()
	cfg.Reminder.Interval = "ten minutes"
	assert.Error(t, validate(cfg))
}

type captureDeliverer struct {
	mu   sync.Mutex
	got  []kit.Notification
	fail error
}

func (c *captureDeliverer) Deliver(_ context.Context, n kit.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
	return c.fail
}

func TestChatSender(t *testing.T) {
	out := &captureDeliverer{}
	s := newChatSender(out, kit.ChatTarget{})

	var body tgui.Doc
	body.Add(tgui.B("example.com"))
	msg := reminder.Message{Kind: reminder.KindReminder, Key: "sub:1:h1:1", Body: body}

	require.ErrorIs(t, s.Send(context.Background(), msg), errNoChat)
	assert.Empty(t, out.got)

	s.SetTarget(kit.ChatTarget{ChatID: -100123, ThreadID: 5})
	require.NoError(t, s.Send(context.Background(), msg))
	require.Len(t, out.got, 1)
	n := out.got[0]
	assert.Equal(t, reminder.KindReminder, n.Kind)
	assert.Equal(t, "sub:1:h1:1", n.Key)
	assert.Equal(t, kit.ChatTarget{ChatID: -100123, ThreadID: 5}, n.Target)
	assert.Equal(t, "<b>example.com</b>", n.Text)
	require.NotNil(t, n.Options)
	assert.Equal(t, kit.ParseModeHTML, n.Options.ParseMode)
	assert.True(t, n.Options.DisablePreview)

	out.fail = errors.New("telegram down")
	assert.ErrorContains(t, s.Send(context.Background(), msg), "telegram down")
}

type fakeSweeper struct {
	mu       sync.Mutex
	triggers []string
	err      error
}

func (f *fakeSweeper) Sweep(_ context.Context, trigger string) (reminder.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trigger)
	return reminder.Report{Trigger: trigger}, f.err
}

type fakeDigester struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeDigester) Send(context.Context) (reminder.DigestReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return reminder.DigestReport{}, f.err
}

func newTestJobs(t *testing.T) (*jobs, *scheduler.Service, *fakeSweeper, *fakeDigester) {
	t.Helper()
	eng := engine.New(engine.Config{Enabled: true, Workers: 1, RetryMax: 2}, logx.Nop(), nil)
	eng.Start(context.Background())
	sched := scheduler.New(scheduler.Config{Enabled: false, Timezone: "Asia/Jakarta"}, eng, logx.Nop(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		sched.Stop(ctx)
		eng.Stop(ctx)
	})
	sw, dg := &fakeSweeper{}, &fakeDigester{}
	return newJobs(sched, sw, dg, logx.Nop()), sched, sw, dg
}

func scheduleNames(s *scheduler.Service) []string {
	var out []string
	for _, si := range s.Snapshot().Schedules {
		out = append(out, si.Name)
	}
	return out
}

func TestJobsApplyFollowsConfig(t *testing.T) {
	j, sched, _, _ := newTestJobs(t)

	require.NoError(t, j.Apply(jobPlan{Interval: "10m", DigestAt: "09:00"}))
	assert.Empty(t, scheduleNames(sched))

	require.NoError(t, j.Apply(jobPlan{Sweep: true, Interval: "10m", Digest: true, DigestAt: "09:00"}))
	assert.ElementsMatch(t, []string{commands.SweepJob, commands.DigestJob}, scheduleNames(sched))

	require.NoError(t, j.Apply(jobPlan{Sweep: true, Interval: "10m", DigestAt: "09:00"}))
	assert.Equal(t, []string{commands.SweepJob}, scheduleNames(sched))

	assert.Error(t, j.Apply(jobPlan{Sweep: true, Interval: "10m", Digest: true, DigestAt: "25:99"}))
}

func TestSweepJobRunsManualAndSkipsRetry(t *testing.T) {
	j, sched, sw, _ := newTestJobs(t)
	require.NoError(t, j.Apply(jobPlan{Sweep: true, Interval: "10m", DigestAt: "09:00"}))

	require.NoError(t, sched.RunNow(context.Background(), commands.SweepJob))
	sw.mu.Lock()
	sw.err = reminder.ErrSweepRunning
	sw.mu.Unlock()
	assert.ErrorIs(t, sched.RunNow(context.Background(), commands.SweepJob), reminder.ErrSweepRunning)

	sw.mu.Lock()
	defer sw.mu.Unlock()
	assert.Equal(t, []string{scheduler.TriggerManual, scheduler.TriggerManual}, sw.triggers)
}

func TestDigestJobNeverRetries(t *testing.T) {
	j, sched, _, dg := newTestJobs(t)
	require.NoError(t, j.Apply(jobPlan{Interval: "10m", Digest: true, DigestAt: "09:00"}))

	dg.err = errors.New("segment 2/3 failed")
	assert.Error(t, sched.RunNow(context.Background(), commands.DigestJob))
	dg.mu.Lock()
	defer dg.mu.Unlock()
	assert.Equal(t, 1, dg.calls)
}
