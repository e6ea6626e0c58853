package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostwatch/internal/task/engine"
	logx "hostwatch/pkg/logx"
)

func newScheduler(t *testing.T, start bool) *Service {
	t.Helper()
	eng := engine.New(engine.Config{Enabled: true, Workers: 1}, logx.Nop(), nil)
	eng.Start(context.Background())
	s := New(Config{Enabled: true, Timezone: "Asia/Jakarta"}, eng, logx.Nop(), nil)
	if start {
		s.Start(context.Background())
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
		eng.Stop(ctx)
	})
	return s
}

func noop(context.Context) error { return nil }

func TestParseSchedule(t *testing.T) {
	cases := []struct {
		in    string
		kind  SpecKind
		cron  string
		every time.Duration
		src   string
	}{
		{in: "*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *", src: "cron"},
		{in: "@hourly", kind: SpecCron, cron: "@hourly", src: "cron"},
		{in: "cron: 0 9 * * *", kind: SpecCron, cron: "0 9 * * *", src: "cron"},
		{in: "10m", kind: SpecInterval, every: 10 * time.Minute, src: "duration"},
		{in: "02:30", kind: SpecInterval, every: 150 * time.Minute, src: "hhmm"},
		{in: "every: 00:50", kind: SpecInterval, every: 50 * time.Minute, src: "hhmm"},
		{in: "interval:1h", kind: SpecInterval, every: time.Hour, src: "duration"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			ps, err := ParseSchedule(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, ps.Kind)
			assert.Equal(t, tc.cron, ps.Cron)
			assert.Equal(t, tc.every, ps.Every)
			assert.Equal(t, tc.src, ps.Source)
		})
	}

	for _, bad := range []string{"", "soon", "00:00", "01:75", "-5m", "cron:", "every:"} {
		_, err := ParseSchedule(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseHHMM(t *testing.T) {
	h, m, err := parseHHMM(" 09:05 ")
	require.NoError(t, err)
	assert.Equal(t, 9, h)
	assert.Equal(t, 5, m)

	for _, bad := range []string{"9", "24:00", "12:60", "aa:bb"} {
		_, _, err := parseHHMM(bad)
		assert.Error(t, err, bad)
	}
}

func TestAddDailyNextRunInTimezone(t *testing.T) {
	s := newScheduler(t, true)
	_, err := s.AddDaily("daily-digest", "09:00", time.Minute, noop)
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, "Asia/Jakarta", snap.Timezone)
	require.Len(t, snap.Schedules, 1)
	info := snap.Schedules[0]
	assert.Equal(t, "daily-digest", info.Name)
	assert.Equal(t, "0 9 * * *", info.Spec)

	next := info.Next.In(s.Location())
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 0, next.Minute())
	assert.True(t, next.After(time.Now()))
}

func TestRegisterUpsertsAndRemove(t *testing.T) {
	s := newScheduler(t, false)
	_, err := s.AddSchedule("sweep", "10m", 0, noop)
	require.NoError(t, err)
	_, err = s.AddSchedule("sweep", "*/5 * * * *", 0, noop)
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.False(t, snap.Running)
	require.Len(t, snap.Schedules, 1)
	assert.Equal(t, "*/5 * * * *", snap.Schedules[0].Spec)

	assert.True(t, s.Remove("sweep"))
	assert.False(t, s.Remove("sweep"))
	assert.Empty(t, s.Snapshot().Schedules)
}

func TestAddRejectsInvalidInput(t *testing.T) {
	s := newScheduler(t, false)
	_, err := s.AddCron("bad", "not a cron", 0, noop)
	assert.Error(t, err)
	_, err = s.AddInterval("zero", 0, 0, noop)
	assert.Error(t, err)
	_, err = s.AddDaily("late", "25:00", 0, noop)
	assert.Error(t, err)
	_, err = s.AddInterval(" ", time.Minute, 0, noop)
	assert.Error(t, err)
	assert.Empty(t, s.Snapshot().Schedules)
}

func TestRunNow(t *testing.T) {
	s := newScheduler(t, false)
	var calls atomic.Int32
	boom := errors.New("boom")
	_, err := s.AddDaily("daily-digest", "09:00", time.Second, func(context.Context) error {
		if calls.Add(1) == 2 {
			return engine.NoRetry(boom)
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.RunNow(context.Background(), "daily-digest"))
	assert.ErrorIs(t, s.RunNow(context.Background(), "daily-digest"), boom)
	assert.Equal(t, int32(2), calls.Load())

	assert.ErrorIs(t, s.RunNow(context.Background(), "missing"), ErrUnknownSchedule)
}

func TestIntervalTriggersEngine(t *testing.T) {
	s := newScheduler(t, true)
	var calls atomic.Int32
	_, err := s.AddInterval("tick", 50*time.Millisecond, time.Second, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
	snap := s.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.Less(t, snap.Schedules[0].StartupSpread, 50*time.Millisecond)
}

func TestApplyDisableStopsCron(t *testing.T) {
	s := newScheduler(t, true)
	_, err := s.AddDaily("daily-digest", "09:00", 0, noop)
	require.NoError(t, err)

	s.Apply(context.Background(), Config{Enabled: false, Timezone: "Asia/Jakarta"})
	snap := s.Snapshot()
	assert.False(t, snap.Running)
	require.Len(t, snap.Schedules, 1)
	assert.True(t, snap.Schedules[0].Next.IsZero())

	s.Apply(context.Background(), Config{Enabled: true, Timezone: "UTC"})
	snap = s.Snapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, "UTC", snap.Timezone)
	assert.False(t, snap.Schedules[0].Next.IsZero())
}

func TestManualRunsCarryTrigger(t *testing.T) {
	s := newScheduler(t, false)
	seen := make(chan string, 2)
	_, err := s.AddInterval("reminder-sweep", time.Hour, time.Second, func(ctx context.Context) error {
		seen <- Trigger(ctx)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.RunNow(context.Background(), "reminder-sweep"))
	assert.Equal(t, TriggerManual, <-seen)

	require.NoError(t, s.Kick("reminder-sweep"))
	select {
	case got := <-seen:
		assert.Equal(t, TriggerManual, got)
	case <-time.After(2 * time.Second):
		t.Fatal("kicked job did not run")
	}

	assert.ErrorIs(t, s.Kick("missing"), ErrUnknownSchedule)
	assert.Equal(t, TriggerSchedule, Trigger(context.Background()))
}
