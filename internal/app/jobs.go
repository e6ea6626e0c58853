package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"hostwatch/internal/commands"
	"hostwatch/internal/reminder"
	"hostwatch/internal/task/engine"
	"hostwatch/internal/task/scheduler"
	logx "hostwatch/pkg/logx"
)

const (
	sweepTimeout  = 10 * time.Minute
	digestTimeout = 5 * time.Minute
)

type sweeper interface {
	Sweep(ctx context.Context, trigger string) (reminder.Report, error)
}

type digester interface {
	Send(ctx context.Context) (reminder.DigestReport, error)
}

// jobs keeps the scheduler's registrations in line with the config.
type jobs struct {
	sched  *scheduler.Service
	sweeps sweeper
	digest digester
	log    logx.Logger

	mu      sync.Mutex
	plan    jobPlan
	applied bool
}

func newJobs(sched *scheduler.Service, sw sweeper, dg digester, log logx.Logger) *jobs {
	return &jobs{sched: sched, sweeps: sw, digest: dg, log: log}
}

// Apply registers or removes the sweep and digest schedules. Unchanged
// entries are left alone so their next run time is kept.
func (j *jobs) Apply(p jobPlan) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	prev, first := j.plan, !j.applied

	var errs []error
	if first || prev.Sweep != p.Sweep || prev.Interval != p.Interval {
		if p.Sweep {
			// a missed sweep is covered by the next one
			opt := scheduler.TaskOptions{Overlap: engine.OverlapSkipIfRunning, RetryMax: -1}
			if _, err := j.sched.AddScheduleOpt(commands.SweepJob, p.Interval, sweepTimeout, opt, j.runSweep); err != nil {
				errs = append(errs, err)
			} else {
				j.log.Info("reminder sweep scheduled", logx.String("every", p.Interval))
			}
		} else if j.sched.Remove(commands.SweepJob) {
			j.log.Info("reminder sweep unscheduled")
		}
	}
	if first || prev.Digest != p.Digest || prev.DigestAt != p.DigestAt {
		if p.Digest {
			if _, err := j.sched.AddDaily(commands.DigestJob, p.DigestAt, digestTimeout, j.runDigest); err != nil {
				errs = append(errs, err)
			} else {
				j.log.Info("daily digest scheduled", logx.String("at", p.DigestAt))
			}
		} else if j.sched.Remove(commands.DigestJob) {
			j.log.Info("daily digest unscheduled")
		}
	}

	err := errors.Join(errs...)
	if err == nil {
		j.plan, j.applied = p, true
	}
	return err
}

func (j *jobs) runSweep(ctx context.Context) error {
	_, err := j.sweeps.Sweep(ctx, scheduler.Trigger(ctx))
	if errors.Is(err, reminder.ErrSweepRunning) || errors.Is(err, reminder.ErrEngineClosed) {
		return engine.NoRetry(err)
	}
	return err
}

// runDigest never retries: a partial digest would repeat its first segments.
func (j *jobs) runDigest(ctx context.Context) error {
	if _, err := j.digest.Send(ctx); err != nil {
		return engine.NoRetry(err)
	}
	return nil
}
