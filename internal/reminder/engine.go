// Package reminder decides when a subscription needs a reminder, composes
// it, and renders the daily digest.
//
// The Engine owns the cadence state machine. A sweep classifies every
// active subscription by days left, sends at most one message per
// subscription, and persists the counter only after a confirmed send.
// Moving back beyond the renewal threshold clears all counters.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"hostwatch/internal/eventbus"
	logx "hostwatch/pkg/logx"
)

var (
	ErrSweepRunning     = errors.New("reminder sweep already running")
	ErrStoreUnavailable = errors.New("subscription store unavailable")
	ErrEngineClosed     = errors.New("reminder engine closed")
)

// Event types published on the bus.
const (
	EventSweep  = "reminder.sweep"
	EventSent   = "reminder.sent"
	EventFailed = "reminder.failed"
	EventReset  = "reminder.reset"
	EventDigest = "reminder.digest"
)

// Store is the persistence the engine needs. RecordReminder and
// ResetReminders apply only while expires_at still equals the value the
// decision was based on, and report whether a row changed.
type Store interface {
	ListActive(ctx context.Context) ([]Subscription, error)
	RecordReminder(ctx context.Context, id int64, st Stage, expires Date, maxCount int, at time.Time) (bool, error)
	ResetReminders(ctx context.Context, id int64, expires Date) (bool, error)
}

// Sender delivers one message and returns nil only once delivery is confirmed.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

type SenderFunc func(ctx context.Context, m Message) error

func (f SenderFunc) Send(ctx context.Context, m Message) error { return f(ctx, m) }

type EngineConfig struct {
	Location         *time.Location
	RenewalThreshold int
	Cadence          Cadence
	// Spacing gates repeat sends in one stage by Policy.Spacing.
	Spacing     bool
	SendTimeout time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.RenewalThreshold <= 3 {
		c.RenewalThreshold = DefaultRenewalThreshold
	}
	if len(c.Cadence) == 0 {
		c.Cadence = DefaultCadence()
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 20 * time.Second
	}
	return c
}

// Report summarizes one sweep.
type Report struct {
	RunID     string        `json:"run_id"`
	Trigger   string        `json:"trigger"`
	StartedAt time.Time     `json:"started_at"`
	Took      time.Duration `json:"took"`
	Evaluated int           `json:"evaluated"`
	Sent      int           `json:"sent"`
	// Stale counts deliveries whose counter update found the row changed.
	Stale     int           `json:"stale"`
	Failed    int           `json:"failed"`
	Reset     int           `json:"reset"`
	Skipped   int           `json:"skipped"`
	Capped    int           `json:"capped"`
	Deferred  int           `json:"deferred"`
	Errors    int           `json:"errors"`
}

type Engine struct {
	store   Store
	sender  Sender
	log     logx.Logger
	bus     eventbus.Bus
	metrics *Metrics
	now     func() time.Time

	cfgMu sync.RWMutex
	cfg   EngineConfig

	sweepMu sync.Mutex
	closed  atomic.Bool

	lastMu  sync.Mutex
	last    Report
	hasLast bool
}

type Option func(*Engine)

func WithLogger(log logx.Logger) Option { return func(e *Engine) { e.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(e *Engine) { e.bus = bus } }

func WithMetrics(m *Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(cfg EngineConfig, store Store, sender Sender, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		sender: sender,
		bus:    eventbus.Nop(),
		now:    time.Now,
		cfg:    cfg.withDefaults(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.bus == nil {
		e.bus = eventbus.Nop()
	}
	return e
}

// Apply swaps the config. A running sweep keeps the config it started with.
func (e *Engine) Apply(cfg EngineConfig) {
	e.cfgMu.Lock()
	e.cfg = cfg.withDefaults()
	e.cfgMu.Unlock()
}

func (e *Engine) config() EngineConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// LastReport returns the most recent completed sweep.
func (e *Engine) LastReport() (Report, bool) {
	e.lastMu.Lock()
	defer e.lastMu.Unlock()
	return e.last, e.hasLast
}

// Close rejects new sweeps and waits for a running one to finish.
func (e *Engine) Close(ctx context.Context) error {
	if e.closed.Swap(true) {
		return nil
	}
	done := make(chan struct{})
	go func() {
		e.sweepMu.Lock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep evaluates every active subscription once. It returns
// ErrSweepRunning without doing anything while another sweep is active.
func (e *Engine) Sweep(ctx context.Context, trigger string) (Report, error) {
	if e.closed.Load() {
		return Report{}, ErrEngineClosed
	}
	if !e.sweepMu.TryLock() {
		e.metrics.sweep("skipped", 0)
		e.log.Debug("sweep skipped; previous sweep still running", logx.String("trigger", trigger))
		return Report{}, ErrSweepRunning
	}
	defer e.sweepMu.Unlock()

	cfg := e.config()
	now := e.now()
	rep := Report{RunID: uuid.NewString(), Trigger: trigger, StartedAt: now}
	log := e.log.With(logx.String("run_id", rep.RunID), logx.String("trigger", trigger))

	subs, err := e.store.ListActive(ctx)
	if err != nil {
		e.metrics.sweep("store_error", 0)
		log.Error("sweep aborted; store unavailable", logx.Err(err))
		return rep, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	today := Today(now, cfg.Location)
	cls := Classifier{RenewalThreshold: cfg.RenewalThreshold}
	for _, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		rep.Evaluated++
		e.evaluate(ctx, log, cfg, cls, sub, today, now, &rep)
	}

	rep.Took = e.now().Sub(now)
	e.metrics.sweep("ok", rep.Took)

	e.lastMu.Lock()
	e.last, e.hasLast = rep, true
	e.lastMu.Unlock()

	e.bus.Publish(eventbus.Event{Type: EventSweep, Data: rep})
	fields := []logx.Field{
		logx.Int("evaluated", rep.Evaluated),
		logx.Int("sent", rep.Sent),
		logx.Int("stale", rep.Stale),
		logx.Int("failed", rep.Failed),
		logx.Int("reset", rep.Reset),
		logx.Int("skipped", rep.Skipped),
		logx.Int("capped", rep.Capped),
		logx.Int("deferred", rep.Deferred),
		logx.Int("errors", rep.Errors),
		logx.Duration("took", rep.Took),
	}
	if rep.Sent > 0 || rep.Stale > 0 || rep.Failed > 0 || rep.Reset > 0 || rep.Errors > 0 {
		log.Info("sweep finished", fields...)
	} else {
		log.Debug("sweep finished", fields...)
	}
	return rep, ctx.Err()
}

// evaluate runs the state machine for one subscription. A panic here is
// contained to this subscription.
func (e *Engine) evaluate(ctx context.Context, log logx.Logger, cfg EngineConfig, cls Classifier, sub Subscription, today Date, now time.Time, rep *Report) {
	log = log.With(logx.Int64("sub_id", sub.ID), logx.String("sub", sub.Name))
	defer func() {
		if r := recover(); r != nil {
			rep.Errors++
			log.Error("subscription evaluation panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	if sub.ExpiresAt.IsZero() {
		rep.Skipped++
		log.Warn("subscription skipped", logx.Err(ErrMissingExpiry))
		return
	}

	days := DaysLeft(today, sub.ExpiresAt)
	st := cls.Classify(days)

	switch {
	case st == StageFarFuture:
		if !sub.HasReminderState() {
			return
		}
		applied, err := e.store.ResetReminders(ctx, sub.ID, sub.ExpiresAt)
		if err != nil {
			rep.Errors++
			log.Error("reminder reset failed", logx.Err(err))
			return
		}
		if !applied {
			log.Warn("reminder reset skipped; subscription changed concurrently")
			return
		}
		rep.Reset++
		e.metrics.reset()
		e.bus.Publish(eventbus.Event{Type: EventReset, Data: sub.ID})
		log.Info("renewal detected; reminder counters reset", logx.Int("days_left", days))

	case st.IsBucket():
		pol, ok := cfg.Cadence.Policy(st)
		if !ok {
			return
		}
		count := sub.Count(st)
		if count >= pol.Max {
			rep.Capped++
			return
		}
		if cfg.Spacing && count > 0 && sub.LastNotifiedStage == st && sub.LastNotifiedAt != nil &&
			now.Sub(*sub.LastNotifiedAt) < pol.Spacing {
			rep.Deferred++
			return
		}

		attempt := count + 1
		msg := ComposeReminder(sub, st, attempt, pol.Max, days)
		sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := e.sender.Send(sctx, msg)
		cancel()
		if err != nil {
			rep.Failed++
			e.metrics.send(st, "failed")
			e.bus.Publish(eventbus.Event{Type: EventFailed, Data: msg.Key})
			log.Warn("reminder send failed; will retry next sweep",
				logx.String("stage", string(st)), logx.Int("attempt", attempt), logx.Err(err))
			return
		}
		e.metrics.send(st, "sent")

		applied, err := e.store.RecordReminder(ctx, sub.ID, st, sub.ExpiresAt, pol.Max, now)
		switch {
		case err != nil:
			rep.Errors++
			log.Error("reminder sent but counter not saved", logx.String("stage", string(st)), logx.Err(err))
			return
		case !applied:
			rep.Stale++
			log.Warn("reminder sent but subscription changed concurrently; counter not advanced", logx.String("stage", string(st)))
			return
		}
		rep.Sent++
		e.bus.Publish(eventbus.Event{Type: EventSent, Data: msg.Key})
		log.Info("reminder sent",
			logx.String("stage", string(st)),
			logx.Int("attempt", attempt),
			logx.Int("max", pol.Max),
			logx.Int("days_left", days),
		)
	}
}
