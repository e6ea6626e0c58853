package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"hostwatch/internal/eventbus"
	rtsup "hostwatch/internal/runtime/supervisor"
	kit "hostwatch/internal/transport"
	logx "hostwatch/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Event types published on the bus.
const (
	EventQueued  = "notifier.queued"
	EventSent    = "notifier.sent"
	EventFailed  = "notifier.failed"
	EventDropped = "notifier.dropped"
)

type job struct {
	n kit.Notification
	// ctx and result are set for Deliver; a job whose ctx is done before
	// its first attempt is abandoned without sending.
	ctx    context.Context
	result chan error
}

func (j job) finish(err error) {
	if j.result != nil {
		j.result <- err
	}
}

// Service implements an async notification pipeline:
// queue + worker pool + rate limit + retry.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus
	metrics *Metrics

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	sent, failed, dropped atomic.Uint64

	// In-memory history (for /status)
	hmu     sync.Mutex
	history []HistoryItem
}

// Supervisor returns the notifier's internal supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	return sup
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus, metrics *Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{
		adapter: adapter,
		log:     log,
		bus:     bus,
		metrics: metrics,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply updates limits and retry policy. Workers and queue size take effect
// on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 20 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 300
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	// Start is idempotent.
	s.mu.Lock()
	// If stopping, wait for it to finish before restarting.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		// notifier failures should not take down the whole app.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		sup.GoRestart(name, func(c context.Context) error {
			s.workerLoop(c, q)
			// Clean exits happen on shutdown (queue close).
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("notifier worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	// Shutdown happens asynchronously so callers can time out without leaking state.
	go func() {
		defer close(done)
		// Wait for in-flight enqueues to finish, then close the queue so workers can drain.
		s.sendWG.Wait()
		close(q)
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		// Force-stopped workers leave jobs behind; release their waiters.
		for j := range q {
			j.finish(ErrStopped)
		}

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Force-stop internal loops.
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Notify enqueues n without waiting for delivery.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	_, err := s.enqueue(ctx, n, false)
	return err
}

// Deliver enqueues n and waits until it was sent or finally failed. It
// waits for queue space rather than failing with ErrQueueFull.
func (s *Service) Deliver(ctx context.Context, n kit.Notification) error {
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := s.enqueue(ctx, n, true)
	if err != nil {
		return err
	}
	select {
	case err := <-res:
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) enqueue(ctx context.Context, n kit.Notification, wait bool) (<-chan error, error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return nil, ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	j := job{n: n}
	if wait {
		j.ctx = ctx
		j.result = make(chan error, 1)
	}

	s.publish(EventQueued, n, 0, nil)
	if wait {
		select {
		case q <- j:
			return j.result, nil
		case <-ctx.Done():
			s.drop(n, ctx.Err())
			return nil, ctx.Err()
		}
	}
	select {
	case q <- j:
		return nil, nil
	default:
		s.drop(n, ErrQueueFull)
		return nil, ErrQueueFull
	}
}

func (s *Service) drop(n kit.Notification, err error) {
	s.dropped.Add(1)
	s.metrics.delivery("dropped")
	s.publish(EventDropped, n, 0, err)
	s.log.Warn("notification dropped", logx.String("kind", n.Kind), logx.String("key", n.Key), logx.Err(err))
}

func (s *Service) publish(typ string, n kit.Notification, attempts int, err error) {
	now := time.Now()
	ev := NotificationEvent{
		Kind:     n.Kind,
		ChatID:   n.Target.ChatID,
		ThreadID: n.Target.ThreadID,
		Key:      n.Key,
		At:       now,
		Attempts: attempts,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

// History returns recent deliveries, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		Running: s.queue != nil && s.accepting,
		Workers: s.cfg.Workers,
	}
	if s.queue != nil {
		st.Queued = len(s.queue)
		st.Capacity = cap(s.queue)
	}
	s.mu.Unlock()
	st.Sent = s.sent.Load()
	st.Failed = s.failed.Load()
	st.Dropped = s.dropped.Load()
	return st
}

func (s *Service) appendHistory(item HistoryItem, limit int) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			j.finish(s.sendWithRetry(ctx, j))
		}
	}
}

func (s *Service) sendWithRetry(runCtx context.Context, j job) error {
	// config snapshot for this send
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	ad := s.adapter
	log := s.log
	s.mu.Unlock()

	if ad == nil {
		return ErrDisabled
	}
	if j.n.Text == "" {
		return nil
	}

	// Deliver callers may give up while the job is queued.
	ctx := runCtx
	if j.ctx != nil {
		var stop context.CancelFunc
		ctx, stop = context.WithCancel(runCtx)
		defer stop()
		defer context.AfterFunc(j.ctx, stop)()
	}

	maxAttempts := 1 + cfg.RetryMax
	var (
		lastErr  error
		attempts int
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Rate limit (honor cancellation).
		if err := lim.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		attempts = attempt
		s.metrics.attempt()
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := ad.SendText(callCtx, j.n.Target, j.n.Text, j.n.Options)
		cancel()
		if err == nil {
			s.sent.Add(1)
			s.metrics.delivery("sent")
			s.appendHistory(HistoryItem{At: time.Now(), Kind: j.n.Kind, Key: j.n.Key, Attempts: attempt}, cfg.HistorySize)
			s.publish(EventSent, j.n, attempt, nil)
			return nil
		}
		lastErr = err
		log.Debug("notify send failed", logx.Err(err), logx.String("key", j.n.Key), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts || ctx.Err() != nil {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			lastErr = ctx.Err()
			attempt = maxAttempts
		}
	}

	s.failed.Add(1)
	s.metrics.delivery("failed")
	s.appendHistory(HistoryItem{At: time.Now(), Kind: j.n.Kind, Key: j.n.Key, Attempts: attempts, Error: lastErr.Error()}, cfg.HistorySize)
	s.publish(EventFailed, j.n, attempts, lastErr)
	log.Warn("notification failed", logx.String("kind", j.n.Kind), logx.String("key", j.n.Key), logx.Int("attempts", attempts), logx.Err(lastErr))
	return lastErr
}

// retryDelay is the wait before the attempt after `attempt` (1-based):
// base * 2^(attempt-1), capped, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
