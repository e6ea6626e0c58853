package reminder

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type memStore struct {
	mu      sync.Mutex
	subs    map[int64]*Subscription
	listErr error
	resets  int
}

func newMemStore(subs ...Subscription) *memStore {
	st := &memStore{subs: map[int64]*Subscription{}}
	for i := range subs {
		s := subs[i]
		if s.ID == 0 {
			s.ID = int64(i + 1)
		}
		st.subs[s.ID] = &s
	}
	return st
}

func (m *memStore) ListActive(context.Context) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		if !s.Archived {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) RecordReminder(_ context.Context, id int64, st Stage, expires Date, maxCount int, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok || s.ExpiresAt != expires || s.Count(st) >= maxCount {
		return false, nil
	}
	s.SetCount(st, s.Count(st)+1)
	t := at
	s.LastNotifiedAt = &t
	s.LastNotifiedStage = st
	return true, nil
}

func (m *memStore) ResetReminders(_ context.Context, id int64, expires Date) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok || s.ExpiresAt != expires {
		return false, nil
	}
	s.ResetReminderState()
	m.resets++
	return true, nil
}

func (m *memStore) get(id int64) Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.subs[id]
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []Message
	fail func(Message) error
}

func (r *recordingSender) Send(_ context.Context, m Message) error {
	if r.fail != nil {
		if err := r.fail(m); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recordingSender) plain(i int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[i].Body.Plain()
}

var errTransient = errors.New("telegram: 502 bad gateway")

// fakeClock is advanced manually by tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
