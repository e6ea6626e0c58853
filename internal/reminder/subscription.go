package reminder

import (
	"errors"
	"time"
)

var ErrMissingExpiry = errors.New("subscription has no expiry date")

// Subscription is one tracked hosting or domain contract.
type Subscription struct {
	ID        int64
	Name      string
	URL       string
	Brand     string
	ExpiresAt Date

	CountH3 int
	CountH2 int
	CountH1 int
	CountH0 int

	LastNotifiedAt    *time.Time
	LastNotifiedStage Stage

	Archived  bool
	CreatedAt time.Time
}

// Count returns the counter for a bucket stage, 0 otherwise.
func (s Subscription) Count(st Stage) int {
	switch st {
	case StageH3:
		return s.CountH3
	case StageH2:
		return s.CountH2
	case StageH1:
		return s.CountH1
	case StageH0:
		return s.CountH0
	}
	return 0
}

// SetCount is used by stores and tests to mutate one counter.
func (s *Subscription) SetCount(st Stage, n int) {
	switch st {
	case StageH3:
		s.CountH3 = n
	case StageH2:
		s.CountH2 = n
	case StageH1:
		s.CountH1 = n
	case StageH0:
		s.CountH0 = n
	}
}

// HasReminderState reports whether any counter or notified metadata is set.
func (s Subscription) HasReminderState() bool {
	return s.CountH3 != 0 || s.CountH2 != 0 || s.CountH1 != 0 || s.CountH0 != 0 ||
		s.LastNotifiedAt != nil || s.LastNotifiedStage != ""
}

// ResetReminderState clears counters and notified metadata.
func (s *Subscription) ResetReminderState() {
	s.CountH3, s.CountH2, s.CountH1, s.CountH0 = 0, 0, 0, 0
	s.LastNotifiedAt = nil
	s.LastNotifiedStage = ""
}
