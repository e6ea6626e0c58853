package storage

import (
	"context"
	"errors"
	"time"

	"hostwatch/internal/reminder"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("subscription not found")
	ErrInvalid  = errors.New("invalid subscription")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): Path is the database file
//   - "postgres": DSN is a postgres:// URL
type Config struct {
	Driver          string
	Path            string
	DSN             string
	BusyTimeout     time.Duration // sqlite only; 0 means 5s
	MaxConns        int32         // postgres only
	ConnectAttempts int           // postgres only
}

// NewSubscription is the input for Create.
type NewSubscription struct {
	Name      string
	URL       string
	Brand     string
	ExpiresAt reminder.Date
}

// Patch updates descriptive fields. Nil fields are left unchanged.
type Patch struct {
	Name  *string
	URL   *string
	Brand *string
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At            time.Time
	ActorID       int64
	ActorUsername string
	ChatID        int64
	ThreadID      int
	Command       string
	Target        string
	OK            bool
	Error         string
	TookMS        int64
}

// Store is the full persistence API. It satisfies reminder.Store and
// reminder.Lister.
type Store interface {
	Create(ctx context.Context, in NewSubscription) (reminder.Subscription, error)
	Get(ctx context.Context, id int64) (reminder.Subscription, error)
	List(ctx context.Context, includeArchived bool) ([]reminder.Subscription, error)
	ListActive(ctx context.Context) ([]reminder.Subscription, error)
	// ListByStage returns active subscriptions whose expiry falls in the
	// date range of st as seen from today.
	ListByStage(ctx context.Context, today reminder.Date, st reminder.Stage, threshold int) ([]reminder.Subscription, error)
	// UpdateExpiry sets a new expiry. Reminder counters are left alone; the
	// engine resets them once the date lies beyond the renewal threshold.
	UpdateExpiry(ctx context.Context, id int64, expires reminder.Date) error
	Update(ctx context.Context, id int64, p Patch) (reminder.Subscription, error)
	SetArchived(ctx context.Context, id int64, archived bool) error
	Delete(ctx context.Context, id int64) error

	RecordReminder(ctx context.Context, id int64, st reminder.Stage, expires reminder.Date, maxCount int, at time.Time) (bool, error)
	ResetReminders(ctx context.Context, id int64, expires reminder.Date) (bool, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Ping(ctx context.Context) error
	Close() error
}

var _ reminder.Store = Store(nil)
