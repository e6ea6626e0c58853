package notifier

import "time"

// Config controls the async notification pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	HistorySize   int
}

type HistoryItem struct {
	At       time.Time `json:"at"`
	Kind     string    `json:"kind"`
	Key      string    `json:"key,omitempty"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
}

func (h HistoryItem) OK() bool { return h.Error == "" }

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type NotificationEvent struct {
	Kind     string    `json:"kind"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Attempts int       `json:"attempts,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Stats is a point-in-time view for /status.
type Stats struct {
	Running  bool   `json:"running"`
	Workers  int    `json:"workers"`
	Queued   int    `json:"queued"`
	Capacity int    `json:"capacity"`
	Sent     uint64 `json:"sent"`
	Failed   uint64 `json:"failed"`
	Dropped  uint64 `json:"dropped"`
}
