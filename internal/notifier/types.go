package notifier

import (
	"context"
	"time"

	"mirrorwatch/internal/storage"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      float64
	Burst           int
	SendTimeout     time.Duration
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Journal is the slice of storage the notifier writes to.
type Journal interface {
	AppendDelivery(ctx context.Context, r storage.DeliveryRecord) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (time.Time, bool, error)
}

type HistoryItem struct {
	At       time.Time
	Kind     string
	ChatID   int64
	Status   string
	Attempts int
	Text     string
}

// NotificationEvent is the Data of notify.* bus events.
type NotificationEvent struct {
	Kind       string    `json:"kind"`
	ChatID     int64     `json:"chat_id"`
	ThreadID   int       `json:"thread_id,omitempty"`
	Identifier string    `json:"identifier,omitempty"`
	ItemID     string    `json:"item_id,omitempty"`
	Key        string    `json:"key,omitempty"`
	Attempts   int       `json:"attempts,omitempty"`
	At         time.Time `json:"at"`
	Error      string    `json:"error,omitempty"`
}
