package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "mirrorwatch/pkg/logx"
)

// Store is the persistence API used by the seen store and the notifier.
type Store interface {
	// LoadSeen returns the persisted mapping. A missing blob yields an empty
	// map and no error; an unreadable one wraps ErrCorrupt.
	LoadSeen(ctx context.Context) (map[string]string, error)
	// SaveSeen replaces the whole mapping atomically.
	SaveSeen(ctx context.Context, seen map[string]string) error

	AppendDelivery(ctx context.Context, r DeliveryRecord) error
	// RecentDeliveries returns up to limit records, newest first.
	RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// Open initializes the configured store. An empty driver means "file".
func Open(cfg Config, log logx.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
