package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	// ErrCorrupt marks a seen-state blob that exists but cannot be decoded.
	ErrCorrupt = errors.New("seen-state corrupt")
)

// Config configures storage.
//
// Driver values:
//   - "file": seen-state JSON at SeenFile, journal and dedup files next to Path
//   - "sqlite": one SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	SeenFile    string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Delivery statuses.
const (
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
	DeliveryDropped = "dropped"
)

// DeliveryRecord is one notification outcome. Schema-stable.
type DeliveryRecord struct {
	At         time.Time `json:"at"`
	Kind       string    `json:"kind"`
	Identifier string    `json:"identifier,omitempty"`
	ItemID     string    `json:"item_id,omitempty"`
	Mirror     string    `json:"mirror,omitempty"`
	ChatID     int64     `json:"chat_id"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	TookMS     int64     `json:"took_ms"`
}
