// Package transport holds the chat-delivery types shared by the notifier,
// the watch service and the concrete Telegram adapter.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type ChatTarget struct {
	ChatID   int64
	ThreadID int // forum topic, 0 if none
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Notification kinds.
const (
	KindPost     = "post"
	KindReminder = "reminder"
	KindLog      = "log"
)

type Notification struct {
	Channel  string // "telegram"
	Priority int    // 0 low.. 10 high
	Target   ChatTarget
	Text     string
	Options  *SendOptions

	// DedupKey suppresses repeats inside the notifier's dedup window.
	DedupKey string

	// Journal fields.
	Kind       string
	Identifier string
	ItemID     string
	Mirror     string
}

// Sender delivers text to a chat.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// ChatResolver confirms a chat or user id is reachable by the bot.
type ChatResolver interface {
	ResolveChat(ctx context.Context, id int64) error
}

// ErrPermanent marks a send failure that retrying cannot fix (bad chat id,
// bot blocked, malformed markup).
var ErrPermanent = errors.New("permanent delivery failure")

// RetryAfterError carries a platform-imposed backoff.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s: %v", e.After, e.Err)
}

func (e *RetryAfterError) Unwrap() error { return e.Err }
