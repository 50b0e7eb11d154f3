// Package config loads, validates and hot-reloads the mirrorwatch
// configuration file (YAML or JSON).
package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "20s", "720h"). Omitted sections take runtime defaults.
type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Delivery      DeliveryConfig      `json:"delivery"`
	Watch         WatchConfig         `json:"watch"`
	Mirrors       MirrorsConfig       `json:"mirrors"`
	Reminder      ReminderConfig      `json:"reminder"`
	Storage       StorageConfig       `json:"storage"`
	Notifier      *NotifierConfig     `json:"notifier,omitempty"`
	TaskEngine    *TaskEngineConfig   `json:"task_engine,omitempty"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	Logging       LoggingConfig       `json:"logging"`
	Observability ObservabilityConfig `json:"observability"`
}

type TelegramConfig struct {
	// Token may also come from MIRRORWATCH_TELEGRAM_TOKEN.
	Token   string `json:"token" validate:"required"`
	APIURL  string `json:"api_url,omitempty" validate:"omitempty,url"`
	Timeout string `json:"timeout,omitempty" validate:"omitempty,duration"`
}

// DeliveryConfig names where things go. Zero ids are accepted here; the
// watch service refuses to schedule without them.
type DeliveryConfig struct {
	ChannelID       int64  `json:"channel_id"`
	ChannelThreadID int    `json:"channel_thread_id,omitempty"`
	OperatorID      int64  `json:"operator_id"`
	LogChatID       int64  `json:"log_chat_id,omitempty"`
	PostTemplate    string `json:"post_template,omitempty"`
}

type WatchConfig struct {
	WatchlistPath string `json:"watchlist_path,omitempty"`
	Pattern       string `json:"pattern,omitempty" validate:"omitempty,regexp1"`
	// Denylist replaces the built-in list when present, even if empty.
	Denylist    []string `json:"denylist,omitempty"`
	PollEvery   string   `json:"poll_every,omitempty" validate:"omitempty,schedule"`
	PollTimeout string   `json:"poll_timeout,omitempty" validate:"omitempty,duration"`
	RunOnStart  *bool    `json:"run_on_start,omitempty"`
	Concurrency int      `json:"concurrency,omitempty" validate:"min=0,max=32"`
}

type MirrorsConfig struct {
	Hosts         []string `json:"hosts,omitempty" validate:"omitempty,hostname_list"`
	CanonicalHost string   `json:"canonical_host,omitempty" validate:"omitempty,hostname_rfc1123"`
	URLTemplate   string   `json:"url_template,omitempty" validate:"omitempty,contains={id}"`
	FetchTimeout  string   `json:"fetch_timeout,omitempty" validate:"omitempty,duration"`
	RatePerSec    float64  `json:"rate_per_sec,omitempty" validate:"min=0"`
	Burst         int      `json:"burst,omitempty" validate:"min=0"`
	MaxBodyBytes  int64    `json:"max_body_bytes,omitempty" validate:"min=0"`
	UserAgent     string   `json:"user_agent,omitempty"`
}

type ReminderConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Every   string `json:"every,omitempty" validate:"omitempty,schedule"`
	OnStart bool   `json:"on_start,omitempty"`
	Text    string `json:"text,omitempty"`
}

// StorageConfig selects the seen-state and delivery journal backend.
//
//	"storage": { "driver": "file", "seen_file": "./seen_tweets.json" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty" validate:"omitempty,oneof=file sqlite sqlite3"`
	Path        string `json:"path,omitempty"`
	SeenFile    string `json:"seen_file,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty" validate:"omitempty,duration"`
}

// NotifierConfig controls the async delivery pipeline. An omitted section
// means enabled with defaults.
type NotifierConfig struct {
	Enabled         bool    `json:"enabled"`
	Workers         int     `json:"workers,omitempty" validate:"min=0,max=16"`
	QueueSize       int     `json:"queue_size,omitempty" validate:"min=0"`
	RatePerSec      float64 `json:"rate_per_sec,omitempty" validate:"min=0"`
	Burst           int     `json:"burst,omitempty" validate:"min=0"`
	SendTimeout     string  `json:"send_timeout,omitempty" validate:"omitempty,duration"`
	RetryMax        int     `json:"retry_max,omitempty" validate:"min=0,max=20"`
	RetryBase       string  `json:"retry_base,omitempty" validate:"omitempty,duration"`
	RetryMaxDelay   string  `json:"retry_max_delay,omitempty" validate:"omitempty,duration"`
	DedupWindow     string  `json:"dedup_window,omitempty" validate:"omitempty,duration"`
	DedupMaxEntries int     `json:"dedup_max_entries,omitempty" validate:"min=0"`
	PersistDedup    bool    `json:"persist_dedup,omitempty"`
}

// TaskEngineConfig controls the worker pool that runs triggered tasks.
//
// Defaults: workers 2, queue_size 256, history_size 200, retry_max 3,
// no default timeout, no stale-queue dropping.
type TaskEngineConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Workers        int    `json:"workers,omitempty" validate:"min=0,max=64"`
	QueueSize      int    `json:"queue_size,omitempty" validate:"min=0"`
	DefaultTimeout string `json:"default_timeout,omitempty" validate:"omitempty,duration"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty" validate:"omitempty,duration"`
	HistorySize    int    `json:"history_size,omitempty" validate:"min=0"`
	RetryMax       int    `json:"retry_max,omitempty" validate:"min=0,max=20"`
}

type SchedulerConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Timezone string `json:"timezone,omitempty" validate:"omitempty,timezone"`
}

type LoggingConfig struct {
	Level    string          `json:"level,omitempty" validate:"omitempty,loglevel"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" validate:"min=0"`
	MaxBackups int    `json:"max_backups,omitempty" validate:"min=0"`
	MaxAgeDays int    `json:"max_age_days,omitempty" validate:"min=0"`
	Compress   bool   `json:"compress,omitempty"`
}

// LoggingTelegram mirrors log records into delivery.log_chat_id.
type LoggingTelegram struct {
	Enabled    bool    `json:"enabled"`
	ThreadID   int     `json:"thread_id,omitempty"`
	MinLevel   string  `json:"min_level,omitempty" validate:"omitempty,loglevel"`
	RatePerSec float64 `json:"rate_per_sec,omitempty" validate:"min=0"`
}

// ObservabilityConfig controls the debug HTTP server (health, readiness,
// Prometheus metrics, pprof).
//
// Prefer a loopback addr. A non-loopback addr needs a token or an explicit
// allow_insecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty" validate:"omitempty,duration"`
	WriteTimeout string `json:"write_timeout,omitempty" validate:"omitempty,duration"`
	IdleTimeout  string `json:"idle_timeout,omitempty" validate:"omitempty,duration"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty" validate:"min=0"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty" validate:"min=0"`
}

// BoolOr dereferences p, falling back to def when unset.
func BoolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
