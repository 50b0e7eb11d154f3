package app

import (
	"fmt"
	"strings"
	"time"

	"mirrorwatch/internal/config"
	"mirrorwatch/internal/feed"
	"mirrorwatch/internal/mirror"
	"mirrorwatch/internal/notifier"
	"mirrorwatch/internal/observability/debugserver"
	"mirrorwatch/internal/storage"
	"mirrorwatch/internal/task/engine"
	"mirrorwatch/internal/task/scheduler"
	kit "mirrorwatch/internal/transport"
	"mirrorwatch/internal/transport/telegram"
	"mirrorwatch/internal/watch"
	"mirrorwatch/internal/watchlist"
	logx "mirrorwatch/pkg/logx"
)

const (
	defaultWatchlistPath = "./watchlist.txt"
	defaultLogFile       = "./mirrorwatch.log"
)

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 30*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:   strings.TrimSpace(cfg.Telegram.Token),
		APIURL:  strings.TrimSpace(cfg.Telegram.APIURL),
		Timeout: timeout,
	}, nil
}

// mapLogConfig starts with telegram logging off; the caller enables it once
// the target is set.
func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	path := strings.TrimSpace(lc.File.Path)
	if path == "" {
		path = defaultLogFile
	}
	maxSize := lc.File.MaxSizeMB
	if maxSize == 0 {
		maxSize = 5
	}
	backups := lc.File.MaxBackups
	if backups == 0 {
		backups = 2
	}
	rate := int(lc.Telegram.RatePerSec)
	if lc.Telegram.RatePerSec > 0 && rate == 0 {
		rate = 1
	}
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled:    lc.File.Enabled,
			Path:       path,
			MaxSizeMB:  maxSize,
			MaxBackups: backups,
			MaxAgeDays: lc.File.MaxAgeDays,
			Compress:   lc.File.Compress,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: rate,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	switch driver {
	case "", "file":
		return storage.Config{Driver: "file", Path: strings.TrimSpace(sc.Path), SeenFile: strings.TrimSpace(sc.SeenFile)}, nil
	case "sqlite", "sqlite3":
		return storage.Config{Driver: "sqlite", Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{
		Enabled:     config.BoolOr(cfg.Scheduler.Enabled, true),
		Workers:     2,
		QueueSize:   256,
		HistorySize: 200,
		RetryMax:    3,
	}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Enabled != nil {
		out.Enabled = *te.Enabled
	}
	if config.BoolOr(cfg.Scheduler.Enabled, true) && !out.Enabled {
		return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
	}
	if te.Workers > 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		out.HistorySize = te.HistorySize
	}
	if te.RetryMax > 0 {
		out.RetryMax = te.RetryMax
	}
	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  config.BoolOr(cfg.Scheduler.Enabled, true),
		Timezone: cfg.Scheduler.Timezone,
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:     true,
		Workers:     1,
		QueueSize:   256,
		RatePerSec:  1,
		Burst:       3,
		SendTimeout: 15 * time.Second,
		RetryMax:    3,
	}
	nc := cfg.Notifier
	if nc == nil {
		return out, nil
	}
	out.Enabled = nc.Enabled
	out.PersistDedup = nc.PersistDedup
	out.DedupMaxEntries = nc.DedupMaxEntries
	if nc.Workers > 0 {
		out.Workers = nc.Workers
	}
	if nc.QueueSize > 0 {
		out.QueueSize = nc.QueueSize
	}
	if nc.RatePerSec > 0 {
		out.RatePerSec = nc.RatePerSec
	}
	if nc.Burst > 0 {
		out.Burst = nc.Burst
	}
	if nc.RetryMax > 0 {
		out.RetryMax = nc.RetryMax
	}

	var err error
	if out.SendTimeout, err = config.ParseDurationOrDefault("notifier.send_timeout", nc.SendTimeout, out.SendTimeout); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", nc.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationField("notifier.dedup_window", nc.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapFeedOptions(cfg *config.Config) (feed.Options, error) {
	mc := cfg.Mirrors
	timeout, err := config.ParseDurationField("mirrors.fetch_timeout", mc.FetchTimeout)
	if err != nil {
		return feed.Options{}, err
	}
	return feed.Options{
		Timeout:    timeout,
		MaxBody:    mc.MaxBodyBytes,
		RatePerSec: mc.RatePerSec,
		Burst:      mc.Burst,
		UserAgent:  mc.UserAgent,
	}, nil
}

func mapMirrorOptions(cfg *config.Config) mirror.Options {
	return mirror.Options{
		Mirrors:       cfg.Mirrors.Hosts,
		CanonicalHost: cfg.Mirrors.CanonicalHost,
		URLTemplate:   cfg.Mirrors.URLTemplate,
	}
}

func mapWatchlistOptions(cfg *config.Config) watchlist.Options {
	path := strings.TrimSpace(cfg.Watch.WatchlistPath)
	if path == "" {
		path = defaultWatchlistPath
	}
	return watchlist.Options{
		Path:     path,
		Pattern:  cfg.Watch.Pattern,
		Denylist: cfg.Watch.Denylist,
	}
}

func mapEngineOptions(cfg *config.Config) watch.EngineOptions {
	return watch.EngineOptions{
		Concurrency:  cfg.Watch.Concurrency,
		Channel:      kit.ChatTarget{ChatID: cfg.Delivery.ChannelID, ThreadID: cfg.Delivery.ChannelThreadID},
		PostTemplate: cfg.Delivery.PostTemplate,
	}
}

func mapWatchConfig(cfg *config.Config) (watch.Config, error) {
	pollTimeout, err := config.ParseDurationField("watch.poll_timeout", cfg.Watch.PollTimeout)
	if err != nil {
		return watch.Config{}, err
	}
	return watch.Config{
		ChannelID:       cfg.Delivery.ChannelID,
		ChannelThreadID: cfg.Delivery.ChannelThreadID,
		OperatorID:      cfg.Delivery.OperatorID,
		PollEvery:       cfg.Watch.PollEvery,
		PollTimeout:     pollTimeout,
		RunOnStart:      config.BoolOr(cfg.Watch.RunOnStart, true),
		ReminderEnabled: config.BoolOr(cfg.Reminder.Enabled, true),
		ReminderEvery:   cfg.Reminder.Every,
		ReminderOnStart: cfg.Reminder.OnStart,
		ReminderText:    cfg.Reminder.Text,
	}, nil
}

func mapDebugConfig(cfg *config.Config) (debugserver.Config, error) {
	oc := cfg.Observability
	out := debugserver.Config{
		Enabled:              oc.Enabled,
		Addr:                 oc.Addr,
		Token:                oc.Token,
		AllowInsecure:        oc.AllowInsecure,
		Pprof:                oc.Pprof,
		MutexProfileFraction: oc.MutexProfileFraction,
		BlockProfileRate:     oc.BlockProfileRate,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("observability.read_timeout", oc.ReadTimeout, 10*time.Second); err != nil {
		return debugserver.Config{}, err
	}
	// pprof profile and trace default to 30s captures
	if out.WriteTimeout, err = config.ParseDurationOrDefault("observability.write_timeout", oc.WriteTimeout, 60*time.Second); err != nil {
		return debugserver.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("observability.idle_timeout", oc.IdleTimeout, 60*time.Second); err != nil {
		return debugserver.Config{}, err
	}
	return out, nil
}

// validateMapped runs every mapper so a reload that parses but cannot be
// applied is rejected before commit.
func validateMapped(cfg *config.Config) error {
	if _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapFeedOptions(cfg); err != nil {
		return err
	}
	if _, err := mapWatchConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		return err
	}
	return nil
}
