package config

import (
	"reflect"
	"sort"
	"strings"

	logx "mirrorwatch/pkg/logx"
)

// SummarizeConfigChange lists the changed top-level sections and a set of
// log fields describing the new values. Secrets are reported only as
// "set"/"unset".
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
	)
	section := func(name string, differs bool, fields ...logx.Field) {
		if !differs {
			return
		}
		changed = append(changed, name)
		attrs = append(attrs, fields...)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	section("telegram", ot != nt,
		logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		logx.Bool("telegram.api_url_set", strings.TrimSpace(nt.APIURL) != ""),
		logx.String("telegram.timeout", nt.Timeout),
	)

	od, nd := oldCfg.Delivery, newCfg.Delivery
	section("delivery", od != nd,
		logx.Int64("delivery.channel_id", nd.ChannelID),
		logx.Int64("delivery.operator_id", nd.OperatorID),
		logx.Bool("delivery.log_chat_set", nd.LogChatID != 0),
		logx.Bool("delivery.custom_template", strings.TrimSpace(nd.PostTemplate) != ""),
	)

	ow, nw := oldCfg.Watch, newCfg.Watch
	section("watch", !reflect.DeepEqual(ow, nw),
		logx.String("watch.watchlist_path", nw.WatchlistPath),
		logx.String("watch.poll_every", nw.PollEvery),
		logx.Int("watch.denylist", len(nw.Denylist)),
		logx.Int("watch.concurrency", nw.Concurrency),
	)

	om, nm := oldCfg.Mirrors, newCfg.Mirrors
	section("mirrors", !reflect.DeepEqual(om, nm),
		logx.Strings("mirrors.hosts", nm.Hosts),
		logx.String("mirrors.canonical_host", nm.CanonicalHost),
		logx.String("mirrors.fetch_timeout", nm.FetchTimeout),
		logx.Float64("mirrors.rate_per_sec", nm.RatePerSec),
	)

	or, nr := oldCfg.Reminder, newCfg.Reminder
	section("reminder", !reflect.DeepEqual(or, nr),
		logx.Bool("reminder.enabled", BoolOr(nr.Enabled, true)),
		logx.String("reminder.every", nr.Every),
	)

	ost, nst := oldCfg.Storage, newCfg.Storage
	section("storage", ost != nst,
		logx.String("storage.driver", nst.Driver),
		logx.Bool("storage.path_set", strings.TrimSpace(nst.Path) != ""),
		logx.String("storage.busy_timeout", nst.BusyTimeout),
	)

	on, nn := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	section("notifier", (oldCfg.Notifier == nil) != (newCfg.Notifier == nil) || on != nn,
		logx.Bool("notifier.enabled", newCfg.Notifier == nil || nn.Enabled),
		logx.Int("notifier.workers", nn.Workers),
		logx.Float64("notifier.rate_per_sec", nn.RatePerSec),
		logx.Int("notifier.retry_max", nn.RetryMax),
		logx.String("notifier.dedup_window", nn.DedupWindow),
	)

	ote, nte := derefTaskEngine(oldCfg.TaskEngine), derefTaskEngine(newCfg.TaskEngine)
	section("task_engine", !reflect.DeepEqual(ote, nte),
		logx.Bool("task_engine.enabled", BoolOr(nte.Enabled, true)),
		logx.Int("task_engine.workers", nte.Workers),
		logx.Int("task_engine.queue_size", nte.QueueSize),
		logx.String("task_engine.default_timeout", nte.DefaultTimeout),
	)

	osc, nsc := oldCfg.Scheduler, newCfg.Scheduler
	section("scheduler", !reflect.DeepEqual(osc, nsc),
		logx.Bool("scheduler.enabled", BoolOr(nsc.Enabled, true)),
		logx.String("scheduler.timezone", nsc.Timezone),
	)

	ol, nl := oldCfg.Logging, newCfg.Logging
	section("logging", ol != nl,
		logx.String("logging.level", nl.Level),
		logx.Bool("logging.console", nl.Console),
		logx.Bool("logging.file", nl.File.Enabled),
		logx.Bool("logging.telegram", nl.Telegram.Enabled),
	)

	oo, no := oldCfg.Observability, newCfg.Observability
	section("observability", oo != no,
		logx.Bool("observability.enabled", no.Enabled),
		logx.String("observability.addr", no.Addr),
		logx.Bool("observability.token_set", strings.TrimSpace(no.Token) != ""),
		logx.Bool("observability.pprof", no.Pprof),
	)

	sort.Strings(changed)
	return changed, attrs
}

func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{}
	}
	return *n
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}
