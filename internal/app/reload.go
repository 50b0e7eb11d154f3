package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"mirrorwatch/internal/config"
	logx "mirrorwatch/pkg/logx"
)

// reloadLoop applies every published config. Bursts collapse to the newest.
func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(c, last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(c context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := func(name string) bool { return slices.Contains(sections, name) }

	if changed("telegram") {
		a.log.Warn("telegram config changed; restart required for it to take effect")
	}
	if changed("storage") {
		a.log.Warn("storage config changed; restart required for it to take effect")
	}

	a.logs.SetTelegramTarget(next.Delivery.LogChatID, next.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(next))

	// engine before scheduler on the way up, scheduler first on the way down
	if ec, err := mapTaskEngineConfig(next); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		wasSched, wasEng := a.sched.Enabled(), a.engine.Enabled()
		sc := mapSchedulerConfig(next)
		a.engine.Apply(c, ec)
		a.sched.Apply(sc)
		if wasSched && !sc.Enabled {
			a.log.Info("scheduler disabled via config")
			a.stopWithin(c, 3*time.Second, a.sched.Stop)
		}
		if wasEng && !ec.Enabled {
			a.log.Info("task engine disabled via config")
			a.stopWithin(c, 3*time.Second, a.engine.Stop)
		}
		if !wasEng && ec.Enabled {
			a.log.Info("task engine enabled via config")
			a.engine.Start(c)
		}
		if !wasSched && sc.Enabled {
			a.log.Info("scheduler enabled via config")
			a.sched.Start(c)
		}
	}

	if nc, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		was := a.notif.Enabled()
		a.notif.Apply(nc)
		switch {
		case was && !nc.Enabled:
			a.log.Info("notifier disabled via config")
			a.stopWithin(c, 3*time.Second, a.notif.Stop)
		case !was && nc.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(c)
		}
	}

	if fo, err := mapFeedOptions(next); err != nil {
		a.log.Warn("invalid mirrors config; keeping previous", logx.Err(err))
	} else {
		a.feed.Apply(fo)
	}
	a.resolver.Apply(mapMirrorOptions(next))
	if err := a.ids.Apply(mapWatchlistOptions(next)); err != nil {
		a.log.Warn("invalid watch config; keeping previous watchlist", logx.Err(err))
	}
	a.cycle.Apply(mapEngineOptions(next))

	if wc, err := mapWatchConfig(next); err != nil {
		a.log.Warn("invalid watch config; keeping previous", logx.Err(err))
	} else if err := a.watch.Apply(c, wc); err != nil {
		a.log.Warn("watch not scheduled after reload", logx.Err(err))
	}

	if dc, err := mapDebugConfig(next); err != nil {
		a.log.Warn("invalid observability config; keeping previous", logx.Err(err))
	} else if err := a.debug.Apply(c, dc); err != nil {
		a.log.Warn("debug server apply failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) stopWithin(c context.Context, d time.Duration, stop func(context.Context)) {
	ctx, cancel := context.WithTimeout(c, d)
	defer cancel()
	stop(ctx)
}
