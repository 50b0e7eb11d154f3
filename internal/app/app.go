// Package app wires the components into one process and owns its lifecycle
// and hot reload.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"mirrorwatch/internal/clock"
	"mirrorwatch/internal/config"
	"mirrorwatch/internal/eventbus"
	"mirrorwatch/internal/feed"
	"mirrorwatch/internal/metrics"
	"mirrorwatch/internal/mirror"
	"mirrorwatch/internal/notifier"
	"mirrorwatch/internal/observability/debugserver"
	rtsup "mirrorwatch/internal/runtime/supervisor"
	"mirrorwatch/internal/seen"
	"mirrorwatch/internal/storage"
	"mirrorwatch/internal/task/engine"
	"mirrorwatch/internal/task/scheduler"
	"mirrorwatch/internal/transport/telegram"
	"mirrorwatch/internal/watch"
	"mirrorwatch/internal/watchlist"
	logx "mirrorwatch/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	tg       *telegram.Adapter
	feed     *feed.Client
	resolver *mirror.Resolver
	ids      *watchlist.Store
	seen     *seen.Store

	engine *engine.Service
	sched  *scheduler.Service
	notif  *notifier.Service
	cycle  *watch.Engine
	watch  *watch.Service
	debug  *debugserver.Server
}

// New loads the configuration and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	metrics.Init()

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	tgCfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	tg, err := telegram.New(tgCfg, bootLog)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	// enable the telegram sink only after its target is set, so Apply does
	// not warn about a missing chat
	logCfg := mapLogConfig(cfg)
	tgEnabled := logCfg.Telegram.Enabled
	logCfg.Telegram.Enabled = false
	logSvc, log := logx.New(logCfg, tg)
	logSvc.SetTelegramTarget(cfg.Delivery.LogChatID, cfg.Logging.Telegram.ThreadID)
	logCfg.Telegram.Enabled = tgEnabled
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	fail := func(err error) (*App, error) {
		_ = store.Close()
		return nil, err
	}

	ids, err := watchlist.New(mapWatchlistOptions(cfg), log.With(logx.String("comp", "watchlist")))
	if err != nil {
		return fail(err)
	}
	ids.OnChange(func(current []string) {
		bus.Publish(eventbus.Event{Type: eventbus.WatchlistReload, Time: time.Now(), Data: len(current)})
	})

	fo, err := mapFeedOptions(cfg)
	if err != nil {
		return fail(err)
	}
	fc := feed.NewClient(fo)
	resolver := mirror.New(fc, mapMirrorOptions(cfg), log.With(logx.String("comp", "mirror")))

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return fail(err)
	}
	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)
	schedSvc := scheduler.New(mapSchedulerConfig(cfg), engineSvc, log.With(logx.String("comp", "scheduler")))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return fail(err)
	}
	notif := notifier.New(ncfg, tg, log.With(logx.String("comp", "notifier")), bus, store)

	seenStore := seen.New(store, log.With(logx.String("comp", "seen")))
	cycle := watch.NewEngine(resolver, seenStore, notif, clock.System{},
		log.With(logx.String("comp", "cycle")), bus, mapEngineOptions(cfg))

	wcfg, err := mapWatchConfig(cfg)
	if err != nil {
		return fail(err)
	}
	watchSvc := watch.NewService(wcfg, schedSvc, ids, cycle, notif, tg, log.With(logx.String("comp", "watch")), bus)

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		tg:       tg,
		feed:     fc,
		resolver: resolver,
		ids:      ids,
		seen:     seenStore,
		engine:   engineSvc,
		sched:    schedSvc,
		notif:    notif,
		cycle:    cycle,
		watch:    watchSvc,
		debug:    debugserver.New(log, watchSvc.Ready),
	}, nil
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Ready reports whether polling is scheduled.
func (a *App) Ready() bool { return a.watch.Ready() }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateMapped(cfg)
	})

	a.seen.Load(run)

	if a.notif.Enabled() {
		a.notif.Start(run)
	} else {
		a.log.Warn("notifier disabled; new posts are recorded but not delivered")
	}
	if a.engine.Enabled() {
		a.engine.Start(run)
	}
	if a.sched.Enabled() {
		a.sched.Start(run)
	}

	if dc, err := mapDebugConfig(a.cfgm.Get()); err == nil {
		if err := a.debug.Apply(run, dc); err != nil {
			a.log.Warn("debug server not started", logx.Err(err))
		}
	}

	// a configuration problem halts scheduling only; the process stays up
	// for config reloads and probes
	if err := a.watch.Start(run); err != nil && !errors.Is(err, watch.ErrNotReady) {
		return err
	}

	a.sup.Go0("eventbus.log", a.logEvents)
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", func(c context.Context) { watchdogLoop(c, a.log) })

	notifySystemd(a.log, daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.Bool("ready", a.watch.Ready()),
		logx.Int("seen", a.seen.Len()),
	)
	return nil
}

func (a *App) logEvents(c context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-c.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	notifySystemd(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the
	// rest; the caller's deadline is never extended
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		stepCtx, cancel := context.WithTimeout(ctx, max(limit, 0))
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("watch", time.Second, func(context.Context) error { a.watch.Stop(); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("debugserver", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
