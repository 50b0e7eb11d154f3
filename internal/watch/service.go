package watch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mirrorwatch/internal/eventbus"
	"mirrorwatch/internal/metrics"
	"mirrorwatch/internal/task/scheduler"
	kit "mirrorwatch/internal/transport"
	logx "mirrorwatch/pkg/logx"
)

const (
	PollTask     = "watch.poll"
	ReminderTask = "watch.reminder"

	DefaultPollEvery     = "5m"
	DefaultReminderEvery = "720h"
	DefaultReminderText  = "📅 <b>Reminder</b>: Sync your <code>watchlist.txt</code> with your latest X notifications!"
)

// ErrNotReady means delivery identities are missing or unreachable, so
// nothing is scheduled.
var ErrNotReady = errors.New("watch service not ready")

// Scheduler is the part of the task scheduler the service drives.
type Scheduler interface {
	AddScheduleOpt(name, schedule string, timeout time.Duration, opt scheduler.TaskOptions, job func(ctx context.Context) error) (string, error)
	Trigger(name string) error
	Remove(name string) bool
}

// Identifiers is the tracked set.
type Identifiers interface {
	Refresh() (bool, error)
	Current() []string
}

type Config struct {
	ChannelID       int64
	ChannelThreadID int
	OperatorID      int64

	PollEvery   string
	PollTimeout time.Duration
	RunOnStart  bool

	ReminderEnabled bool
	ReminderEvery   string
	ReminderOnStart bool
	ReminderText    string

	// ResolveTimeout bounds the startup identity check.
	ResolveTimeout time.Duration
}

func (c Config) normalized() Config {
	if strings.TrimSpace(c.PollEvery) == "" {
		c.PollEvery = DefaultPollEvery
	}
	if strings.TrimSpace(c.ReminderEvery) == "" {
		c.ReminderEvery = DefaultReminderEvery
	}
	if strings.TrimSpace(c.ReminderText) == "" {
		c.ReminderText = DefaultReminderText
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = 15 * time.Second
	}
	return c
}

// Service owns the two triggers and the readiness gate.
type Service struct {
	sched    Scheduler
	ids      Identifiers
	engine   *Engine
	notifier Notifier
	chats    kit.ChatResolver
	log      logx.Logger
	bus      eventbus.Bus

	mu    sync.Mutex
	cfg   Config
	ready atomic.Bool

	lastMu     sync.Mutex
	lastReport *CycleReport
}

func NewService(cfg Config, sched Scheduler, ids Identifiers, eng *Engine, n Notifier, chats kit.ChatResolver, log logx.Logger, bus eventbus.Bus) *Service {
	return &Service{
		sched:    sched,
		ids:      ids,
		engine:   eng,
		notifier: n,
		chats:    chats,
		log:      log,
		bus:      bus,
		cfg:      cfg.normalized(),
	}
}

// Ready reports whether the triggers are registered.
func (s *Service) Ready() bool { return s.ready.Load() }

// LastReport is the most recent cycle, nil before the first one.
func (s *Service) LastReport() *CycleReport {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	if s.lastReport == nil {
		return nil
	}
	r := *s.lastReport
	return &r
}

// Start validates the delivery identities and registers the triggers. On a
// configuration problem it logs at critical level, schedules nothing and
// returns an error wrapping ErrNotReady; the process is expected to keep
// running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	fire, err := s.startLocked(ctx)
	s.mu.Unlock()
	s.fire(fire)
	return err
}

// startLocked returns the triggers to fire once s.mu is released.
func (s *Service) startLocked(ctx context.Context) ([]string, error) {
	cfg := s.cfg
	if cfg.ChannelID == 0 || cfg.OperatorID == 0 {
		s.log.Critical("missing delivery identities, nothing scheduled",
			logx.Bool("channel_id_set", cfg.ChannelID != 0),
			logx.Bool("operator_id_set", cfg.OperatorID != 0),
		)
		return nil, fmt.Errorf("%w: delivery.channel_id and delivery.operator_id are required", ErrNotReady)
	}

	if s.chats != nil {
		rctx, cancel := context.WithTimeout(ctx, cfg.ResolveTimeout)
		defer cancel()
		for _, c := range []struct {
			role string
			id   int64
		}{{"channel", cfg.ChannelID}, {"operator", cfg.OperatorID}} {
			if err := s.chats.ResolveChat(rctx, c.id); err != nil {
				s.log.Critical("delivery identity unreachable, nothing scheduled",
					logx.String("role", c.role), logx.Int64("chat_id", c.id), logx.Err(err))
				return nil, fmt.Errorf("%w: %s %d: %w", ErrNotReady, c.role, c.id, err)
			}
		}
	}

	if err := s.registerLocked(cfg); err != nil {
		return nil, err
	}
	s.setReady(true)
	s.log.Info("watch scheduled",
		logx.String("poll_every", cfg.PollEvery),
		logx.Bool("reminder", cfg.ReminderEnabled),
		logx.String("reminder_every", cfg.ReminderEvery),
	)

	var fire []string
	if cfg.RunOnStart {
		fire = append(fire, PollTask)
	}
	if cfg.ReminderEnabled && cfg.ReminderOnStart {
		fire = append(fire, ReminderTask)
	}
	return fire, nil
}

func (s *Service) registerLocked(cfg Config) error {
	// one attempt per firing
	opt := scheduler.TaskOptions{Overlap: scheduler.OverlapSkipIfRunning, RetryMax: -1}

	if _, err := s.sched.AddScheduleOpt(PollTask, cfg.PollEvery, cfg.PollTimeout, opt, s.Poll); err != nil {
		s.log.Critical("poll schedule rejected", logx.String("spec", cfg.PollEvery), logx.Err(err))
		return fmt.Errorf("%w: poll schedule %q: %w", ErrNotReady, cfg.PollEvery, err)
	}
	if !cfg.ReminderEnabled {
		s.sched.Remove(ReminderTask)
		return nil
	}
	if _, err := s.sched.AddScheduleOpt(ReminderTask, cfg.ReminderEvery, 0, opt, s.Remind); err != nil {
		s.sched.Remove(PollTask)
		s.log.Critical("reminder schedule rejected", logx.String("spec", cfg.ReminderEvery), logx.Err(err))
		return fmt.Errorf("%w: reminder schedule %q: %w", ErrNotReady, cfg.ReminderEvery, err)
	}
	return nil
}

func (s *Service) fire(names []string) {
	for _, name := range names {
		if err := s.sched.Trigger(name); err != nil {
			s.log.Debug("trigger skipped", logx.String("task", name), logx.Err(err))
		}
	}
}

func (s *Service) setReady(v bool) {
	if s.ready.Swap(v) == v {
		return
	}
	metrics.SetReady(v)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.WatchReady, Time: time.Now(), Data: v})
	}
}

// Apply swaps the configuration. A ready service re-registers its triggers
// under the same names; a service that never became ready tries Start again.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	cfg = cfg.normalized()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg

	var (
		fire []string
		err  error
	)
	switch {
	case !s.ready.Load():
		fire, err = s.startLocked(ctx)
	case prev.ChannelID != cfg.ChannelID || prev.OperatorID != cfg.OperatorID:
		s.unregisterLocked()
		fire, err = s.startLocked(ctx)
	default:
		if err = s.registerLocked(cfg); err != nil {
			s.unregisterLocked()
		}
	}
	s.mu.Unlock()

	s.fire(fire)
	return err
}

// Stop removes both triggers. Runs already queued finish on their own.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unregisterLocked()
}

func (s *Service) unregisterLocked() {
	s.sched.Remove(PollTask)
	s.sched.Remove(ReminderTask)
	s.setReady(false)
}

// Poll refreshes the identifier set and runs one cycle. It only returns an
// error when the cycle was canceled.
func (s *Service) Poll(ctx context.Context) error {
	if _, err := s.ids.Refresh(); err != nil {
		s.log.Warn("watchlist refresh failed, keeping previous set", logx.Err(err))
	}
	ids := s.ids.Current()
	metrics.SetIdentifiers(len(ids))
	if len(ids) == 0 {
		s.log.Debug("watchlist empty, cycle skipped")
		return nil
	}

	rep := s.engine.RunCycle(ctx, ids)
	s.lastMu.Lock()
	s.lastReport = &rep
	s.lastMu.Unlock()
	if rep.Canceled {
		return ctx.Err()
	}
	return nil
}

// Remind sends the reminder text to the operator.
func (s *Service) Remind(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	err := s.notifier.Notify(ctx, kit.Notification{
		Channel:  "telegram",
		Priority: 3,
		Target:   kit.ChatTarget{ChatID: cfg.OperatorID},
		Text:     cfg.ReminderText,
		Options:  &kit.SendOptions{ParseMode: "HTML", DisablePreview: true},
		Kind:     kit.KindReminder,
	})
	if err != nil {
		s.log.Error("reminder enqueue failed", logx.Err(err))
	}
	return nil
}
