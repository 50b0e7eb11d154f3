package watch

import (
	"context"
	"errors"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mirrorwatch/internal/clock"
	"mirrorwatch/internal/eventbus"
	"mirrorwatch/internal/metrics"
	"mirrorwatch/internal/mirror"
	kit "mirrorwatch/internal/transport"
	logx "mirrorwatch/pkg/logx"
)

// DefaultPostTemplate renders a new-post notification. {user} is escaped
// for HTML; {link} is the canonical locator.
const DefaultPostTemplate = "🐦 <b>{user}</b> posted:\n{link}"

// Resolver finds the newest item for an identifier.
type Resolver interface {
	ResolveLatest(ctx context.Context, id string) (mirror.Resolution, error)
}

// SeenStore is the last-observed item per identifier.
type SeenStore interface {
	Get(id string) (string, bool)
	Commit(ctx context.Context, id, itemID string) error
}

// Notifier accepts a notification for asynchronous delivery.
type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// Event is what a detected new post turns into before formatting.
type Event struct {
	Identifier string
	Locator    string
	ItemID     string
	Mirror     string
}

type EngineOptions struct {
	// Concurrency > 1 polls identifiers in parallel.
	Concurrency  int
	Channel      kit.ChatTarget
	PostTemplate string
}

// CycleReport summarises one pass over the identifier set.
type CycleReport struct {
	ID       string        `json:"id"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Duration time.Duration `json:"duration"`

	Identifiers    int  `json:"identifiers"`
	Resolved       int  `json:"resolved"`
	Unchanged      int  `json:"unchanged"`
	FirstContact   int  `json:"first_contact"`
	Notified       int  `json:"notified"`
	Failed         int  `json:"failed"`
	PersistFailed  int  `json:"persist_failed"`
	DeliveryFailed int  `json:"delivery_failed"`
	Canceled       bool `json:"canceled,omitempty"`
}

// Engine runs poll cycles. It owns no goroutines between cycles.
type Engine struct {
	resolver Resolver
	seen     SeenStore
	notifier Notifier
	clock    clock.Clock
	log      logx.Logger
	bus      eventbus.Bus

	mu  sync.RWMutex
	opt EngineOptions
}

func NewEngine(r Resolver, seen SeenStore, n Notifier, clk clock.Clock, log logx.Logger, bus eventbus.Bus, opt EngineOptions) *Engine {
	if clk == nil {
		clk = clock.System{}
	}
	return &Engine{resolver: r, seen: seen, notifier: n, clock: clk, log: log, bus: bus, opt: normalizeEngine(opt)}
}

func normalizeEngine(o EngineOptions) EngineOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if strings.TrimSpace(o.PostTemplate) == "" {
		o.PostTemplate = DefaultPostTemplate
	}
	return o
}

func (e *Engine) Apply(opt EngineOptions) {
	e.mu.Lock()
	e.opt = normalizeEngine(opt)
	e.mu.Unlock()
}

func (e *Engine) options() EngineOptions {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opt
}

type outcome int

const (
	outResolveFailed outcome = iota
	outUnchanged
	outFirstContact
	outNotified
	outPersistFailed
	outDeliveryFailed
	outSkipped
)

// RunCycle polls every identifier once. Per-identifier failures never stop
// the cycle; cancellation stops it between identifiers.
func (e *Engine) RunCycle(ctx context.Context, ids []string) CycleReport {
	opt := e.options()
	rep := CycleReport{ID: uuid.NewString(), Started: e.clock.Now(), Identifiers: len(ids)}
	log := e.log.With(logx.String("cycle", rep.ID))

	var mu sync.Mutex
	tally := func(o outcome) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case outResolveFailed:
			rep.Failed++
		case outUnchanged:
			rep.Resolved++
			rep.Unchanged++
		case outFirstContact:
			rep.Resolved++
			rep.FirstContact++
		case outNotified:
			rep.Resolved++
			rep.Notified++
		case outPersistFailed:
			rep.Resolved++
			rep.PersistFailed++
		case outDeliveryFailed:
			rep.Resolved++
			rep.DeliveryFailed++
		}
	}

	if opt.Concurrency <= 1 {
		for _, id := range ids {
			if ctx.Err() != nil {
				break
			}
			tally(e.pollOne(ctx, log, opt, id))
		}
	} else {
		var g errgroup.Group
		g.SetLimit(opt.Concurrency)
		for _, id := range ids {
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				tally(e.pollOne(ctx, log, opt, id))
				return nil
			})
		}
		_ = g.Wait()
	}

	rep.Canceled = ctx.Err() != nil
	rep.Finished = e.clock.Now()
	rep.Duration = rep.Finished.Sub(rep.Started)

	failed := rep.Failed+rep.PersistFailed+rep.DeliveryFailed > 0
	metrics.ObserveCycle(failed, rep.Duration)
	fields := []logx.Field{
		logx.Int("identifiers", rep.Identifiers),
		logx.Int("resolved", rep.Resolved),
		logx.Int("first_contact", rep.FirstContact),
		logx.Int("notified", rep.Notified),
		logx.Int("failed", rep.Failed),
		logx.Int("persist_failed", rep.PersistFailed),
		logx.Int("delivery_failed", rep.DeliveryFailed),
		logx.Duration("took", rep.Duration),
	}
	if rep.Canceled {
		log.Warn("poll cycle canceled", fields...)
	} else {
		log.Info("poll cycle finished", fields...)
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.CycleFinished, Time: rep.Finished, Data: rep})
	}
	return rep
}

func (e *Engine) pollOne(ctx context.Context, log logx.Logger, opt EngineOptions, id string) outcome {
	log = log.With(logx.String("identifier", id))

	res, err := e.resolver.ResolveLatest(ctx, id)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return outSkipped
		}
		metrics.ObserveOutcome(metrics.OutcomeResolveFailed)
		log.Warn("identifier unresolved", logx.Int("attempts", len(res.Attempts)), logx.Err(err))
		return outResolveFailed
	}

	prev, known := e.seen.Get(id)
	if known && prev == res.Item.ID {
		metrics.ObserveOutcome(metrics.OutcomeUnchanged)
		return outUnchanged
	}

	if err := e.seen.Commit(ctx, id, res.Item.ID); err != nil {
		metrics.ObserveOutcome(metrics.OutcomePersistFailed)
		metrics.IncPersistFailure()
		log.Error("seen-state persist failed, notification withheld", logx.String("item_id", res.Item.ID), logx.Err(err))
		return outPersistFailed
	}

	if !known {
		metrics.ObserveOutcome(metrics.OutcomeFirstContact)
		log.Info("first contact, baseline recorded", logx.String("item_id", res.Item.ID), logx.String("mirror", res.Mirror))
		return outFirstContact
	}

	metrics.ObserveOutcome(metrics.OutcomeNew)
	ev := Event{Identifier: id, Locator: res.Item.Link, ItemID: res.Item.ID, Mirror: res.Mirror}
	if err := e.notifier.Notify(ctx, e.notification(opt, ev)); err != nil {
		log.Error("notification enqueue failed", logx.String("item_id", ev.ItemID), logx.Err(err))
		return outDeliveryFailed
	}
	log.Info("new post detected", logx.String("item_id", ev.ItemID), logx.String("mirror", ev.Mirror))
	return outNotified
}

func (e *Engine) notification(opt EngineOptions, ev Event) kit.Notification {
	return kit.Notification{
		Channel:    "telegram",
		Priority:   5,
		Target:     opt.Channel,
		Text:       RenderPost(opt.PostTemplate, ev),
		Options:    &kit.SendOptions{ParseMode: "HTML"},
		DedupKey:   "post:" + ev.Identifier + ":" + ev.ItemID,
		Kind:       kit.KindPost,
		Identifier: ev.Identifier,
		ItemID:     ev.ItemID,
		Mirror:     ev.Mirror,
	}
}

// RenderPost fills {user}, {link} and {mirror} in tmpl, HTML-escaped.
func RenderPost(tmpl string, ev Event) string {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultPostTemplate
	}
	return strings.NewReplacer(
		"{user}", html.EscapeString(ev.Identifier),
		"{link}", html.EscapeString(ev.Locator),
		"{mirror}", html.EscapeString(ev.Mirror),
	).Replace(tmpl)
}
