package notifier

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"mirrorwatch/internal/eventbus"
	"mirrorwatch/internal/metrics"
	"mirrorwatch/internal/storage"
	kit "mirrorwatch/internal/transport"
	logx "mirrorwatch/pkg/logx"
)

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sender := s.sender
	s.mu.Unlock()

	if sender == nil {
		s.finish(j, storage.DeliveryFailed, 0, errors.New("no sender configured"), 0)
		return
	}

	start := time.Now()
	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		attempt++
		if err := lim.Wait(ctx); err != nil {
			s.finish(j, storage.DeliveryDropped, attempt-1, err, time.Since(start))
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := sender.SendText(callCtx, j.n.Target, j.n.Text, j.n.Options)
		cancel()
		if err == nil {
			s.finish(j, storage.DeliverySent, attempt, nil, time.Since(start))
			return
		}
		lastErr = err
		s.log.Debug("notify send failed",
			logx.String("kind", j.n.Kind),
			logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts),
			logx.Err(err),
		)
		if errors.Is(err, kit.ErrPermanent) || attempt >= maxAttempts {
			break
		}

		delay := retryDelay(cfg, attempt)
		var ra *kit.RetryAfterError
		if errors.As(err, &ra) && ra.After > delay {
			delay = ra.After
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			s.finish(j, storage.DeliveryDropped, attempt, ctx.Err(), time.Since(start))
			return
		}
	}
	s.finish(j, storage.DeliveryFailed, attempt, lastErr, time.Since(start))
}

// finish records an outcome everywhere it is observed: log, metrics, bus,
// history and journal.
func (s *Service) finish(j job, status string, attempts int, err error, took time.Duration) {
	s.mu.Lock()
	bus := s.bus
	journal := s.journal
	s.mu.Unlock()

	n := j.n
	now := time.Now()
	errText := ""
	if err != nil {
		errText = err.Error()
	}

	metrics.ObserveNotification(status)
	switch status {
	case storage.DeliverySent:
		s.log.Info("notification sent",
			logx.String("kind", n.Kind),
			logx.String("identifier", n.Identifier),
			logx.Int64("chat_id", n.Target.ChatID),
			logx.Int("attempts", attempts),
		)
	default:
		s.log.Error("notification not delivered",
			logx.String("kind", n.Kind),
			logx.String("identifier", n.Identifier),
			logx.String("item_id", n.ItemID),
			logx.Int64("chat_id", n.Target.ChatID),
			logx.String("status", status),
			logx.Int("attempts", attempts),
			logx.Err(err),
		)
	}

	if bus != nil {
		typ := eventbus.NotifySent
		switch status {
		case storage.DeliveryFailed:
			typ = eventbus.NotifyFailed
		case storage.DeliveryDropped:
			typ = eventbus.NotifyDropped
		}
		bus.Publish(eventbus.Event{Type: typ, Time: now, Data: NotificationEvent{
			Kind:       n.Kind,
			ChatID:     n.Target.ChatID,
			ThreadID:   n.Target.ThreadID,
			Identifier: n.Identifier,
			ItemID:     n.ItemID,
			Key:        j.dedupKey,
			Attempts:   attempts,
			At:         now,
			Error:      errText,
		}})
	}

	s.appendHistory(HistoryItem{At: now, Kind: n.Kind, ChatID: n.Target.ChatID, Status: status, Attempts: attempts, Text: n.Text})

	if journal != nil {
		jctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		rec := storage.DeliveryRecord{
			At:         now,
			Kind:       n.Kind,
			Identifier: n.Identifier,
			ItemID:     n.ItemID,
			Mirror:     n.Mirror,
			ChatID:     n.Target.ChatID,
			Status:     status,
			Attempts:   attempts,
			Error:      errText,
			TookMS:     took.Milliseconds(),
		}
		if jerr := journal.AppendDelivery(jctx, rec); jerr != nil {
			s.log.Warn("delivery journal append failed", logx.Err(jerr))
		}
	}
}

// retryDelay is base * 2^(attempt-1) with 0.7..1.3 jitter, capped.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
