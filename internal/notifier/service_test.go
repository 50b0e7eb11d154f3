package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrorwatch/internal/eventbus"
	"mirrorwatch/internal/storage"
	kit "mirrorwatch/internal/transport"
	logx "mirrorwatch/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	errs  []error // consumed per call; nil entries mean success
	texts []string
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return kit.MessageRef{}, err
		}
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

type memJournal struct {
	mu    sync.Mutex
	recs  []storage.DeliveryRecord
	dedup map[string]time.Time
}

func (m *memJournal) AppendDelivery(_ context.Context, r storage.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, r)
	return nil
}

func (m *memJournal) PutDedup(_ context.Context, key string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dedup == nil {
		m.dedup = map[string]time.Time{}
	}
	m.dedup[key] = until
	return nil
}

func (m *memJournal) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.dedup[key]
	return u, ok, nil
}

func (m *memJournal) records() []storage.DeliveryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.DeliveryRecord(nil), m.recs...)
}

func testConfig() Config {
	return Config{Enabled: true, Workers: 1, QueueSize: 8, RatePerSec: 1000, Burst: 100, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}
}

func startService(t *testing.T, cfg Config, sender kit.Sender, bus eventbus.Bus, j Journal) *Service {
	t.Helper()
	s := New(cfg, sender, logx.Nop(), bus, j)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func post(text string) kit.Notification {
	return kit.Notification{Channel: "telegram", Target: kit.ChatTarget{ChatID: -100}, Text: text, Kind: kit.KindPost, Identifier: "alice", ItemID: "1"}
}

func TestNotifySendsAndJournals(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	j := &memJournal{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := startService(t, testConfig(), sender, bus, j)
	require.NoError(t, s.Notify(context.Background(), post("hello")))

	require.Eventually(t, func() bool { return len(j.records()) == 1 }, 2*time.Second, 5*time.Millisecond)
	rec := j.records()[0]
	assert.Equal(t, storage.DeliverySent, rec.Status)
	assert.Equal(t, "alice", rec.Identifier)
	assert.Equal(t, 1, rec.Attempts)

	select {
	case ev := <-events:
		assert.Equal(t, eventbus.NotifySent, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no bus event")
	}
	require.Len(t, s.History(), 1)
}

func TestRetryThenSucceed(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{errs: []error{errors.New("timeout"), nil}}
	j := &memJournal{}
	startService(t, testConfig(), sender, nil, j).Notify(context.Background(), post("x"))

	require.Eventually(t, func() bool { return len(j.records()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, j.records()[0].Attempts)
	assert.Equal(t, storage.DeliverySent, j.records()[0].Status)
}

func TestPermanentFailureNotRetried(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{errs: []error{kit.ErrPermanent, nil}}
	j := &memJournal{}
	s := startService(t, testConfig(), sender, nil, j)
	require.NoError(t, s.Notify(context.Background(), post("x")))

	require.Eventually(t, func() bool { return len(j.records()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, storage.DeliveryFailed, j.records()[0].Status)
	assert.Equal(t, 1, sender.calls())
}

func TestRetriesExhausted(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	sender := &fakeSender{errs: []error{boom, boom, boom}}
	j := &memJournal{}
	s := startService(t, testConfig(), sender, nil, j)
	require.NoError(t, s.Notify(context.Background(), post("x")))

	require.Eventually(t, func() bool { return len(j.records()) == 1 }, 2*time.Second, 5*time.Millisecond)
	rec := j.records()[0]
	assert.Equal(t, storage.DeliveryFailed, rec.Status)
	assert.Equal(t, 3, rec.Attempts)
	assert.Contains(t, rec.Error, "boom")
}

func TestDedupWindow(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.DedupWindow = time.Hour
	cfg.PersistDedup = true
	sender := &fakeSender{}
	j := &memJournal{}
	s := startService(t, cfg, sender, nil, j)

	n := post("same")
	n.DedupKey = "post:alice:1"
	require.NoError(t, s.Notify(context.Background(), n))
	require.NoError(t, s.Notify(context.Background(), n))

	require.Eventually(t, func() bool { return sender.calls() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sender.calls())

	_, ok, _ := j.GetDedup(context.Background(), "post:alice:1")
	assert.True(t, ok)

	// a fresh service sees the persisted window
	s2 := startService(t, cfg, sender, nil, j)
	require.NoError(t, s2.Notify(context.Background(), n))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sender.calls())
}

func TestNotifyStates(t *testing.T) {
	t.Parallel()

	disabled := New(Config{}, &fakeSender{}, logx.Nop(), nil, nil)
	assert.ErrorIs(t, disabled.Notify(context.Background(), post("x")), ErrDisabled)

	notStarted := New(testConfig(), &fakeSender{}, logx.Nop(), nil, nil)
	assert.ErrorIs(t, notStarted.Notify(context.Background(), post("x")), ErrStopped)

	s := startService(t, testConfig(), &fakeSender{}, nil, nil)
	assert.Error(t, s.Notify(context.Background(), post("  ")))
}

func TestQueueFullJournalsDrop(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	sender := &blockingSender{release: block}
	j := &memJournal{}
	cfg := testConfig()
	cfg.QueueSize = 1
	s := startService(t, cfg, sender, nil, j)
	defer close(block)

	// first is picked up by the worker, second fills the queue
	require.NoError(t, s.Notify(context.Background(), post("1")))
	require.Eventually(t, func() bool { return sender.started() }, time.Second, time.Millisecond)
	require.NoError(t, s.Notify(context.Background(), post("2")))

	assert.ErrorIs(t, s.Notify(context.Background(), post("3")), ErrQueueFull)
	recs := j.records()
	require.Len(t, recs, 1)
	assert.Equal(t, storage.DeliveryDropped, recs[0].Status)
}

type blockingSender struct {
	mu      sync.Mutex
	begun   bool
	release chan struct{}
}

func (b *blockingSender) SendText(ctx context.Context, to kit.ChatTarget, _ string, _ *kit.SendOptions) (kit.MessageRef, error) {
	b.mu.Lock()
	b.begun = true
	b.mu.Unlock()
	select {
	case <-b.release:
	case <-ctx.Done():
		return kit.MessageRef{}, ctx.Err()
	}
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (b *blockingSender) started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.begun
}

func TestRetryDelayCapped(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt < 10; attempt++ {
		d := retryDelay(cfg, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}
