package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrorwatch/internal/clock"
	"mirrorwatch/internal/eventbus"
	"mirrorwatch/internal/feed"
	"mirrorwatch/internal/mirror"
	"mirrorwatch/internal/seen"
	kit "mirrorwatch/internal/transport"
	logx "mirrorwatch/pkg/logx"
)

// scriptedFeed serves per-mirror, per-identifier items and can be edited
// between cycles.
type scriptedFeed struct {
	mu    sync.Mutex
	items map[string][]feed.Item // key: mirror+"/"+id
	down  map[string]bool        // mirror host -> failing
}

func newScriptedFeed() *scriptedFeed {
	return &scriptedFeed{items: map[string][]feed.Item{}, down: map[string]bool{}}
}

func (f *scriptedFeed) set(host, id string, itemIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []feed.Item
	for _, n := range itemIDs {
		link := fmt.Sprintf("https://%s/%s/status/%s#m", host, id, n)
		items = append(items, feed.Item{ID: link, Link: link})
	}
	f.items[host+"/"+id] = items
}

func (f *scriptedFeed) setDown(host string, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[host] = down
}

func (f *scriptedFeed) Fetch(_ context.Context, host, url string) ([]feed.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[host] {
		return nil, errors.New("503")
	}
	for k, v := range f.items {
		if "https://"+k+"/rss" == url {
			return v, nil
		}
	}
	return nil, nil
}

type memBackend struct {
	mu    sync.Mutex
	data  map[string]string
	fail  bool
	saves int
}

func (m *memBackend) LoadSeen(context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for k, v := range m.data {
		out[k] = v
	}
	return out, nil
}

func (m *memBackend) SaveSeen(_ context.Context, s map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.saves++
	m.data = map[string]string{}
	for k, v := range s {
		m.data[k] = v
	}
	return nil
}

func (m *memBackend) setFail(v bool) {
	m.mu.Lock()
	m.fail = v
	m.mu.Unlock()
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []kit.Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n kit.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) all() []kit.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]kit.Notification(nil), r.sent...)
}

type fixture struct {
	feed     *scriptedFeed
	backend  *memBackend
	seen     *seen.Store
	notifier *recordingNotifier
	clock    *clock.Fake
	engine   *Engine
}

func newFixture(t *testing.T, concurrency int) *fixture {
	t.Helper()
	f := &fixture{
		feed:     newScriptedFeed(),
		backend:  &memBackend{},
		notifier: &recordingNotifier{},
		clock:    clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
	}
	f.seen = seen.New(f.backend, logx.Nop())
	f.seen.Load(context.Background())
	res := mirror.New(f.feed, mirror.Options{Mirrors: []string{"m1.example", "m2.example"}}, logx.Nop())
	f.engine = NewEngine(res, f.seen, f.notifier, f.clock, logx.Nop(), nil, EngineOptions{
		Concurrency: concurrency,
		Channel:     kit.ChatTarget{ChatID: -100},
	})
	return f
}

func TestFirstContactSuppressed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1)
	f.feed.set("m1.example", "alice", "2", "1")

	rep := f.engine.RunCycle(context.Background(), []string{"alice"})
	assert.Equal(t, 1, rep.FirstContact)
	assert.Empty(t, f.notifier.all())

	got, ok := f.seen.Get("alice")
	require.True(t, ok)
	assert.Equal(t, "https://m1.example/alice/status/2#m", got)
	assert.Equal(t, got, f.backend.data["alice"])
}

func TestUnchangedIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1)
	f.feed.set("m1.example", "alice", "1")

	f.engine.RunCycle(context.Background(), []string{"alice"})
	saves := f.backend.saves
	for i := 0; i < 3; i++ {
		rep := f.engine.RunCycle(context.Background(), []string{"alice"})
		assert.Equal(t, 1, rep.Unchanged)
	}
	assert.Equal(t, saves, f.backend.saves)
	assert.Empty(t, f.notifier.all())
}

func TestNewItemNotifiesOnceWithCanonicalLink(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1)
	f.feed.set("m1.example", "alice", "1")
	f.engine.RunCycle(context.Background(), []string{"alice"})

	f.feed.set("m1.example", "alice", "2", "1")
	rep := f.engine.RunCycle(context.Background(), []string{"alice"})
	assert.Equal(t, 1, rep.Notified)

	sent := f.notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "🐦 <b>alice</b> posted:\nhttps://x.com/alice/status/2#m", sent[0].Text)
	assert.Equal(t, int64(-100), sent[0].Target.ChatID)
	assert.Equal(t, kit.KindPost, sent[0].Kind)
	assert.Equal(t, "m1.example", sent[0].Mirror)

	// the same item again stays quiet
	f.engine.RunCycle(context.Background(), []string{"alice"})
	assert.Len(t, f.notifier.all(), 1)
}

func TestFailoverAndTotalFailureIsolation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1)
	f.feed.set("m2.example", "alice", "1")
	f.feed.set("m2.example", "bob", "5")
	f.engine.RunCycle(context.Background(), []string{"alice", "bob"})

	// m1 has nothing for anyone; alice advances on m2, bob disappears
	f.feed.set("m2.example", "alice", "2")
	f.feed.set("m2.example", "bob")
	rep := f.engine.RunCycle(context.Background(), []string{"bob", "alice"})

	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Notified)
	sent := f.notifier.all()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "https://x.com/alice/status/2#m")
	got, _ := f.seen.Get("bob")
	assert.Equal(t, "https://m2.example/bob/status/5#m", got)
}

func TestPersistFailureWithholdsNotification(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1)
	f.feed.set("m1.example", "alice", "1")
	f.engine.RunCycle(context.Background(), []string{"alice"})

	f.feed.set("m1.example", "alice", "2")
	f.backend.setFail(true)
	rep := f.engine.RunCycle(context.Background(), []string{"alice"})
	assert.Equal(t, 1, rep.PersistFailed)
	assert.Empty(t, f.notifier.all())
	got, _ := f.seen.Get("alice")
	assert.Equal(t, "https://m1.example/alice/status/1#m", got)

	// next cycle retries naturally
	f.backend.setFail(false)
	rep = f.engine.RunCycle(context.Background(), []string{"alice"})
	assert.Equal(t, 1, rep.Notified)
	assert.Len(t, f.notifier.all(), 1)
}

func TestFirstContactPersistFailureStaysAbsent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1)
	f.feed.set("m1.example", "alice", "1")
	f.backend.setFail(true)
	f.engine.RunCycle(context.Background(), []string{"alice"})
	_, ok := f.seen.Get("alice")
	assert.False(t, ok)

	// once the disk recovers it is still a first contact
	f.backend.setFail(false)
	rep := f.engine.RunCycle(context.Background(), []string{"alice"})
	assert.Equal(t, 1, rep.FirstContact)
	assert.Empty(t, f.notifier.all())
}

func TestDeliveryFailureKeepsSeenState(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1)
	f.feed.set("m1.example", "alice", "1")
	f.engine.RunCycle(context.Background(), []string{"alice"})

	f.notifier.err = errors.New("queue full")
	f.feed.set("m1.example", "alice", "2")
	rep := f.engine.RunCycle(context.Background(), []string{"alice"})
	assert.Equal(t, 1, rep.DeliveryFailed)
	got, _ := f.seen.Get("alice")
	assert.Equal(t, "https://m1.example/alice/status/2#m", got)
}

func TestConcurrentCycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 4)
	var ids []string
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("user%d", i)
		ids = append(ids, id)
		f.feed.set("m1.example", id, "1")
	}
	rep := f.engine.RunCycle(context.Background(), ids)
	assert.Equal(t, 20, rep.FirstContact)

	for _, id := range ids {
		f.feed.set("m1.example", id, "2")
	}
	rep = f.engine.RunCycle(context.Background(), ids)
	assert.Equal(t, 20, rep.Notified)
	assert.Len(t, f.notifier.all(), 20)
	assert.Len(t, f.backend.data, 20)
}

func TestCanceledCycleStopsEarly(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1)
	f.feed.set("m1.example", "alice", "1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := f.engine.RunCycle(ctx, []string{"alice", "bob"})
	assert.True(t, rep.Canceled)
	assert.Zero(t, rep.Resolved)
}

func TestCycleReportTimingAndEvent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1)
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(1)
	defer unsub()
	f.engine.bus = bus

	rep := f.engine.RunCycle(context.Background(), nil)
	assert.NotEmpty(t, rep.ID)
	assert.Equal(t, f.clock.Now(), rep.Started)

	ev := <-ch
	assert.Equal(t, eventbus.CycleFinished, ev.Type)
	assert.Equal(t, rep.ID, ev.Data.(CycleReport).ID)
}

func TestRenderPostEscapes(t *testing.T) {
	t.Parallel()
	got := RenderPost("{user} {link} {mirror}", Event{Identifier: "a<b", Locator: "https://x.com/a?x=1&y=2", Mirror: "m"})
	assert.Equal(t, "a&lt;b https://x.com/a?x=1&amp;y=2 m", got)
	assert.Equal(t, "🐦 <b>bob</b> posted:\nL", RenderPost("", Event{Identifier: "bob", Locator: "L"}))
}
