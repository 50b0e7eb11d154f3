package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrorwatch/internal/task/scheduler"
	kit "mirrorwatch/internal/transport"
	logx "mirrorwatch/pkg/logx"
)

// fakeScheduler records registrations and runs triggers inline.
type fakeScheduler struct {
	mu        sync.Mutex
	jobs      map[string]func(context.Context) error
	specs     map[string]string
	opts      map[string]scheduler.TaskOptions
	triggered []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		jobs:  map[string]func(context.Context) error{},
		specs: map[string]string{},
		opts:  map[string]scheduler.TaskOptions{},
	}
}

func (f *fakeScheduler) AddScheduleOpt(name, spec string, _ time.Duration, opt scheduler.TaskOptions, job func(context.Context) error) (string, error) {
	if _, err := scheduler.ParseSchedule(spec); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[name] = job
	f.specs[name] = spec
	f.opts[name] = opt
	return name, nil
}

func (f *fakeScheduler) Trigger(name string) error {
	f.mu.Lock()
	job, ok := f.jobs[name]
	f.triggered = append(f.triggered, name)
	f.mu.Unlock()
	if !ok {
		return scheduler.ErrUnknownSchedule
	}
	return job(context.Background())
}

func (f *fakeScheduler) Remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[name]
	delete(f.jobs, name)
	delete(f.specs, name)
	return ok
}

func (f *fakeScheduler) registered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, n := range []string{PollTask, ReminderTask} {
		if _, ok := f.jobs[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

type fakeChats struct {
	bad map[int64]bool
}

func (f fakeChats) ResolveChat(_ context.Context, id int64) error {
	if f.bad[id] {
		return errors.New("chat not found")
	}
	return nil
}

type staticIDs struct {
	mu       sync.Mutex
	ids      []string
	refreshs int
}

func (s *staticIDs) Refresh() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshs++
	return false, nil
}

func (s *staticIDs) Current() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

func goodConfig() Config {
	return Config{ChannelID: -100, OperatorID: 7, ReminderEnabled: true, RunOnStart: true}
}

func newService(t *testing.T, cfg Config, chats kit.ChatResolver) (*Service, *fakeScheduler, *fixture, *staticIDs) {
	t.Helper()
	f := newFixture(t, 1)
	sched := newFakeScheduler()
	ids := &staticIDs{ids: []string{"alice"}}
	svc := NewService(cfg, sched, ids, f.engine, f.notifier, chats, logx.Nop(), nil)
	return svc, sched, f, ids
}

func TestStartRegistersBothTriggers(t *testing.T) {
	t.Parallel()
	svc, sched, f, ids := newService(t, goodConfig(), fakeChats{})
	f.feed.set("m1.example", "alice", "1")

	require.NoError(t, svc.Start(context.Background()))
	assert.True(t, svc.Ready())
	assert.Equal(t, []string{PollTask, ReminderTask}, sched.registered())
	assert.Equal(t, "5m", sched.specs[PollTask])
	assert.Equal(t, "720h", sched.specs[ReminderTask])
	assert.Equal(t, scheduler.OverlapSkipIfRunning, sched.opts[PollTask].Overlap)

	// run_on_start fired one poll, the reminder waits for its cadence
	assert.Equal(t, []string{PollTask}, sched.triggered)
	assert.Equal(t, 1, ids.refreshs)
	require.NotNil(t, svc.LastReport())
	assert.Equal(t, 1, svc.LastReport().FirstContact)
}

func TestStartMissingIdentities(t *testing.T) {
	t.Parallel()
	cfg := goodConfig()
	cfg.OperatorID = 0
	svc, sched, _, _ := newService(t, cfg, fakeChats{})

	err := svc.Start(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.False(t, svc.Ready())
	assert.Empty(t, sched.registered())
}

func TestStartUnreachableIdentity(t *testing.T) {
	t.Parallel()
	svc, sched, _, _ := newService(t, goodConfig(), fakeChats{bad: map[int64]bool{-100: true}})

	err := svc.Start(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Empty(t, sched.registered())
}

func TestApplyRecoversAndReschedules(t *testing.T) {
	t.Parallel()
	cfg := goodConfig()
	cfg.ChannelID = 0
	cfg.RunOnStart = false
	svc, sched, _, _ := newService(t, cfg, fakeChats{})
	require.Error(t, svc.Start(context.Background()))

	cfg.ChannelID = -100
	require.NoError(t, svc.Apply(context.Background(), cfg))
	assert.True(t, svc.Ready())

	cfg.PollEvery = "*/10 * * * *"
	cfg.ReminderEnabled = false
	require.NoError(t, svc.Apply(context.Background(), cfg))
	assert.Equal(t, "*/10 * * * *", sched.specs[PollTask])
	assert.Equal(t, []string{PollTask}, sched.registered())

	cfg.PollEvery = "nonsense"
	assert.ErrorIs(t, svc.Apply(context.Background(), cfg), ErrNotReady)
	assert.False(t, svc.Ready())

	svc.Stop()
	assert.Empty(t, sched.registered())
}

func TestReminderGoesToOperator(t *testing.T) {
	t.Parallel()
	cfg := goodConfig()
	cfg.RunOnStart = false
	cfg.ReminderOnStart = true
	svc, sched, f, _ := newService(t, cfg, fakeChats{})
	require.NoError(t, svc.Start(context.Background()))

	assert.Equal(t, []string{ReminderTask}, sched.triggered)
	sent := f.notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(7), sent[0].Target.ChatID)
	assert.Equal(t, kit.KindReminder, sent[0].Kind)
	assert.Equal(t, DefaultReminderText, sent[0].Text)

	// the reminder never touches seen-state
	assert.Zero(t, f.backend.saves)
}

func TestPollEmptyWatchlist(t *testing.T) {
	t.Parallel()
	svc, _, _, ids := newService(t, goodConfig(), fakeChats{})
	ids.ids = nil
	require.NoError(t, svc.Poll(context.Background()))
	assert.Nil(t, svc.LastReport())
}
