package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrorwatch/internal/task/engine"
	logx "mirrorwatch/pkg/logx"
)

func newTestScheduler(t *testing.T) *Service {
	t.Helper()
	eng := engine.New(engine.Config{Enabled: true, Workers: 2}, logx.Nop(), nil)
	eng.Start(context.Background())
	s := New(Config{Enabled: true, Timezone: "UTC"}, eng, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		eng.Stop(ctx)
	})
	return s
}

func TestTriggerRunsJobImmediately(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t)

	var runs atomic.Int32
	_, err := s.AddSchedule("watch.poll", "5m", time.Second, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Trigger("watch.poll"))
	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestTriggerUnknown(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t)
	assert.ErrorIs(t, s.Trigger("nope"), ErrUnknownSchedule)
}

func TestTriggerSkipsWhileRunning(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	_, err := s.AddSchedule("watch.poll", "5m", 0, func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Trigger("watch.poll"))
	<-started
	assert.ErrorIs(t, s.Trigger("watch.poll"), engine.ErrOverlapSkip)
	close(release)
}

func TestUpsertReplacesByName(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t)

	noop := func(context.Context) error { return nil }
	_, err := s.AddSchedule("watch.reminder", "720h", 0, noop)
	require.NoError(t, err)
	_, err = s.AddSchedule("watch.reminder", "24h", 0, noop)
	require.NoError(t, err)

	snap := s.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.Equal(t, "@every 24h0m0s", snap.Schedules[0].Spec)
	assert.False(t, snap.Schedules[0].Next.IsZero())

	assert.True(t, s.Remove("watch.reminder"))
	assert.False(t, s.Remove("watch.reminder"))
	assert.Empty(t, s.Snapshot().Schedules)
}

func TestAddScheduleRejectsBadSpec(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t)

	_, err := s.AddSchedule("bad", "61 * * * *", 0, func(context.Context) error { return nil })
	assert.Error(t, err)
	_, err = s.AddSchedule("", "5m", 0, func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestDefinitionsRegisteredOnStart(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, nil, logx.Nop())
	_, err := s.AddInterval("later", time.Hour, 0, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, s.Snapshot().Schedules[0].Next.IsZero())

	s.Start(context.Background())
	defer s.Stop(context.Background())
	assert.False(t, s.Snapshot().Schedules[0].Next.IsZero())
}
