package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "mirrorwatch/pkg/logx"
)

func openTestStores(t *testing.T) map[string]func(dir string) Config {
	t.Helper()
	return map[string]func(dir string) Config{
		"file": func(dir string) Config {
			return Config{Driver: "file", Path: filepath.Join(dir, "store"), SeenFile: filepath.Join(dir, "seen_tweets.json")}
		},
		"sqlite": func(dir string) Config {
			return Config{Driver: "sqlite", Path: filepath.Join(dir, "mirrorwatch.db"), BusyTimeout: time.Second}
		},
	}
}

func TestSeenRoundTrip(t *testing.T) {
	t.Parallel()
	for name, mk := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			ctx := context.Background()

			st, err := Open(mk(dir), logx.Nop())
			require.NoError(t, err)

			got, err := st.LoadSeen(ctx)
			require.NoError(t, err)
			assert.Empty(t, got)

			want := map[string]string{"alice": "https://n/alice/status/1#m", "bob": "2"}
			require.NoError(t, st.SaveSeen(ctx, want))
			require.NoError(t, st.SaveSeen(ctx, map[string]string{"alice": "3", "bob": "2"}))
			require.NoError(t, st.Close())

			reopened, err := Open(mk(dir), logx.Nop())
			require.NoError(t, err)
			defer reopened.Close()

			got, err = reopened.LoadSeen(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"alice": "3", "bob": "2"}, got)
		})
	}
}

func TestDeliveriesNewestFirst(t *testing.T) {
	t.Parallel()
	for name, mk := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, err := Open(mk(t.TempDir()), logx.Nop())
			require.NoError(t, err)
			defer st.Close()

			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			for i, status := range []string{DeliverySent, DeliveryFailed, DeliverySent} {
				require.NoError(t, st.AppendDelivery(ctx, DeliveryRecord{
					At:         base.Add(time.Duration(i) * time.Minute),
					Kind:       "post",
					Identifier: "alice",
					ItemID:     string(rune('a' + i)),
					ChatID:     -100,
					Status:     status,
					Attempts:   1,
				}))
			}

			recs, err := st.RecentDeliveries(ctx, 2)
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Equal(t, "c", recs[0].ItemID)
			assert.Equal(t, "b", recs[1].ItemID)
			assert.Equal(t, DeliveryFailed, recs[1].Status)
			assert.True(t, recs[0].At.Equal(base.Add(2*time.Minute)))
		})
	}
}

func TestDedupExpiry(t *testing.T) {
	t.Parallel()
	for name, mk := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, err := Open(mk(t.TempDir()), logx.Nop())
			require.NoError(t, err)
			defer st.Close()

			require.NoError(t, st.PutDedup(ctx, "live", time.Now().Add(time.Hour)))
			require.NoError(t, st.PutDedup(ctx, "gone", time.Now().Add(-time.Hour)))

			_, ok, err := st.GetDedup(ctx, "live")
			require.NoError(t, err)
			assert.True(t, ok)

			_, ok, err = st.GetDedup(ctx, "gone")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestFileSeenCorruptAndFormat(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	seen := filepath.Join(dir, "seen_tweets.json")
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "store"), SeenFile: seen}

	require.NoError(t, os.WriteFile(seen, []byte("{not json"), 0o600))
	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	_, err = st.LoadSeen(context.Background())
	assert.True(t, errors.Is(err, ErrCorrupt))

	// a plain JSON object, readable by anything that wrote the legacy file
	require.NoError(t, st.SaveSeen(context.Background(), map[string]string{"alice": "1"}))
	b, err := os.ReadFile(seen)
	require.NoError(t, err)
	assert.JSONEq(t, `{"alice":"1"}`, string(b))

	_, err = os.Stat(seen + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileSaveSeenFailsWhenDirGone(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	sub := filepath.Join(dir, "state")
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "store"), SeenFile: filepath.Join(sub, "seen.json")}

	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, os.RemoveAll(sub))
	assert.Error(t, st.SaveSeen(context.Background(), map[string]string{"a": "1"}))
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	assert.Error(t, err)
}
