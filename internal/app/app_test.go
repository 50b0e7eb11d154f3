package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrorwatch/internal/config"
	"mirrorwatch/internal/storage"
	logx "mirrorwatch/pkg/logx"
)

func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "1:x"},
		Delivery: config.DeliveryConfig{ChannelID: -100, OperatorID: 7},
		Watch:    config.WatchConfig{WatchlistPath: filepath.Join(dir, "watchlist.txt")},
		Storage: config.StorageConfig{
			Driver:   "file",
			Path:     filepath.Join(dir, "store"),
			SeenFile: filepath.Join(dir, "seen_tweets.json"),
		},
	}
}

func TestMapDefaults(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, t.TempDir())

	nc, err := mapNotifierConfig(cfg)
	require.NoError(t, err)
	assert.True(t, nc.Enabled)
	assert.Equal(t, 15*time.Second, nc.SendTimeout)

	ec, err := mapTaskEngineConfig(cfg)
	require.NoError(t, err)
	assert.True(t, ec.Enabled)
	assert.Equal(t, 2, ec.Workers)

	wc, err := mapWatchConfig(cfg)
	require.NoError(t, err)
	assert.True(t, wc.RunOnStart)
	assert.True(t, wc.ReminderEnabled)

	lc := mapLogConfig(cfg)
	assert.Equal(t, defaultLogFile, lc.File.Path)
	assert.Equal(t, 5, lc.File.MaxSizeMB)
	assert.Equal(t, 2, lc.File.MaxBackups)

	dc, err := mapDebugConfig(cfg)
	require.NoError(t, err)
	assert.False(t, dc.Enabled)
	assert.Equal(t, 60*time.Second, dc.WriteTimeout)

	assert.Equal(t, defaultWatchlistPath, mapWatchlistOptions(&config.Config{}).Path)
}

func TestMapRejectsEngineOffWithScheduler(t *testing.T) {
	t.Parallel()
	off := false
	cfg := testConfig(t, t.TempDir())
	cfg.TaskEngine = &config.TaskEngineConfig{Enabled: &off}
	assert.Error(t, validateMapped(cfg))

	cfg.Scheduler.Enabled = &off
	assert.NoError(t, validateMapped(cfg))
}

func TestMapNotifierOverrides(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, t.TempDir())
	cfg.Notifier = &config.NotifierConfig{
		Enabled:      true,
		Workers:      3,
		RetryBase:    "2s",
		DedupWindow:  "1h",
		PersistDedup: true,
	}
	nc, err := mapNotifierConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, nc.Workers)
	assert.Equal(t, 2*time.Second, nc.RetryBase)
	assert.Equal(t, time.Hour, nc.DedupWindow)
	assert.True(t, nc.PersistDedup)

	cfg.Notifier.SendTimeout = "later"
	_, err = mapNotifierConfig(cfg)
	assert.Error(t, err)
}

func TestInspectHelpers(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(cfg.Watch.WatchlistPath,
		[]byte(`follow "alice" and "home" then "bob_2"`), 0o600))
	_, ids, err := ReadWatchlist(cfg, logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob_2"}, ids)

	st, err := OpenStore(cfg, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.SaveSeen(ctx, map[string]string{"alice": "42"}))
	require.NoError(t, st.AppendDelivery(ctx, storage.DeliveryRecord{Kind: "post", Status: storage.DeliverySent}))
	require.NoError(t, st.Close())

	seen, err := ReadSeen(ctx, cfg, logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alice": "42"}, seen)

	recs, err := ReadDeliveries(ctx, cfg, logx.Nop(), 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, storage.DeliverySent, recs[0].Status)
}

func TestCheckConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "mirrorwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("telegram:\n  token: \"1:x\"\nnotifier:\n  enabled: true\n  send_timeout: 5s\n"), 0o600))

	cfg, err := CheckConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "5s", cfg.Notifier.SendTimeout)

	require.NoError(t, os.WriteFile(path, []byte("telegram: {}\n"), 0o600))
	_, err = CheckConfig(path)
	assert.Error(t, err)
}
