package app

import (
	"context"
	"fmt"

	"mirrorwatch/internal/config"
	"mirrorwatch/internal/storage"
	"mirrorwatch/internal/watchlist"
	logx "mirrorwatch/pkg/logx"
)

// Offline helpers for the CLI. None of them touch the network.

// CheckConfig loads, validates and maps path without starting anything.
func CheckConfig(path string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(path).Load()
	if err != nil {
		return nil, err
	}
	if err := validateMapped(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OpenStore opens the configured storage backend.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(sc, log)
}

// ReadWatchlist parses the identifier blob once.
func ReadWatchlist(cfg *config.Config, log logx.Logger) (string, []string, error) {
	opt := mapWatchlistOptions(cfg)
	ids, err := watchlist.New(opt, log)
	if err != nil {
		return opt.Path, nil, err
	}
	if _, err := ids.Refresh(); err != nil {
		return opt.Path, nil, fmt.Errorf("watchlist %s: %w", opt.Path, err)
	}
	return opt.Path, ids.Current(), nil
}

// ReadSeen returns the persisted seen-state.
func ReadSeen(ctx context.Context, cfg *config.Config, log logx.Logger) (map[string]string, error) {
	st, err := OpenStore(cfg, log)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.LoadSeen(ctx)
}

// ReadDeliveries returns up to limit journal records, newest first.
func ReadDeliveries(ctx context.Context, cfg *config.Config, log logx.Logger, limit int) ([]storage.DeliveryRecord, error) {
	st, err := OpenStore(cfg, log)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.RecentDeliveries(ctx, limit)
}
