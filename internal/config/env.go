package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment overrides, for secrets kept out of the config file.
const (
	EnvTelegramToken = "MIRRORWATCH_TELEGRAM_TOKEN"
	EnvChannelID     = "MIRRORWATCH_CHANNEL_ID"
	EnvOperatorID    = "MIRRORWATCH_OPERATOR_ID"
)

func applyEnv(cfg *Config, getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	for _, e := range []struct {
		key string
		dst *int64
	}{
		{EnvChannelID, &cfg.Delivery.ChannelID},
		{EnvOperatorID, &cfg.Delivery.OperatorID},
	} {
		v := strings.TrimSpace(getenv(e.key))
		if v == "" {
			continue
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", e.key, err)
		}
		*e.dst = id
	}
	return nil
}
