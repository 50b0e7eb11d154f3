package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"mirrorwatch/internal/task/scheduler"
	logx "mirrorwatch/pkg/logx"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})

		_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
			d, err := time.ParseDuration(strings.TrimSpace(fl.Field().String()))
			return err == nil && d >= 0
		})
		_ = v.RegisterValidation("schedule", func(fl validator.FieldLevel) bool {
			_, err := scheduler.ParseSchedule(fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
			_, ok := logx.ParseLevel(fl.Field().String())
			return ok
		})
		_ = v.RegisterValidation("regexp1", func(fl validator.FieldLevel) bool {
			re, err := regexp.Compile(fl.Field().String())
			return err == nil && re.NumSubexp() >= 1
		})
		_ = v.RegisterValidation("hostname_list", func(fl validator.FieldLevel) bool {
			hosts, ok := fl.Field().Interface().([]string)
			if !ok {
				return false
			}
			seen := map[string]bool{}
			for _, h := range hosts {
				h = strings.ToLower(strings.TrimSpace(h))
				if !hostRe.MatchString(h) || seen[h] {
					return false
				}
				seen[h] = true
			}
			return true
		})
		validate = v
	})
	return validate
}

var hostRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)*(:[0-9]{1,5})?$`)

// Validate checks field rules and the few cross-section constraints.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var msgs []string
	if err := validatorInstance().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("configuration validation error: %w", err)
		}
		for _, e := range verrs {
			msgs = append(msgs, describe(e))
		}
	}

	if cfg.Logging.Telegram.Enabled && cfg.Delivery.LogChatID == 0 {
		msgs = append(msgs, "'logging.telegram.enabled' needs 'delivery.log_chat_id'")
	}
	if cfg.Notifier != nil && cfg.Notifier.PersistDedup && strings.TrimSpace(cfg.Notifier.DedupWindow) == "" {
		msgs = append(msgs, "'notifier.persist_dedup' needs 'notifier.dedup_window'")
	}

	if len(msgs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  %s", strings.Join(msgs, "\n  "))
	}
	return nil
}

func describe(e validator.FieldError) string {
	// drop the root type name
	_, path, _ := strings.Cut(e.Namespace(), ".")
	msg := fmt.Sprintf("'%s': rule '%s'", path, e.Tag())
	if e.Param() != "" {
		msg += fmt.Sprintf(" (expected: %s)", e.Param())
	}
	if s, ok := e.Value().(string); ok && s != "" && !strings.Contains(strings.ToLower(path), "token") {
		msg += fmt.Sprintf(", actual: '%s'", s)
	}
	return msg
}
