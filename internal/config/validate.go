package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks fields that would otherwise only fail when a service
// starts. It never mutates cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	if cfg.API.Enabled && strings.TrimSpace(cfg.API.Token) == "" {
		errs = append(errs, errors.New("api.token is required when api.enabled is true"))
	}
	for _, f := range durationFields(cfg) {
		if _, err := ParseDuration(f.path, f.raw, 0); err != nil {
			errs = append(errs, err)
		}
	}

	if t := cfg.Telegram; t != nil && strings.TrimSpace(t.Token) != "" && t.ChatID == 0 {
		errs = append(errs, errors.New("telegram.chat_id is required when telegram.token is set"))
	}

	return errors.Join(errs...)
}
