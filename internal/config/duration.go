package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration parses a Go duration string found at path. Blank and zero
// values yield def; negative values are rejected.
func ParseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration %q is negative", path, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}

type durationField struct {
	path string
	raw  string
}

// durationFields lists every duration string cfg carries, in file order.
// Absent optional sections contribute nothing.
func durationFields(cfg *Config) []durationField {
	out := []durationField{
		{"api.read_timeout", cfg.API.ReadTimeout},
		{"api.write_timeout", cfg.API.WriteTimeout},
		{"api.idle_timeout", cfg.API.IdleTimeout},
	}
	if n := cfg.Notifier; n != nil {
		out = append(out,
			durationField{"notifier.retry_base", n.RetryBase},
			durationField{"notifier.retry_max_delay", n.RetryMaxDelay},
			durationField{"notifier.dedup_window", n.DedupWindow},
		)
	}
	if s := cfg.Storage; s != nil {
		out = append(out, durationField{"storage.busy_timeout", s.BusyTimeout})
	}
	return out
}
