package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crongen/internal/config"
	"crongen/internal/httpapi"
	"crongen/internal/notifier"
	"crongen/internal/storage"
	logx "crongen/pkg/logx"
)

// validateConfig extends config.Validate with the checks New performs while
// mapping sections, so a reload New would reject is never committed.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	_, err := mapAPIConfig(cfg)
	return err
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDuration("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapNotifierConfig fills defaults for omitted values. A missing section
// means enabled with defaults.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:         true,
		Workers:         2,
		QueueSize:       256,
		RatePerSec:      5,
		RetryMax:        3,
		RetryBase:       500 * time.Millisecond,
		RetryMaxDelay:   10 * time.Second,
		DedupWindow:     0,
		DedupMaxEntries: 1024,
	}
	if cfg == nil || cfg.Notifier == nil {
		return out, nil
	}
	n := cfg.Notifier
	out.Enabled = n.Enabled
	if n.Workers > 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize > 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec > 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax > 0 {
		out.RetryMax = n.RetryMax
	}
	if n.DedupMaxEntries > 0 {
		out.DedupMaxEntries = n.DedupMaxEntries
	}
	var err error
	if out.RetryBase, err = config.ParseDuration("notifier.retry_base", n.RetryBase, out.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDuration("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDuration("notifier.dedup_window", n.DedupWindow, 0); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapAPIConfig(cfg *config.Config) (httpapi.Config, error) {
	a := cfg.API
	out := httpapi.Config{Enabled: a.Enabled, Addr: a.Addr, Token: a.Token, Pprof: a.Pprof}
	var err error
	if out.ReadTimeout, err = config.ParseDuration("api.read_timeout", a.ReadTimeout, 10*time.Second); err != nil {
		return httpapi.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDuration("api.write_timeout", a.WriteTimeout, 30*time.Second); err != nil {
		return httpapi.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDuration("api.idle_timeout", a.IdleTimeout, 60*time.Second); err != nil {
		return httpapi.Config{}, err
	}
	return out, nil
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func telegramSinkConfig(cfg *config.Config) (notifier.TelegramConfig, bool) {
	t := cfg.Telegram
	if t == nil || strings.TrimSpace(t.Token) == "" {
		return notifier.TelegramConfig{}, false
	}
	return notifier.TelegramConfig{Token: strings.TrimSpace(t.Token), ChatID: t.ChatID, ThreadID: t.ThreadID}, true
}
