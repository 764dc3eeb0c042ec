package config

import "encoding/json"

// Config is the on-disk configuration (JSON or YAML).
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	API       APIConfig       `json:"api"`

	// Notifier defaults to enabled when the section is omitted.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`

	// Plugins maps plugin name -> its config mapping, handed to the plugin
	// wholesale on every (re)initialization.
	Plugins map[string]json.RawMessage `json:"plugins"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig holds process-wide scheduling settings.
type SchedulerConfig struct {
	// Timezone is an IANA name (e.g. "Asia/Shanghai"); empty means Local.
	Timezone string `json:"timezone,omitempty"`
}

// APIConfig controls the HTTP server that exposes plugin endpoints.
//
// Token is the shared API key checked by plugin endpoints (never logged).
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:3001"
	Token   string `json:"token,omitempty"`
	// Pprof mounts /debug/pprof/ behind the token.
	Pprof bool `json:"pprof,omitempty"`

	// Go duration strings.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
// Durations are Go duration strings (e.g. "500ms", "10s").
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

// StorageConfig controls site message persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/crongen.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// TelegramConfig enables forwarding notifications to one chat.
type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}
