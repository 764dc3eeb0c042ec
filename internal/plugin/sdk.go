package plugin

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"crongen/internal/eventbus"
	"crongen/internal/notifier"
	"crongen/internal/storage"
	logx "crongen/pkg/logx"
)

// Plugin is the lifecycle every registered plugin implements. Init and Start
// run once per process; configuration arrives through ConfigurablePlugin.
type Plugin interface {
	Name() string
	Init(ctx context.Context, deps PluginDeps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ConfigurablePlugin receives the raw plugins.<name> mapping on start and on
// every change. raw is nil when the section is absent.
type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

// StateReporter reports whether the plugin considers itself active.
type StateReporter interface {
	State() bool
}

// FormProvider returns the configuration form and its default model values.
type FormProvider interface {
	Form() (Form, map[string]any)
}

// APIProvider exposes HTTP endpoints mounted under /api/v1/plugin/<name>.
type APIProvider interface {
	APIs() []API
}

// API is one plugin endpoint. Path is relative to the plugin prefix.
type API struct {
	Path        string           `json:"path"`
	Method      string           `json:"method"`
	Summary     string           `json:"summary"`
	Description string           `json:"description,omitempty"`
	Handler     http.HandlerFunc `json:"-"`
}

// Notifier is the slice of the notification pipeline plugins may use.
type Notifier interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

type PluginDeps struct {
	Logger   logx.Logger
	Notifier Notifier
	Bus      eventbus.Bus
	Store    storage.Store
	// Location is the process-wide scheduling time zone.
	Location *time.Location
	// APIToken returns the current api.token; it follows hot reloads.
	APIToken func() string
}

// PluginBase wires deps and a plugin-scoped logger.
//
//	type Plugin struct { plugin.PluginBase }
//	func (p *Plugin) Init(ctx context.Context, deps plugin.PluginDeps) error { p.InitBase(deps, p.Name()); return nil }
type PluginBase struct {
	Log  logx.Logger
	Deps PluginDeps
}

func (b *PluginBase) InitBase(deps PluginDeps, pluginName string) {
	b.Deps = deps
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	b.Log = log.With(logx.String("plugin", pluginName))
}

// Token returns the current API token, or "" when none is configured.
func (b *PluginBase) Token() string {
	if b.Deps.APIToken == nil {
		return ""
	}
	return b.Deps.APIToken()
}

// PublishEvent publishes to the event bus if one is wired. Non-blocking.
func (b *PluginBase) PublishEvent(typ string, data any) {
	if b == nil || b.Deps.Bus == nil {
		return
	}
	b.Deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// DecodePluginConfig strictly decodes raw over def, so absent keys keep
// their default values. Empty raw returns def unchanged.
func DecodePluginConfig[T any](raw json.RawMessage, def T) (T, error) {
	out := def
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return def, fmt.Errorf("decode plugin config: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return def, fmt.Errorf("decode plugin config: trailing data")
	}
	return out, nil
}

// Response is the JSON envelope plugin endpoints answer with.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// CheckAPIKey reports whether key matches the configured token.
func (b *PluginBase) CheckAPIKey(key string) bool {
	return TokenMatches(key, b.Token())
}

// TokenMatches compares got with token in constant time. An empty token
// never matches.
func TokenMatches(got, token string) bool {
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}
