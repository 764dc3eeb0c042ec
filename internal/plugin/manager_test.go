package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"crongen/internal/config"
	"crongen/internal/eventbus"
	logx "crongen/pkg/logx"
)

type fakePlugin struct {
	name string

	mu       sync.Mutex
	calls    []string
	raws     []string
	enabled  bool
	applyErr error
	panicCfg bool
	initErr  error

	stopped *[]string
}

func (p *fakePlugin) Name() string { return p.name }

func (p *fakePlugin) record(c string) {
	p.mu.Lock()
	p.calls = append(p.calls, c)
	p.mu.Unlock()
}

func (p *fakePlugin) Init(context.Context, PluginDeps) error { p.record("init"); return p.initErr }
func (p *fakePlugin) Start(context.Context) error            { p.record("start"); return nil }

func (p *fakePlugin) Stop(context.Context) error {
	p.record("stop")
	if p.stopped != nil {
		*p.stopped = append(*p.stopped, p.name)
	}
	return nil
}

func (p *fakePlugin) OnConfigChange(_ context.Context, raw json.RawMessage) error {
	if p.panicCfg {
		panic("bad config")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "config")
	p.raws = append(p.raws, string(raw))
	if p.applyErr != nil {
		p.enabled = false
		return p.applyErr
	}
	var c struct {
		Enabled bool `json:"enabled"`
	}
	_ = json.Unmarshal(raw, &c)
	p.enabled = c.Enabled
	return nil
}

func (p *fakePlugin) State() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

func (p *fakePlugin) Form() (Form, map[string]any) {
	return Form{VForm(VRow(VCol(6, VSwitch("enabled", "Enable"))))}, map[string]any{"enabled": false}
}

func (p *fakePlugin) APIs() []API {
	return []API{{Path: "/ping", Method: http.MethodGet, Handler: func(http.ResponseWriter, *http.Request) {}}}
}

func (p *fakePlugin) configCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == "config" {
			n++
		}
	}
	return n
}

func cfgWith(plugins map[string]string) *config.Config {
	cfg := &config.Config{Plugins: map[string]json.RawMessage{}}
	for k, v := range plugins {
		cfg.Plugins[k] = json.RawMessage(v)
	}
	return cfg
}

func TestStartAllAppliesConfigAndReportsState(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe("plugin.", 16)
	defer unsub()

	p := &fakePlugin{name: "gen"}
	pm := NewManager(logxNop(), PluginDeps{Bus: bus})
	if err := pm.Register(p); err != nil {
		t.Fatal(err)
	}
	if err := pm.StartAll(context.Background(), cfgWith(map[string]string{"gen": `{"enabled": true}`})); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	t.Cleanup(func() { pm.StopAll(context.Background()) })

	snap := pm.Snapshot()
	if len(snap.Plugins) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	st := snap.Plugins[0]
	if !st.Running || !st.Enabled || st.Misconfigured || !st.HasForm || len(st.APIs) != 1 || st.APIs[0] != "/ping" {
		t.Fatalf("status = %+v", st)
	}
	if apis := pm.APIs(); len(apis["gen"]) != 1 {
		t.Fatalf("APIs() = %+v", apis)
	}
	if _, def, ok := pm.Form("gen"); !ok || def["enabled"] != false {
		t.Fatalf("Form() defaults = %v, %v", def, ok)
	}

	want := []string{"plugin.started", "plugin.config_applied"}
	for _, typ := range want {
		select {
		case ev := <-events:
			if ev.Type != typ {
				t.Fatalf("event = %q, want %q", ev.Type, typ)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %q", typ)
		}
	}
}

func TestApplySkipsUnchangedConfig(t *testing.T) {
	t.Parallel()
	p := &fakePlugin{name: "gen"}
	pm := NewManager(logxNop(), PluginDeps{})
	_ = pm.Register(p)
	ctx := context.Background()
	if err := pm.StartAll(ctx, cfgWith(map[string]string{"gen": `{"enabled":true,"cron":"* * * * *"}`})); err != nil {
		t.Fatal(err)
	}

	// Same content, different key order and whitespace.
	pm.Apply(ctx, cfgWith(map[string]string{"gen": `{ "cron": "* * * * *", "enabled": true }`}))
	if got := p.configCalls(); got != 1 {
		t.Fatalf("config calls = %d, want 1", got)
	}

	pm.Apply(ctx, cfgWith(map[string]string{"gen": `{"enabled":false,"cron":"* * * * *"}`}))
	if got := p.configCalls(); got != 2 {
		t.Fatalf("config calls = %d, want 2", got)
	}
	if p.State() {
		t.Fatal("plugin should report disabled")
	}

	// Section removed: the plugin gets nil and falls back to defaults.
	pm.Apply(ctx, cfgWith(nil))
	if got := p.configCalls(); got != 3 || p.raws[2] != "" {
		t.Fatalf("config calls = %d raws = %q", got, p.raws)
	}
}

func TestConfigFailureMarksMisconfigured(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		p    *fakePlugin
	}{
		{name: "error", p: &fakePlugin{name: "gen", applyErr: errors.New("cron expression must have 5 fields")}},
		{name: "panic", p: &fakePlugin{name: "gen", panicCfg: true}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pm := NewManager(logxNop(), PluginDeps{})
			_ = pm.Register(tt.p)
			if err := pm.StartAll(context.Background(), cfgWith(map[string]string{"gen": `{"enabled":true}`})); err != nil {
				t.Fatalf("StartAll should not fail on config errors: %v", err)
			}
			st := pm.Snapshot().Plugins[0]
			if !st.Running || st.Enabled || !st.Misconfigured || st.ConfigErr == "" {
				t.Fatalf("status = %+v", st)
			}
		})
	}
}

func TestInitFailureSkipsPlugin(t *testing.T) {
	t.Parallel()
	bad := &fakePlugin{name: "bad", initErr: errors.New("no deps")}
	good := &fakePlugin{name: "good"}
	pm := NewManager(logxNop(), PluginDeps{})
	_ = pm.Register(bad, good)
	err := pm.StartAll(context.Background(), cfgWith(nil))
	if err == nil {
		t.Fatal("expected init error")
	}
	snap := pm.Snapshot()
	for _, st := range snap.Plugins {
		if st.Name == "bad" && st.Running {
			t.Fatal("bad plugin should not run")
		}
		if st.Name == "good" && !st.Running {
			t.Fatal("good plugin should run")
		}
	}
}

func TestStopAllReverseOrder(t *testing.T) {
	t.Parallel()
	var stopped []string
	a := &fakePlugin{name: "a", stopped: &stopped}
	b := &fakePlugin{name: "b", stopped: &stopped}
	pm := NewManager(logxNop(), PluginDeps{})
	_ = pm.Register(a, b)
	if err := pm.StartAll(context.Background(), cfgWith(nil)); err != nil {
		t.Fatal(err)
	}
	pm.StopAll(context.Background())
	if len(stopped) != 2 || stopped[0] != "b" || stopped[1] != "a" {
		t.Fatalf("stop order = %v", stopped)
	}
	if len(pm.APIs()) != 0 {
		t.Fatal("stopped plugins should expose no APIs")
	}
	// Stopping twice is a no-op.
	pm.StopAll(context.Background())
	if len(stopped) != 2 {
		t.Fatalf("stop order = %v", stopped)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	t.Parallel()
	pm := NewManager(logxNop(), PluginDeps{})
	if err := pm.Register(&fakePlugin{name: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := pm.Register(&fakePlugin{name: "x"}); err == nil {
		t.Fatal("expected duplicate error")
	}
	if err := pm.Register(&fakePlugin{}); err == nil {
		t.Fatal("expected empty name error")
	}
}

func TestDecodePluginConfig(t *testing.T) {
	t.Parallel()
	type cfg struct {
		Enabled bool   `json:"enabled"`
		Cron    string `json:"cron"`
	}
	def := cfg{Cron: "* * * * *"}
	tests := []struct {
		name    string
		raw     string
		want    cfg
		wantErr bool
	}{
		{name: "empty", raw: "", want: def},
		{name: "null", raw: "null", want: def},
		{name: "partial", raw: `{"enabled":true}`, want: cfg{Enabled: true, Cron: "* * * * *"}},
		{name: "full", raw: `{"enabled":true,"cron":"0 0 * * *"}`, want: cfg{Enabled: true, Cron: "0 0 * * *"}},
		{name: "unknown", raw: `{"enabeld":true}`, want: def, wantErr: true},
		{name: "trailing", raw: `{} {}`, want: def, wantErr: true},
	}
	for _, tt := range tests {
		got, err := DecodePluginConfig(json.RawMessage(tt.raw), def)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%s: err = %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: got %+v, want %+v", tt.name, got, tt.want)
		}
	}
}

func logxNop() logx.Logger { return logx.Nop() }
