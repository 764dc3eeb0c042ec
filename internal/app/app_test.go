package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"crongen/internal/config"
	"crongen/internal/plugin/builtin/crongen"
)

const appConfig = `{
  "logging": {"level": "error", "console": true, "file": {"enabled": false, "path": ""}},
  "scheduler": {"timezone": "UTC"},
  "api": {"enabled": true, "addr": "127.0.0.1:0", "token": "secret"},
  "notifier": {"enabled": true, "workers": 1, "queue_size": 16, "rate_per_sec": 50, "retry_max": 0,
               "retry_base": "", "retry_max_delay": "", "dedup_window": "", "dedup_max_entries": 0},
  "storage": {"driver": "file", "path": "STORE"},
  "plugins": {"crongen": {"enabled": true, "cron": "0 0 * * *", "notify": true}}
}`

type sdRecorder struct {
	mu     sync.Mutex
	states []string
}

func (r *sdRecorder) notify(_ bool, state string) (bool, error) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
	return false, nil
}

func (r *sdRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(b, out); err != nil {
		t.Fatalf("GET %s: decode %q: %v", url, b, err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAppEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	cfgText := strings.Replace(appConfig, "STORE", filepath.ToSlash(filepath.Join(dir, "data")), 1)
	if err := os.WriteFile(cfgPath, []byte(cfgText), 0o600); err != nil {
		t.Fatal(err)
	}

	a, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sd := &sdRecorder{}
	a.sdNotify = sd.notify
	if err := a.Register(crongen.New()); err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stopped := false
	t.Cleanup(func() {
		if !stopped {
			_ = a.Stop(context.Background())
		}
	})

	var addr string
	eventually(t, "api to bind", func() bool { addr = a.APIAddr(); return addr != "" })
	base := "http://" + addr

	var snap struct {
		Success bool `json:"success"`
		Data    struct {
			Plugins []struct {
				Name    string `json:"name"`
				Enabled bool   `json:"enabled"`
				Running bool   `json:"running"`
			} `json:"plugins"`
		} `json:"data"`
	}
	getJSON(t, base+"/api/v1/plugins?apikey=secret", &snap)
	if len(snap.Data.Plugins) != 1 || snap.Data.Plugins[0].Name != crongen.Name || !snap.Data.Plugins[0].Enabled {
		t.Fatalf("plugins = %+v", snap)
	}

	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	getJSON(t, base+"/api/v1/plugin/crongen/generate-cron?apikey=wrong", &resp)
	if resp.Success || resp.Message != "API key error" {
		t.Fatalf("wrong key response = %+v", resp)
	}
	getJSON(t, base+"/api/v1/plugin/crongen/generate-cron?apikey=secret", &resp)
	if !resp.Success {
		t.Fatalf("generate response = %+v", resp)
	}

	// The notifier persists the site message through the store sink.
	eventually(t, "stored site message", func() bool {
		var msgs struct {
			Data []struct {
				Kind string `json:"kind"`
				Text string `json:"text"`
			} `json:"data"`
		}
		getJSON(t, base+"/api/v1/messages?apikey=secret", &msgs)
		return len(msgs.Data) == 1 && msgs.Data[0].Kind == "site_message" && strings.Contains(msgs.Data[0].Text, "0 0 * * *")
	})

	// Hot reload: new cron expression reaches the plugin.
	next := strings.Replace(cfgText, `"0 0 * * *"`, `"30 6 * * 1"`, 1)
	if err := os.WriteFile(cfgPath, []byte(next), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := a.cfgm.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	eventually(t, "plugin reconfigured", func() bool {
		var st struct {
			Data struct {
				Cron  string `json:"cron"`
				State string `json:"state"`
			} `json:"data"`
		}
		getJSON(t, base+"/api/v1/plugin/crongen/status?apikey=secret", &st)
		return st.Data.Cron == "30 6 * * 1" && st.Data.State == "running"
	})

	// A reload New would reject is not committed.
	broken := strings.Replace(next, `"driver": "file"`, `"driver": "redis"`, 1)
	if err := os.WriteFile(cfgPath, []byte(broken), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := a.cfgm.Reload(context.Background()); err == nil {
		t.Fatal("Reload accepted an unknown storage driver")
	}
	if d := a.cfgm.Get().Storage.Driver; d != "file" {
		t.Fatalf("committed storage driver = %q, want file", d)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	stopped = true

	states := sd.all()
	if len(states) != 2 || states[0] != "READY=1" || states[1] != "STOPPING=1" {
		t.Fatalf("systemd states = %v", states)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	bad := `{"api": {"enabled": true, "token": ""}}`
	if err := os.WriteFile(cfgPath, []byte(bad), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(cfgPath); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		from    string
		to      string
		wantErr bool
	}{
		{name: "valid"},
		{name: "unknown timezone", from: `"timezone": "UTC"`, to: `"timezone": "Nowhere/City"`, wantErr: true},
		{name: "bad notifier duration", from: `"retry_base": ""`, to: `"retry_base": "soon"`, wantErr: true},
		{name: "sqlite without path", from: `"driver": "file", "path": "STORE"`, to: `"driver": "sqlite", "path": ""`, wantErr: true},
		{name: "unknown storage driver", from: `"driver": "file"`, to: `"driver": "redis"`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := appConfig
			if tt.from != "" {
				raw = strings.Replace(raw, tt.from, tt.to, 1)
			}
			cfg, err := config.Decode("config.json", []byte(raw))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			err = validateConfig(context.Background(), cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateConfig() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMapNotifierConfigDefaults(t *testing.T) {
	t.Parallel()
	got, err := mapNotifierConfig(nil)
	if err != nil || !got.Enabled || got.Workers != 2 || got.RetryBase != 500*time.Millisecond {
		t.Fatalf("defaults = %+v, %v", got, err)
	}
}
