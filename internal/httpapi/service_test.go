package httpapi

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crongen/internal/notifier"
	"crongen/internal/plugin"
	"crongen/internal/storage"
	logx "crongen/pkg/logx"
)

type fakePlugins struct {
	hits int
}

func (f *fakePlugins) Snapshot() plugin.Snapshot {
	return plugin.Snapshot{Plugins: []plugin.Status{{Name: "crongen", Running: true, Enabled: true}}}
}

func (f *fakePlugins) APIs() map[string][]plugin.API {
	return map[string][]plugin.API{
		"crongen": {{
			Path:   "/generate-cron",
			Method: http.MethodGet,
			Handler: func(w http.ResponseWriter, r *http.Request) {
				f.hits++
				plugin.WriteJSON(w, http.StatusOK, plugin.Response{Success: true, Message: r.URL.Query().Get("apikey")})
			},
		}},
	}
}

func (f *fakePlugins) Form(name string) (plugin.Form, map[string]any, bool) {
	if name != "crongen" {
		return nil, nil, false
	}
	return plugin.Form{plugin.VForm()}, map[string]any{"cron": "* * * * *"}, true
}

type fakeHistory []notifier.HistoryItem

func (h fakeHistory) History() []notifier.HistoryItem { return h }

func do(t *testing.T, h http.Handler, method, target string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec.Code, rec.Body.String()
}

func TestRoutes(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "data")}, logx.Logger{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.AppendMessage(context.Background(), storage.Message{Kind: "site_message", Plugin: "crongen", Title: "t", Text: "Cron expression generated: * * * * *"}); err != nil {
		t.Fatal(err)
	}

	plugins := &fakePlugins{}
	s := New(Config{Token: "secret"}, Deps{
		Plugins: plugins,
		Store:   st,
		History: fakeHistory{{Title: "hello"}},
	}, logx.Logger{})
	h := s.Handler()

	tests := []struct {
		name     string
		method   string
		target   string
		wantCode int
		wantBody string
	}{
		{name: "healthz", method: http.MethodGet, target: "/healthz", wantCode: 200, wantBody: "ok"},
		{name: "plugins needs token", method: http.MethodGet, target: "/api/v1/plugins", wantCode: 401},
		{name: "plugins wrong token", method: http.MethodGet, target: "/api/v1/plugins?apikey=x", wantCode: 401},
		{name: "plugins", method: http.MethodGet, target: "/api/v1/plugins?apikey=secret", wantCode: 200, wantBody: `"name":"crongen"`},
		{name: "plugin route", method: http.MethodGet, target: "/api/v1/plugin/crongen/generate-cron?apikey=abc", wantCode: 200, wantBody: `"message":"abc"`},
		{name: "plugin route trailing slash", method: http.MethodGet, target: "/api/v1/plugin/crongen/generate-cron/", wantCode: 200},
		{name: "plugin route wrong method", method: http.MethodPost, target: "/api/v1/plugin/crongen/generate-cron", wantCode: 405},
		{name: "unknown plugin", method: http.MethodGet, target: "/api/v1/plugin/nope/generate-cron", wantCode: 404},
		{name: "unknown path", method: http.MethodGet, target: "/api/v1/plugin/crongen/nope", wantCode: 404},
		{name: "form needs token", method: http.MethodGet, target: "/api/v1/plugin/crongen/form", wantCode: 401},
		{name: "form", method: http.MethodGet, target: "/api/v1/plugin/crongen/form?apikey=secret", wantCode: 200, wantBody: `"model":{"cron":"* * * * *"}`},
		{name: "messages", method: http.MethodGet, target: "/api/v1/messages?apikey=secret&limit=5", wantCode: 200, wantBody: "Cron expression generated"},
		{name: "notifications", method: http.MethodGet, target: "/api/v1/notifications?apikey=secret", wantCode: 200, wantBody: "hello"},
	}
	for _, tt := range tests {
		code, body := do(t, h, tt.method, tt.target)
		if code != tt.wantCode {
			t.Fatalf("%s: code = %d, want %d (body %q)", tt.name, code, tt.wantCode, body)
		}
		if tt.wantBody != "" && !strings.Contains(body, tt.wantBody) {
			t.Fatalf("%s: body %q lacks %q", tt.name, body, tt.wantBody)
		}
	}
	if plugins.hits != 2 {
		t.Fatalf("plugin handler hits = %d, want 2", plugins.hits)
	}
}

func TestHostRoutesClosedWithoutToken(t *testing.T) {
	t.Parallel()
	s := New(Config{}, Deps{Plugins: &fakePlugins{}}, logx.Logger{})
	if code, _ := do(t, s.Handler(), http.MethodGet, "/api/v1/plugins?apikey="); code != 401 {
		t.Fatalf("code = %d, want 401", code)
	}
}

func TestOptionalDepsUnavailable(t *testing.T) {
	t.Parallel()
	s := New(Config{Token: "k"}, Deps{Plugins: &fakePlugins{}}, logx.Logger{})
	h := s.Handler()
	for _, target := range []string{"/api/v1/messages?apikey=k", "/api/v1/notifications?apikey=k"} {
		if code, _ := do(t, h, http.MethodGet, target); code != http.StatusServiceUnavailable {
			t.Fatalf("%s: code = %d", target, code)
		}
	}
}

func TestPprofMountedOnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	off := New(Config{Token: "k"}, Deps{}, logx.Logger{})
	if code, _ := do(t, off.Handler(), http.MethodGet, "/debug/pprof/?apikey=k"); code != 404 {
		t.Fatalf("pprof off: code = %d", code)
	}
	on := New(Config{Token: "k", Pprof: true}, Deps{}, logx.Logger{})
	if code, _ := do(t, on.Handler(), http.MethodGet, "/debug/pprof/?apikey=k"); code != 200 {
		t.Fatalf("pprof on: code = %d", code)
	}
}

func waitAddr(t *testing.T, s *Service) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if a := s.Addr(); a != "" {
			return a
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server did not bind")
	return ""
}

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0", Token: "k"}, Deps{Plugins: &fakePlugins{}}, logx.Logger{})
	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx) // idempotent

	addr := waitAddr(t, s)
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(b) != "ok" {
		t.Fatalf("healthz = %q", b)
	}

	// Token changes do not restart; disabling stops.
	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "k2"})
	if s.Addr() != addr {
		t.Fatal("token change should not restart the server")
	}
	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	s.Reconfigure(stopCtx, Config{Enabled: false})
	if s.Addr() != "" {
		t.Fatal("server should be stopped")
	}
	if _, err := http.Get("http://" + addr + "/healthz"); err == nil {
		t.Fatal("expected connection error after stop")
	}
}

func TestServeGivesUpWhenAddrStaysBusy(t *testing.T) {
	t.Parallel()
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	s := New(Config{Enabled: true, Addr: busy.Addr().String(), Token: "k"}, Deps{}, logx.Logger{})
	s.restartMin, s.restartMax, s.maxRestarts = time.Millisecond, 2*time.Millisecond, 2
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()

	deadline := time.Now().Add(3 * time.Second)
	for sup.Counters().Active != 0 {
		if time.Now().After(deadline) {
			t.Fatal("serve loop kept restarting")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if sup.Err() == nil {
		t.Fatal("listen failure should be recorded")
	}
	if s.Addr() != "" {
		t.Fatalf("Addr() = %q, want empty", s.Addr())
	}
}

func TestTokenSharedWithPluginCheck(t *testing.T) {
	t.Parallel()
	s := New(Config{Token: " k "}, Deps{Plugins: &fakePlugins{}}, logx.Logger{})
	base := plugin.PluginBase{Deps: plugin.PluginDeps{APIToken: s.Token}}
	if !base.CheckAPIKey("k") {
		t.Fatal("plugin check should accept the host token")
	}
	if code, _ := do(t, s.Handler(), http.MethodGet, "/api/v1/plugins?apikey=k"); code != http.StatusOK {
		t.Fatalf("host route code = %d", code)
	}

	s.Reconfigure(context.Background(), Config{Token: "k2"})
	if base.CheckAPIKey("k") || !base.CheckAPIKey("k2") {
		t.Fatal("plugin check should follow token reconfiguration")
	}
	if code, _ := do(t, s.Handler(), http.MethodGet, "/api/v1/plugins?apikey=k"); code != http.StatusUnauthorized {
		t.Fatalf("old token code = %d, want 401", code)
	}
}

func TestSplitPluginPath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, name, sub string
		ok            bool
	}{
		{in: "/api/v1/plugin/crongen/generate-cron", name: "crongen", sub: "/generate-cron", ok: true},
		{in: "/api/v1/plugin/crongen", name: "crongen", sub: "/", ok: true},
		{in: "/api/v1/plugin/", ok: false},
		{in: "/other", ok: false},
	}
	for _, tt := range tests {
		name, sub, ok := splitPluginPath(tt.in)
		if ok != tt.ok || name != tt.name || sub != tt.sub {
			t.Fatalf("splitPluginPath(%q) = %q, %q, %v", tt.in, name, sub, ok)
		}
	}
}
