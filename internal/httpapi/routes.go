package httpapi

import (
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"

	"crongen/internal/plugin"
	logx "crongen/pkg/logx"
)

const pluginPrefix = "/api/v1/plugin/"

// Handler builds the route table. Plugin routes are resolved per request so
// plugins started or stopped after Start are picked up.
func (s *Service) Handler() http.Handler {
	s.mu.Lock()
	pprofOn := s.cfg.Pprof
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/v1/plugins", s.withAuth(s.handlePlugins))
	mux.HandleFunc("GET /api/v1/messages", s.withAuth(s.handleMessages))
	mux.HandleFunc("GET /api/v1/notifications", s.withAuth(s.handleNotifications))
	mux.HandleFunc(pluginPrefix, s.handlePluginRoute)

	if pprofOn {
		mux.HandleFunc("/debug/pprof/", s.withAuth(hpprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", s.withAuth(hpprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", s.withAuth(hpprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", s.withAuth(hpprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", s.withAuth(hpprof.Trace))
	}
	return mux
}

// withAuth accepts the token as ?apikey= or the X-API-Key header. With no
// token configured host routes are closed.
func (s *Service) withAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("apikey")
		if got == "" {
			got = r.Header.Get("X-API-Key")
		}
		if !plugin.TokenMatches(got, s.Token()) {
			plugin.WriteJSON(w, http.StatusUnauthorized, plugin.Response{Success: false, Message: "unauthorized"})
			return
		}
		h(w, r)
	}
}

func (s *Service) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if s.deps.Plugins == nil {
		plugin.WriteJSON(w, http.StatusOK, plugin.Response{Success: true, Data: plugin.Snapshot{}})
		return
	}
	plugin.WriteJSON(w, http.StatusOK, plugin.Response{Success: true, Data: s.deps.Plugins.Snapshot()})
}

func (s *Service) handleMessages(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		plugin.WriteJSON(w, http.StatusServiceUnavailable, plugin.Response{Success: false, Message: "storage disabled"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := s.deps.Store.RecentMessages(r.Context(), limit)
	if err != nil {
		s.log.Warn("list messages failed", logx.Err(err))
		plugin.WriteJSON(w, http.StatusInternalServerError, plugin.Response{Success: false, Message: err.Error()})
		return
	}
	plugin.WriteJSON(w, http.StatusOK, plugin.Response{Success: true, Data: msgs})
}

func (s *Service) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		plugin.WriteJSON(w, http.StatusServiceUnavailable, plugin.Response{Success: false, Message: "notifier disabled"})
		return
	}
	plugin.WriteJSON(w, http.StatusOK, plugin.Response{Success: true, Data: s.deps.History.History()})
}

// handlePluginRoute dispatches /api/v1/plugin/<name>/<path>. The form route
// is served by the host and needs the host token.
func (s *Service) handlePluginRoute(w http.ResponseWriter, r *http.Request) {
	name, sub, ok := splitPluginPath(r.URL.Path)
	if !ok || s.deps.Plugins == nil {
		http.NotFound(w, r)
		return
	}

	for _, api := range s.deps.Plugins.APIs()[name] {
		if normalizePath(api.Path) != sub || api.Handler == nil {
			continue
		}
		if api.Method != "" && !strings.EqualFold(api.Method, r.Method) {
			w.Header().Set("Allow", strings.ToUpper(api.Method))
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		api.Handler(w, r)
		return
	}

	if sub == "/form" && r.Method == http.MethodGet {
		s.withAuth(func(w http.ResponseWriter, r *http.Request) {
			form, def, ok := s.deps.Plugins.Form(name)
			if !ok {
				http.NotFound(w, r)
				return
			}
			plugin.WriteJSON(w, http.StatusOK, plugin.Response{Success: true, Data: map[string]any{"form": form, "model": def}})
		})(w, r)
		return
	}
	http.NotFound(w, r)
}

func splitPluginPath(p string) (name, sub string, ok bool) {
	rest := strings.TrimPrefix(p, pluginPrefix)
	if rest == p {
		return "", "", false
	}
	name, sub, _ = strings.Cut(rest, "/")
	if name == "" {
		return "", "", false
	}
	return name, normalizePath(sub), true
}

func normalizePath(p string) string {
	p = "/" + strings.Trim(p, "/")
	return p
}
