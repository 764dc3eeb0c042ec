package crongen

import (
	"net/http"
	"time"

	core "crongen/internal/plugin"
	logx "crongen/pkg/logx"
)

const (
	msgAPIKeyError = "API key error"
	msgTriggered   = "generation task triggered"
)

func (p *Plugin) APIs() []core.API {
	return []core.API{
		{
			Path:        "/generate-cron",
			Method:      http.MethodGet,
			Summary:     "Trigger cron expression generation",
			Description: "Runs the generation job once, outside the schedule.",
			Handler:     p.handleGenerate,
		},
		{
			Path:    "/status",
			Method:  http.MethodGet,
			Summary: "Current schedule and next fire time",
			Handler: p.handleStatus,
		},
	}
}

// handleGenerate answers 200 in both cases; success carries the outcome.
func (p *Plugin) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !p.CheckAPIKey(r.URL.Query().Get("apikey")) {
		p.Log.Warn("generate-cron rejected: bad api key", logx.String("remote", r.RemoteAddr))
		core.WriteJSON(w, http.StatusOK, core.Response{Success: false, Message: msgAPIKeyError})
		return
	}
	p.Generate(r.Context())
	core.WriteJSON(w, http.StatusOK, core.Response{Success: true, Message: msgTriggered})
}

type statusView struct {
	Enabled bool       `json:"enabled"`
	Cron    string     `json:"cron"`
	Notify  bool       `json:"notify"`
	State   string     `json:"state"`
	Jobs    int        `json:"jobs"`
	Next    *time.Time `json:"next,omitempty"`
}

func (p *Plugin) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !p.CheckAPIKey(r.URL.Query().Get("apikey")) {
		core.WriteJSON(w, http.StatusOK, core.Response{Success: false, Message: msgAPIKeyError})
		return
	}
	cfg := p.Config()
	v := statusView{Enabled: cfg.Enabled, Cron: cfg.Cron, Notify: cfg.Notify, State: "stopped"}
	if m := p.manager(); m != nil {
		v.State = m.State().String()
		v.Jobs = m.Jobs()
		if next := m.Next(); !next.IsZero() {
			v.Next = &next
		}
	}
	core.WriteJSON(w, http.StatusOK, core.Response{Success: true, Data: v})
}
