package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"crongen/internal/config"
	"crongen/internal/eventbus"
	logx "crongen/pkg/logx"
)

const callTimeout = 10 * time.Second

type pluginEvent struct {
	Plugin string `json:"plugin"`
	Stage  string `json:"stage,omitempty"`
	Err    string `json:"err,omitempty"`
	TookMS int64  `json:"took_ms,omitempty"`
}

// Snapshot is a point-in-time view of the registered plugins.
type Snapshot struct {
	Time    time.Time `json:"time"`
	Plugins []Status  `json:"plugins"`
}

type Status struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	// Enabled is the plugin's own StateReporter answer.
	Enabled       bool      `json:"enabled"`
	Misconfigured bool      `json:"misconfigured"`
	ConfigErr     string    `json:"config_err,omitempty"`
	ConfigErrAt   time.Time `json:"config_err_at,omitempty"`
	HasForm       bool      `json:"has_form"`
	APIs          []string  `json:"apis,omitempty"`
}

type configErr struct {
	err   string
	since time.Time
}

// Manager owns plugin lifecycles: every registered plugin is initialized and
// started once, then receives its plugins.<name> mapping on each change.
type Manager struct {
	// opMu serializes StartAll/Apply/StopAll.
	opMu sync.Mutex

	mu       sync.Mutex
	log      logx.Logger
	deps     PluginDeps
	order    []string
	reg      map[string]Plugin
	run      map[string]bool
	applied  map[string]bool
	lastHash map[string]uint64
	cfgErr   map[string]configErr
	pcancel  map[string]context.CancelFunc

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

func NewManager(log logx.Logger, deps PluginDeps) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Manager{
		log:        log.With(logx.String("comp", "plugins")),
		deps:       deps,
		reg:        map[string]Plugin{},
		run:        map[string]bool{},
		applied:    map[string]bool{},
		lastHash:   map[string]uint64{},
		cfgErr:     map[string]configErr{},
		pcancel:    map[string]context.CancelFunc{},
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
}

func (pm *Manager) emit(typ string, data pluginEvent) {
	if pm.deps.Bus == nil {
		return
	}
	pm.deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// Register adds plugins in start order. Duplicate names are rejected.
func (pm *Manager) Register(p ...Plugin) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, pl := range p {
		if pl == nil {
			continue
		}
		name := pl.Name()
		if name == "" {
			return errors.New("plugin name is empty")
		}
		if _, dup := pm.reg[name]; dup {
			return fmt.Errorf("plugin %q already registered", name)
		}
		pm.reg[name] = pl
		pm.order = append(pm.order, name)
	}
	return nil
}

// StartAll initializes, starts and configures every registered plugin.
// Plugins that fail Init or Start are skipped and reported in the returned
// error; configuration failures only mark the plugin misconfigured.
func (pm *Manager) StartAll(ctx context.Context, cfg *config.Config) error {
	pm.opMu.Lock()
	defer pm.opMu.Unlock()

	var errs []error
	for _, name := range pm.names() {
		p := pm.plugin(name)
		if pm.isRunning(name) {
			continue
		}

		ictx, icancel := context.WithTimeout(ctx, callTimeout)
		err := pm.safeCall("plugin.init."+name, func() error { return p.Init(ictx, pm.deps) })
		icancel()
		if err != nil {
			pm.log.Error("plugin init failed", logx.String("plugin", name), logx.Err(err))
			pm.emit("plugin.init_failed", pluginEvent{Plugin: name, Err: err.Error()})
			errs = append(errs, fmt.Errorf("%s: init: %w", name, err))
			continue
		}

		// Start gets a long-lived context that is canceled on stop, not the
		// caller's possibly call-scoped ctx.
		start := time.Now()
		pctx, pcancel := context.WithCancel(pm.baseCtx)
		err = pm.safeCall("plugin.start."+name, func() error { return p.Start(pctx) })
		if err != nil {
			pcancel()
			pm.log.Error("plugin start failed", logx.String("plugin", name), logx.Err(err))
			pm.emit("plugin.start_failed", pluginEvent{Plugin: name, Err: err.Error()})
			errs = append(errs, fmt.Errorf("%s: start: %w", name, err))
			continue
		}

		pm.mu.Lock()
		pm.run[name] = true
		pm.pcancel[name] = pcancel
		pm.mu.Unlock()
		pm.log.Info("plugin started", logx.String("plugin", name), logx.Duration("took", time.Since(start)))
		pm.emit("plugin.started", pluginEvent{Plugin: name, TookMS: time.Since(start).Milliseconds()})

		pm.applyOne(ctx, name, p, pluginRaw(cfg, name))
	}
	return errors.Join(errs...)
}

// Apply hands each running plugin its new config mapping. Mappings whose
// canonical JSON did not change since the last apply are skipped.
func (pm *Manager) Apply(ctx context.Context, cfg *config.Config) {
	pm.opMu.Lock()
	defer pm.opMu.Unlock()
	for _, name := range pm.names() {
		if !pm.isRunning(name) {
			continue
		}
		pm.applyOne(ctx, name, pm.plugin(name), pluginRaw(cfg, name))
	}
}

func (pm *Manager) applyOne(ctx context.Context, name string, p Plugin, raw json.RawMessage) {
	cp, ok := p.(ConfigurablePlugin)
	if !ok {
		return
	}
	h := config.CanonicalHash(raw)
	pm.mu.Lock()
	unchanged := pm.applied[name] && pm.lastHash[name] == h
	pm.mu.Unlock()
	if unchanged {
		pm.log.Debug("plugin config unchanged; skipping", logx.String("plugin", name))
		return
	}

	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	err := pm.safeCall("plugin.config."+name, func() error { return cp.OnConfigChange(cctx, raw) })
	cancel()

	pm.mu.Lock()
	pm.applied[name] = true
	pm.lastHash[name] = h
	if err != nil {
		pm.cfgErr[name] = configErr{err: err.Error(), since: time.Now()}
	} else {
		delete(pm.cfgErr, name)
	}
	pm.mu.Unlock()

	if err != nil {
		pm.log.Error("plugin config apply failed", logx.String("plugin", name), logx.Err(err))
		pm.emit("plugin.config_failed", pluginEvent{Plugin: name, Err: err.Error()})
		return
	}
	pm.log.Debug("plugin config applied", logx.String("plugin", name))
	pm.emit("plugin.config_applied", pluginEvent{Plugin: name})
}

// StopAll stops running plugins in reverse start order. A plugin that does
// not return before ctx is done is abandoned.
func (pm *Manager) StopAll(ctx context.Context) {
	pm.opMu.Lock()
	defer pm.opMu.Unlock()

	names := pm.names()
	for i := len(names) - 1; i >= 0; i-- {
		pm.stopOne(ctx, names[i])
	}
}

func (pm *Manager) stopOne(ctx context.Context, name string) {
	p := pm.plugin(name)
	if p == nil || !pm.isRunning(name) {
		return
	}
	start := time.Now()
	pm.mu.Lock()
	cancel := pm.pcancel[name]
	pm.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		_ = pm.safeCall("plugin.stop."+name, func() error { return p.Stop(ctx) })
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		pm.log.Warn("plugin stop timeout (continuing)", logx.String("plugin", name), logx.Err(ctx.Err()))
		pm.emit("plugin.stop_timeout", pluginEvent{Plugin: name, Err: ctx.Err().Error()})
	}

	pm.mu.Lock()
	pm.run[name] = false
	delete(pm.pcancel, name)
	delete(pm.applied, name)
	delete(pm.lastHash, name)
	pm.mu.Unlock()

	took := time.Since(start)
	pm.log.Info("plugin stopped", logx.String("plugin", name), logx.Duration("took", took))
	pm.emit("plugin.stopped", pluginEvent{Plugin: name, TookMS: took.Milliseconds()})
}

// Form returns the plugin's form and default model, if it provides one.
func (pm *Manager) Form(name string) (Form, map[string]any, bool) {
	fp, ok := pm.plugin(name).(FormProvider)
	if !ok {
		return nil, nil, false
	}
	var (
		form Form
		def  map[string]any
	)
	err := pm.safeCall("plugin.form."+name, func() error {
		form, def = fp.Form()
		return nil
	})
	if err != nil {
		return nil, nil, false
	}
	return form, def, true
}

// APIs returns the endpoints of running plugins keyed by plugin name.
func (pm *Manager) APIs() map[string][]API {
	out := map[string][]API{}
	for _, name := range pm.names() {
		if !pm.isRunning(name) {
			continue
		}
		if apis := pm.safeAPIs(name); len(apis) > 0 {
			out[name] = apis
		}
	}
	return out
}

func (pm *Manager) Snapshot() Snapshot {
	names := pm.names()
	sort.Strings(names)
	out := Snapshot{Time: time.Now(), Plugins: make([]Status, 0, len(names))}
	for _, name := range names {
		p := pm.plugin(name)
		pm.mu.Lock()
		running := pm.run[name]
		ce, bad := pm.cfgErr[name]
		pm.mu.Unlock()

		st := Status{Name: name, Running: running, Misconfigured: bad, ConfigErr: ce.err, ConfigErrAt: ce.since}
		if sr, ok := p.(StateReporter); ok && running {
			st.Enabled = sr.State()
		}
		_, st.HasForm = p.(FormProvider)
		for _, a := range pm.safeAPIs(name) {
			st.APIs = append(st.APIs, a.Path)
		}
		out.Plugins = append(out.Plugins, st)
	}
	return out
}

// Close releases the manager's base context. Call after StopAll.
func (pm *Manager) Close() { pm.baseCancel() }

func (pm *Manager) names() []string {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return append([]string(nil), pm.order...)
}

func (pm *Manager) plugin(name string) Plugin {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.reg[name]
}

func (pm *Manager) isRunning(name string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.run[name]
}

func (pm *Manager) safeAPIs(name string) (out []API) {
	ap, ok := pm.plugin(name).(APIProvider)
	if !ok {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin APIs()", logx.String("plugin", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			out = nil
		}
	}()
	return ap.APIs()
}

func (pm *Manager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin call",
				logx.String("call", label),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

func pluginRaw(cfg *config.Config, name string) json.RawMessage {
	if cfg == nil || cfg.Plugins == nil {
		return nil
	}
	return cfg.Plugins[name]
}
