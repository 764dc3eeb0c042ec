// Package crongen is the cron expression generator plugin: it schedules a
// job from a 5-field cron expression, logs the expression on every fire and
// optionally posts a site message. A manual trigger is exposed over HTTP.
package crongen

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"crongen/internal/cronjob"
	core "crongen/internal/plugin"
	logx "crongen/pkg/logx"
)

const Name = "crongen"

type Plugin struct {
	core.PluginBase

	// Test hook; nil uses the robfig facility.
	facilityFactory cronjob.FacilityFactory

	mu     sync.RWMutex
	cfg    cronjob.Config
	cfgErr error
	jobs   *cronjob.Manager
}

func New() *Plugin { return &Plugin{cfg: cronjob.DefaultConfig()} }

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Init(ctx context.Context, deps core.PluginDeps) error {
	p.InitBase(deps, p.Name())
	opts := []cronjob.Option{
		cronjob.WithLogger(p.Log),
		cronjob.WithLocation(deps.Location),
		cronjob.WithSource(p.Name()),
		cronjob.WithFacilityFactory(p.facilityFactory),
	}
	if deps.Notifier != nil {
		opts = append(opts, cronjob.WithNotifier(deps.Notifier))
	}
	p.mu.Lock()
	p.jobs = cronjob.NewManager(opts...)
	p.mu.Unlock()
	return nil
}

func (p *Plugin) Start(ctx context.Context) error { return nil }

// Stop removes the scheduled job. It never fails.
func (p *Plugin) Stop(ctx context.Context) error {
	if m := p.manager(); m != nil {
		m.Stop()
	}
	p.PublishEvent("crongen.stopped", nil)
	return nil
}

// OnConfigChange re-initializes the job from the plugin's config mapping.
// Absent keys take the form defaults.
func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	m := p.manager()
	if m == nil {
		return fmt.Errorf("%s: not initialized", p.Name())
	}
	cfg, err := core.DecodePluginConfig(raw, cronjob.DefaultConfig())
	if err != nil {
		// Defaults are disabled, so this only stops the job and resets the
		// config the job body reads.
		_ = m.Configure(ctx, cronjob.DefaultConfig())
		p.setConfig(cronjob.DefaultConfig(), err)
		return err
	}

	err = m.Configure(ctx, cfg)

	// onlyonce is a one-shot request; keep it from re-firing on later reloads.
	cfg.OnlyOnce = false
	p.setConfig(cfg, err)
	if err != nil {
		return err
	}

	p.Log.Info("crongen configured",
		logx.Bool("enabled", cfg.Enabled),
		logx.String("cron", cfg.Cron),
		logx.Bool("notify", cfg.Notify),
		logx.String("state", m.State().String()),
	)
	p.PublishEvent("crongen.configured", map[string]any{"enabled": cfg.Enabled, "cron": cfg.Cron, "state": m.State().String()})
	return nil
}

// State reports the enabled flag of the applied config. A config that
// failed to apply reports false.
func (p *Plugin) State() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfgErr == nil && p.cfg.Enabled
}

// Config returns the in-memory config. OnlyOnce is always cleared.
func (p *Plugin) Config() cronjob.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Generate runs the job body once, outside the schedule.
func (p *Plugin) Generate(ctx context.Context) {
	if m := p.manager(); m != nil {
		m.RunJob(ctx)
	}
}

func (p *Plugin) manager() *cronjob.Manager {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.jobs
}

func (p *Plugin) setConfig(cfg cronjob.Config, err error) {
	p.mu.Lock()
	p.cfg = cfg
	p.cfgErr = err
	p.mu.Unlock()
}
