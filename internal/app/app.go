// Package app wires configuration, logging, storage, notifications, plugins
// and the HTTP API into one process and applies config hot reloads.
package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"crongen/internal/config"
	"crongen/internal/eventbus"
	"crongen/internal/httpapi"
	"crongen/internal/notifier"
	"crongen/internal/plugin"
	rtsup "crongen/internal/runtime/supervisor"
	"crongen/internal/storage"
	logx "crongen/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	notif *notifier.Service
	pm    *plugin.Manager
	api   *httpapi.Service

	// sdNotify is daemon.SdNotify; swapped in tests.
	sdNotify func(unsetEnv bool, state string) (bool, error)
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(validateConfig)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	loc, err := loadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	sinks := []notifier.Sink{notifier.LogSink{Log: log.With(logx.String("comp", "notifier"))}}
	if store != nil {
		sinks = append(sinks, notifier.StoreSink{Store: store})
	}
	if tc, ok := telegramSinkConfig(cfg); ok {
		ts, err := notifier.NewTelegramSink(tc)
		if err != nil {
			return nil, fmt.Errorf("telegram sink: %w", err)
		}
		sinks = append(sinks, ts)
		log.Info("telegram notifications enabled", logx.Int64("chat_id", tc.ChatID))
	}
	notifSvc := notifier.New(ncfg, log.With(logx.String("comp", "notifier")), bus, sinks...)

	// Plugin routes authenticate against the same token as host routes.
	var api *httpapi.Service
	pm := plugin.NewManager(log, plugin.PluginDeps{
		Logger:   log.With(logx.String("comp", "plugin")),
		Notifier: notifSvc,
		Bus:      bus,
		Store:    store,
		Location: loc,
		APIToken: func() string {
			if api == nil {
				return ""
			}
			return api.Token()
		},
	})

	apiCfg, err := mapAPIConfig(cfg)
	if err != nil {
		return nil, err
	}
	api = httpapi.New(apiCfg, httpapi.Deps{Plugins: pm, Store: store, History: notifSvc}, log)

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		notif:    notifSvc,
		pm:       pm,
		api:      api,
		sdNotify: daemon.SdNotify,
	}, nil
}

// Register adds plugins. Call before Start.
func (a *App) Register(p ...plugin.Plugin) error { return a.pm.Register(p...) }

func (a *App) Plugins() *plugin.Manager { return a.pm }

// APIAddr returns the bound HTTP address ("" when the API is off).
func (a *App) APIAddr() string { return a.api.Addr() }

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}

	if err := a.pm.StartAll(a.sup.Context(), a.cfgm.Get()); err != nil {
		// A broken plugin does not take the host down.
		a.log.Error("some plugins failed to start", logx.Err(err))
	}

	if a.api.Enabled() {
		a.api.Start(a.sup.Context())
	}

	events, unsub := a.bus.Subscribe("", 128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts; only the newest config matters.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	if ok, err := a.sdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified", logx.String("state", "ready"))
	}
	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections := config.ChangedSections(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range []string{"storage", "telegram", "scheduler"} {
		if slices.Contains(sections, s) {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogConfig(next))

	prevNotif := a.notif.Enabled()
	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
		switch {
		case prevNotif && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !prevNotif && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	a.pm.Apply(ctx, next)

	if apiCfg, err := mapAPIConfig(next); err != nil {
		a.log.Warn("invalid api config; keeping previous", logx.Err(err))
	} else {
		a.api.Reconfigure(ctx, apiCfg)
	}

	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

// Stop shuts everything down in dependency order. Each step is bounded so
// one component cannot stall the whole stop.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	if _, err := a.sdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	step("httpapi", 2*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	step("plugins", 4*time.Second, func(c context.Context) error { a.pm.StopAll(c); a.pm.Close(); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Stop(c) })

	c := a.sup.Counters()
	a.log.Info("stopped", logx.Int64("goroutines_active", c.Active), logx.Int64("goroutines_started", int64(c.Started)))
	return a.logs.Close()
}
