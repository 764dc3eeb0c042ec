package cronjob

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"crongen/internal/notifier"
	logx "crongen/pkg/logx"
)

// ErrTeardown marks a failure while clearing jobs or shutting the facility down.
// It is only ever logged.
var ErrTeardown = errors.New("cron facility teardown failed")

// Config is the per-plugin job configuration.
type Config struct {
	Enabled  bool   `json:"enabled"`
	Cron     string `json:"cron"`
	Notify   bool   `json:"notify"`
	OnlyOnce bool   `json:"onlyonce"`
}

// DefaultConfig mirrors the values shown on a fresh config form.
func DefaultConfig() Config {
	return Config{Enabled: false, Cron: "* * * * *", Notify: false, OnlyOnce: false}
}

type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// Notifier is the part of notifier.Service the job body needs.
type Notifier interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

type Option func(*Manager)

func WithLogger(log logx.Logger) Option { return func(m *Manager) { m.log = log } }

func WithNotifier(n Notifier) Option { return func(m *Manager) { m.notif = n } }

// WithLocation sets the time zone new facilities are bound to (default time.Local).
func WithLocation(loc *time.Location) Option { return func(m *Manager) { m.loc = loc } }

func WithFacilityFactory(f FacilityFactory) Option { return func(m *Manager) { m.newFacility = f } }

// WithSource tags notifications with the owning plugin name.
func WithSource(name string) Option { return func(m *Manager) { m.source = name } }

// Manager keeps at most one facility with at most one registered job.
//
// Configure and Stop are expected on one management goroutine; mu only makes
// concurrent misuse safe. RunJob may run concurrently with both.
type Manager struct {
	mu       sync.Mutex
	facility Facility
	fields   CronFields

	cmu sync.RWMutex
	cfg Config

	log         logx.Logger
	notif       Notifier
	loc         *time.Location
	newFacility FacilityFactory
	source      string
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{cfg: DefaultConfig()}
	for _, o := range opts {
		if o != nil {
			o(m)
		}
	}
	if m.log.IsZero() {
		m.log = logx.Nop()
	}
	if m.loc == nil {
		m.loc = time.Local
	}
	if m.newFacility == nil {
		m.newFacility = NewCronFacility
	}
	return m
}

// Configure replaces the running job (if any) with one built from cfg.
//
// A disabled config or empty cron string leaves the manager stopped. A cron
// string that doesn't split into 5 fields returns ErrInvalidCronFormat.
// If cfg.OnlyOnce is set and configuration succeeded, RunJob fires once in
// the background.
func (m *Manager) Configure(ctx context.Context, cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()

	m.cmu.Lock()
	m.cfg = cfg
	m.cmu.Unlock()

	if err := m.startLocked(cfg); err != nil {
		return err
	}
	if cfg.OnlyOnce {
		m.log.Info("run-once requested", logx.String("cron", cfg.Cron))
		go m.RunJob(context.WithoutCancel(ctx))
	}
	return nil
}

func (m *Manager) startLocked(cfg Config) error {
	if !cfg.Enabled || cfg.Cron == "" {
		m.log.Debug("cron job disabled", logx.Bool("enabled", cfg.Enabled), logx.String("cron", cfg.Cron))
		return nil
	}

	fields, err := ParseCron(cfg.Cron)
	if err != nil {
		return err
	}

	f := m.newFacility(m.loc, m.log)
	if err := f.AddJob(fields.Spec(), m.fire); err != nil {
		m.teardown(f)
		return fmt.Errorf("register cron job %q: %w", fields.Spec(), err)
	}
	if f.JobCount() == 0 {
		m.log.Warn("cron job registration produced no jobs; staying stopped", logx.String("cron", fields.Spec()))
		m.teardown(f)
		return nil
	}

	f.Start()
	m.facility = f
	m.fields = fields
	m.log.Info("cron job started",
		logx.String("cron", fields.Spec()),
		logx.String("tz", m.loc.String()),
		logx.Time("next", f.Next()),
	)
	return nil
}

// Stop removes the job and shuts the facility down. It is a no-op when
// stopped and never fails: teardown errors and panics are logged.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	f := m.facility
	if f == nil {
		return
	}
	m.facility = nil
	m.fields = CronFields{}
	m.teardown(f)
	m.log.Info("cron job stopped")
}

func (m *Manager) teardown(f Facility) {
	if err := teardown(f); err != nil {
		m.log.Error("stop cron job failed", logx.Err(err))
	}
}

func teardown(f Facility) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Join(err, fmt.Errorf("%w: panic: %v", ErrTeardown, r))
		}
	}()
	if rerr := f.RemoveAll(); rerr != nil {
		err = fmt.Errorf("%w: remove jobs: %w", ErrTeardown, rerr)
	}
	// Shut down even if removal failed so the timer goroutine doesn't leak.
	if f.Running() {
		if serr := f.Shutdown(); serr != nil {
			err = errors.Join(err, fmt.Errorf("%w: shutdown: %w", ErrTeardown, serr))
		}
	}
	return err
}

func (m *Manager) fire() { m.RunJob(context.Background()) }

// RunJob is the job body, called by the facility or a manual trigger.
func (m *Manager) RunJob(ctx context.Context) {
	cfg := m.Config()
	m.log.Info("cron generation started", logx.String("cron", cfg.Cron))
	if !cfg.Notify || m.notif == nil {
		return
	}
	err := m.notif.Notify(ctx, notifier.Notification{
		Kind:   notifier.KindSiteMessage,
		Plugin: m.source,
		Title:  "[Cron expression generated]",
		Text:   "Cron expression generated: " + cfg.Cron,
	})
	if err != nil {
		m.log.Warn("cron generation notification failed", logx.Err(err))
	}
}

// Config returns the configuration applied by the last Configure call.
func (m *Manager) Config() Config {
	m.cmu.RLock()
	defer m.cmu.RUnlock()
	return m.cfg
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.facility == nil {
		return StateStopped
	}
	return StateRunning
}

// Jobs reports how many jobs the live facility holds (0 when stopped).
func (m *Manager) Jobs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.facility == nil {
		return 0
	}
	return m.facility.JobCount()
}

// Fields returns the parsed trigger of the running job.
func (m *Manager) Fields() CronFields {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fields
}

// Next returns the next scheduled fire time, or zero when stopped.
func (m *Manager) Next() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.facility == nil {
		return time.Time{}
	}
	return m.facility.Next()
}
