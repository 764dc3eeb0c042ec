package cronjob

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "crongen/pkg/logx"
)

// Facility is the timer subsystem that fires registered jobs.
//
// RemoveAll and Shutdown may fail; Manager treats those failures as non-fatal.
type Facility interface {
	AddJob(spec string, job func()) error
	JobCount() int
	RemoveAll() error
	Start()
	Shutdown() error
	Running() bool
	// Next returns the earliest upcoming fire time, or zero if nothing is scheduled.
	Next() time.Time
}

// FacilityFactory builds a fresh facility bound to loc.
type FacilityFactory func(loc *time.Location, log logx.Logger) Facility

// standardParser accepts the classic 5-field crontab layout only.
var standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type cronFacility struct {
	mu      sync.Mutex
	c       *cron.Cron
	running bool
}

// NewCronFacility returns a Facility backed by robfig/cron. Panics inside a
// job are recovered and logged by the cron chain.
func NewCronFacility(loc *time.Location, log logx.Logger) Facility {
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{log: log}
	return &cronFacility{
		c: cron.New(
			cron.WithParser(standardParser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
	}
}

func (f *cronFacility) AddJob(spec string, job func()) error {
	_, err := f.c.AddFunc(spec, job)
	return err
}

func (f *cronFacility) JobCount() int { return len(f.c.Entries()) }

func (f *cronFacility) RemoveAll() error {
	for _, e := range f.c.Entries() {
		f.c.Remove(e.ID)
	}
	return nil
}

func (f *cronFacility) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Start()
	f.running = true
}

// Shutdown stops the timer goroutine. In-flight jobs are not awaited.
func (f *cronFacility) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Stop()
	f.running = false
	return nil
}

func (f *cronFacility) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *cronFacility) Next() time.Time {
	var next time.Time
	for _, e := range f.c.Entries() {
		if e.Next.IsZero() {
			continue
		}
		if next.IsZero() || e.Next.Before(next) {
			next = e.Next
		}
	}
	return next
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
