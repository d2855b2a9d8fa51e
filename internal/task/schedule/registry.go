// Package schedule implements the recurring job registry.
//
// Wall-clock jobs (daily/weekly/monthly) ride on a single robfig/cron
// instance; generic interval jobs get a dedicated timer goroutine under
// the shared supervisor. Either way a failed or panicking run is logged,
// audited, and never cancels the job's future runs.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"gradebook/internal/eventbus"
	"gradebook/internal/runtime/supervisor"
	logx "gradebook/pkg/logx"
)

// Action is one recurring unit of work. The context is cancelled when the
// job is cancelled or the registry shuts down; in-flight runs are not
// interrupted beyond that.
type Action func(ctx context.Context) error

// FailureSink receives every failed or panicked job run. Wired explicitly
// (typically to the audit store) rather than through a process-wide
// singleton so tests can observe failures.
type FailureSink func(name string, err error)

// JobFailure is the event payload published on the bus for failed runs.
type JobFailure struct {
	Name  string
	Error string
}

// JobInfo describes one registered job for diagnostics.
type JobInfo struct {
	Name string
	Spec string
	Next time.Time
}

type jobKind int

const (
	kindCron jobKind = iota
	kindInterval
)

type job struct {
	name    string
	kind    jobKind
	spec    string
	entryID cron.EntryID
	cancel  context.CancelFunc // interval jobs only
}

// Config controls the registry.
type Config struct {
	Timezone string // IANA TZ; empty means time.Local
}

// Registry owns a small set of named periodic jobs.
type Registry struct {
	mu sync.Mutex

	log  logx.Logger
	bus  eventbus.Bus
	sink FailureSink
	sup  *supervisor.Supervisor
	loc  *time.Location

	c       *cron.Cron
	jobs    map[string]*job
	stopped bool
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, sink FailureSink, sup *supervisor.Supervisor) *Registry {
	loc := loadLocation(cfg.Timezone, log)
	r := &Registry{
		log:  log,
		bus:  bus,
		sink: sink,
		sup:  sup,
		loc:  loc,
		c:    cron.New(cron.WithLocation(loc)),
		jobs: map[string]*job{},
	}
	r.c.Start()
	return r
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		if !log.IsZero() {
			log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Any("err", err))
		}
		return time.Local
	}
	return loc
}

// Every registers a fixed-rate job: action runs once after initialDelay,
// then every period thereafter, on a dedicated background timer.
// Registering an existing name replaces the previous job.
func (r *Registry) Every(name string, initialDelay, period time.Duration, action Action) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("job name required")
	}
	if action == nil {
		return errors.New("job action is nil")
	}
	if period <= 0 {
		return fmt.Errorf("job %s: period must be > 0", name)
	}
	if initialDelay < 0 {
		initialDelay = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return errors.New("registry stopped")
	}
	r.removeLocked(name)

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{name: name, kind: kindInterval, spec: fmt.Sprintf("@every %s", period), cancel: cancel}
	r.jobs[name] = j

	r.sup.Go0("job."+name, func(supCtx context.Context) {
		r.intervalLoop(ctx, supCtx, name, initialDelay, period, action)
	})

	r.log.Debug("job registered", logx.String("name", name), logx.Duration("initial_delay", initialDelay), logx.Duration("period", period))
	return nil
}

// Hourly registers action to run every hour, starting one hour from now.
func (r *Registry) Hourly(name string, action Action) error {
	return r.Every(name, time.Hour, time.Hour, action)
}

// DailyAt registers action at the next occurrence of hour:minute (today if
// still ahead, else tomorrow), repeating every 24 hours.
func (r *Registry) DailyAt(name string, hour, minute int, action Action) error {
	if err := validateClock(hour, minute); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	return r.addCron(name, fmt.Sprintf("%d %d * * *", minute, hour), action)
}

// WeeklyAt is DailyAt anchored to a weekday, repeating every 7 days.
func (r *Registry) WeeklyAt(name string, weekday time.Weekday, hour, minute int, action Action) error {
	if err := validateClock(hour, minute); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	// Sunday=0 in both time.Weekday and cron dow.
	return r.addCron(name, fmt.Sprintf("%d %d * * %d", minute, hour, int(weekday)), action)
}

// MonthlyAt anchors to day-of-month + time, calendar-aware: when the month
// is shorter than day, the run clamps to the month's last day.
func (r *Registry) MonthlyAt(name string, day, hour, minute int, action Action) error {
	if err := validateClock(hour, minute); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	if day < 1 || day > 31 {
		return fmt.Errorf("job %s: invalid day of month %d", name, day)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return errors.New("registry stopped")
	}
	r.removeLocked(name)

	sched := monthlySchedule{day: day, hour: hour, minute: minute, loc: r.loc}
	id := r.c.Schedule(sched, cron.FuncJob(func() {
		r.runAction(context.Background(), name, action)
	}))
	r.jobs[name] = &job{name: name, kind: kindCron, spec: fmt.Sprintf("monthly day=%d %02d:%02d", day, hour, minute), entryID: id}

	r.log.Debug("job registered", logx.String("name", name), logx.String("spec", r.jobs[name].spec))
	return nil
}

func (r *Registry) addCron(name, spec string, action Action) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("job name required")
	}
	if action == nil {
		return errors.New("job action is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return errors.New("registry stopped")
	}
	r.removeLocked(name)

	id, err := r.c.AddFunc(spec, func() {
		r.runAction(context.Background(), name, action)
	})
	if err != nil {
		r.log.Error("job register failed", logx.String("name", name), logx.String("spec", spec), logx.Any("err", err))
		return err
	}
	r.jobs[name] = &job{name: name, kind: kindCron, spec: spec, entryID: id}

	r.log.Debug("job registered", logx.String("name", name), logx.String("spec", spec))
	return nil
}

// Cancel unregisters the named job. It reports whether a job was removed.
func (r *Registry) Cancel(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(name)
}

// removeLocked detaches a job from cron or cancels its timer loop.
// Call with r.mu held.
func (r *Registry) removeLocked(name string) bool {
	j, ok := r.jobs[name]
	if !ok {
		return false
	}
	switch j.kind {
	case kindCron:
		r.c.Remove(j.entryID)
	case kindInterval:
		j.cancel()
	}
	delete(r.jobs, name)
	return true
}

// CancelAll stops every registered job. Idempotent; it prevents future
// executions but does not interrupt a run already in flight.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	for name := range r.jobs {
		r.removeLocked(name)
	}
	r.mu.Unlock()

	// Stop scheduling; intentionally not waiting on the returned context so
	// a long-running job cannot stall shutdown.
	r.c.Stop()
	r.log.Info("recurring jobs cancelled")
}

// Snapshot lists registered jobs with their next run time where known.
func (r *Registry) Snapshot() []JobInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]JobInfo, 0, len(r.jobs))
	for _, j := range r.jobs {
		info := JobInfo{Name: j.name, Spec: j.spec}
		if j.kind == kindCron {
			info.Next = r.c.Entry(j.entryID).Next
		}
		out = append(out, info)
	}
	return out
}

func (r *Registry) intervalLoop(jobCtx, supCtx context.Context, name string, initialDelay, period time.Duration, action Action) {
	tmr := time.NewTimer(initialDelay)
	defer tmr.Stop()
	select {
	case <-jobCtx.Done():
		return
	case <-supCtx.Done():
		return
	case <-tmr.C:
	}
	r.runAction(supCtx, name, action)

	tick := time.NewTicker(period)
	defer tick.Stop()
	for {
		select {
		case <-jobCtx.Done():
			return
		case <-supCtx.Done():
			return
		case <-tick.C:
			r.runAction(supCtx, name, action)
		}
	}
}

// runAction executes one occurrence. Errors and panics are contained here:
// logged, audited, published — never propagated, never cancelling the job.
func (r *Registry) runAction(ctx context.Context, name string, action Action) {
	start := time.Now()

	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
				r.log.Error("job panicked", logx.String("job", name), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
			}
		}()
		return action(ctx)
	}()

	dur := time.Since(start)
	if err != nil {
		r.log.Warn("job run failed", logx.String("job", name), logx.Any("err", err), logx.Duration("dur", dur))
		if r.sink != nil {
			r.sink(name, err)
		}
		if r.bus != nil {
			r.bus.Publish(eventbus.Event{Type: eventbus.TypeJobFailed, Data: JobFailure{Name: name, Error: err.Error()}})
		}
		return
	}
	r.log.Debug("job run completed", logx.String("job", name), logx.Duration("dur", dur))
}

func validateClock(hour, minute int) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("invalid hour %d", hour)
	}
	if minute < 0 || minute > 59 {
		return fmt.Errorf("invalid minute %d", minute)
	}
	return nil
}
