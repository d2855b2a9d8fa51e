// Package app wires config, storage, the roster, the report renderer,
// the batch engine, and the recurring job catalogue into one process.
package app

import (
	"context"
	"fmt"
	"time"

	"gradebook/internal/config"
	"gradebook/internal/eventbus"
	"gradebook/internal/report"
	"gradebook/internal/roster"
	"gradebook/internal/runtime/lifecycle"
	"gradebook/internal/runtime/supervisor"
	"gradebook/internal/storage"
	"gradebook/internal/task/batch"
	"gradebook/internal/task/queue"
	"gradebook/internal/task/schedule"
	logx "gradebook/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	students *roster.Store
	reports  *report.Service
	engine   *batch.Engine
	tasks    *queue.Queue

	jobs  *schedule.Registry
	coord *lifecycle.Coordinator

	grace time.Duration
}

func New(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "config"))
	cfgm := config.NewManager(cfgPath, bootLog)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional).
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

	// Roster, seeded from the last snapshot when storage is on.
	students := roster.NewStore()
	if store != nil {
		saved, err := store.LoadRoster(context.Background())
		if err != nil {
			log.Warn("roster snapshot load failed; starting empty", logx.Any("err", err))
		} else if len(saved) > 0 {
			if err := students.Load(saved); err != nil {
				log.Warn("roster snapshot invalid; starting empty", logx.Any("err", err))
			} else {
				log.Info("roster restored", logx.Int("students", len(saved)))
			}
		}
	}

	repCfg, err := mapReportsConfig(cfg)
	if err != nil {
		return nil, err
	}
	reports, err := report.New(repCfg, students, log.With(logx.String("comp", "report")))
	if err != nil {
		return nil, err
	}
	if _, err := reportFormats(cfg); err != nil {
		return nil, err
	}

	batchCfg, grace, err := mapBatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	engine := batch.New(batchCfg, reports, log.With(logx.String("comp", "batch")), bus)

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		students: students,
		reports:  reports,
		engine:   engine,
		tasks:    queue.New(),
		grace:    grace,
	}, nil
}

// Roster exposes the student directory for the console surface.
func (a *App) Roster() *roster.Store { return a.students }

// Done is closed when the app run context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	// Job failures land in the audit trail; the registry also publishes
	// them on the bus for anything else that cares.
	sink := func(name string, err error) {
		a.audit(storage.AuditEntry{Job: name, Action: "job", Error: err.Error(), Fail: 1})
	}
	a.jobs = schedule.New(schedule.Config{Timezone: a.cfgm.Get().Scheduler.Timezone},
		a.log.With(logx.String("comp", "schedule")), a.bus, sink, a.sup)
	a.coord = lifecycle.New(lifecycle.Config{Grace: a.grace},
		a.jobs, a.engine, a.sup, a.log.With(logx.String("comp", "lifecycle")), a.bus)

	if cfg := a.cfgm.Get(); cfg.Scheduler.Enabled {
		if err := a.applyJobs(cfg); err != nil {
			return err
		}
	}

	// Batch completions go to the audit trail.
	if a.store != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("audit.events", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					if e.Type != eventbus.TypeBatchCompleted {
						continue
					}
					if be, ok := e.Data.(batch.BatchEvent); ok {
						a.audit(storage.AuditEntry{
							At:     e.Time,
							Action: "batch",
							OK:     be.Succeeded,
							Fail:   be.Failed,
							TookMS: be.Duration.Milliseconds(),
						})
					}
				}
			}
		})
	}

	// Hot reload: logging and the job catalogue apply live; storage needs
	// a restart.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(newCfg)
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(mapLoggingConfig(cfg))

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		a.log.Warn("invalid storage config; keeping previous", logx.Any("err", err))
	} else if enabled != (a.store != nil) || (a.store != nil && sc.Driver == "") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	if cfg.Scheduler.Enabled {
		if err := a.applyJobs(cfg); err != nil {
			a.log.Warn("invalid job config; keeping previous", logx.Any("err", err))
		}
	}
	a.log.Info("config reloaded")
}

// audit writes one entry, best-effort. A broken audit trail must never
// take down the job that produced the entry.
func (a *App) audit(e storage.AuditEntry) {
	if a.store == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.store.AppendAudit(ctx, e); err != nil {
		a.log.Warn("audit append failed", logx.Any("err", err))
	}
}

// Stop runs the shutdown sequence: jobs stop, batches drain, storage
// closes, supervised goroutines unwind.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	var firstErr error
	if a.coord != nil {
		if err := a.coord.Shutdown(); err != nil {
			firstErr = err
		}
	} else {
		a.sup.Cancel()
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close storage: %w", err)
		}
	}

	waitCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	if err := a.sup.Wait(waitCtx); err != nil {
		a.log.Warn("supervised goroutines did not unwind in time", logx.Any("err", err))
		if firstErr == nil {
			firstErr = err
		}
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return firstErr
}
