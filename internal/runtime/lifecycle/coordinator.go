// Package lifecycle sequences graceful shutdown: recurring jobs stop
// first, then the batch engine closes and drains within a grace period.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gradebook/internal/eventbus"
	"gradebook/internal/runtime/supervisor"
	logx "gradebook/pkg/logx"
)

// JobCanceller stops all recurring jobs. Satisfied by schedule.Registry.
type JobCanceller interface {
	CancelAll()
}

// BatchDrainer rejects new batches and waits out in-flight ones.
// Satisfied by batch.Engine.
type BatchDrainer interface {
	Close()
	Drain(ctx context.Context) error
}

// Config controls shutdown behaviour.
type Config struct {
	// Grace bounds how long Shutdown waits for in-flight batches.
	Grace time.Duration
}

const defaultGrace = 10 * time.Second

// Coordinator owns the shutdown sequence. Shutdown is safe to call from
// multiple goroutines; only the first call does work.
type Coordinator struct {
	log   logx.Logger
	bus   eventbus.Bus
	jobs  JobCanceller
	batch BatchDrainer
	sup   *supervisor.Supervisor
	grace time.Duration

	once sync.Once
	err  error
}

func New(cfg Config, jobs JobCanceller, batch BatchDrainer, sup *supervisor.Supervisor, log logx.Logger, bus eventbus.Bus) *Coordinator {
	grace := cfg.Grace
	if grace <= 0 {
		grace = defaultGrace
	}
	return &Coordinator{log: log, bus: bus, jobs: jobs, batch: batch, sup: sup, grace: grace}
}

// Shutdown cancels recurring jobs, closes the batch engine, and drains
// in-flight batches within the grace period. If the drain times out it
// logs a warning, cancels the supervisor context, and returns the timeout
// error; work already handed to workers is abandoned, not interrupted
// mid-write. Repeat calls return the first call's result.
func (c *Coordinator) Shutdown() error {
	c.once.Do(func() {
		start := time.Now()
		c.log.Info("shutdown started", logx.Duration("grace", c.grace))

		if c.jobs != nil {
			c.jobs.CancelAll()
		}
		if c.batch != nil {
			c.batch.Close()

			ctx, cancel := context.WithTimeout(context.Background(), c.grace)
			defer cancel()
			if err := c.batch.Drain(ctx); err != nil {
				c.log.Warn("shutdown grace period expired; abandoning in-flight batches",
					logx.Duration("grace", c.grace), logx.Any("err", err))
				c.err = fmt.Errorf("drain batches: %w", err)
			}
		}

		// Cut the shared context last so job loops and batch workers that
		// survived the drain stop blocking the supervisor.
		if c.sup != nil {
			c.sup.Cancel()
		}
		if c.bus != nil {
			c.bus.Publish(eventbus.Event{Type: eventbus.TypeShutdown, Data: ShutdownEvent{
				Graceful: c.err == nil,
				Took:     time.Since(start),
			}})
		}
		c.log.Info("shutdown finished", logx.Duration("took", time.Since(start)), logx.Bool("graceful", c.err == nil))
	})
	return c.err
}

// ShutdownEvent is published on the bus once shutdown completes.
type ShutdownEvent struct {
	Graceful bool          `json:"graceful"`
	Took     time.Duration `json:"took"`
}
