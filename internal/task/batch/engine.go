// Package batch executes report batches over a fixed worker pool.
//
// A run expands targets x formats into work items, feeds them through a
// shared channel to exactly N workers, and merges per-worker tallies into
// a single Result. Item outcomes depend only on the renderer, so the same
// inputs classify identically no matter how many workers run them.
package batch

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"gradebook/internal/eventbus"
	logx "gradebook/pkg/logx"
)

// Engine runs batches against a Renderer. Safe for concurrent Run calls;
// each run gets its own pool and tallies.
type Engine struct {
	log      logx.Logger
	bus      eventbus.Bus
	renderer Renderer
	cfg      Config

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

func New(cfg Config, renderer Renderer, log logx.Logger, bus eventbus.Bus) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{log: log, bus: bus, renderer: renderer, cfg: cfg}
}

// tally is one worker's private counters, merged after the pool drains.
type tally struct {
	succeeded int
	failed    int
	failures  []Failure
}

// Run executes the full targets x formats grid and reports per-item
// outcomes. workers == 0 selects the configured default; negative counts
// are rejected. The pool is capped at twice GOMAXPROCS since rendering
// is CPU-and-disk bound.
func (e *Engine) Run(ctx context.Context, targets, formats []string, workers int) (Result, error) {
	if len(targets) == 0 {
		return Result{}, ErrNoTargets
	}
	if len(formats) == 0 {
		return Result{}, ErrNoFormats
	}
	if workers == 0 {
		workers = e.cfg.Workers
	}
	if workers < 1 {
		return Result{}, ErrInvalidWorkers
	}
	if maxW := 2 * runtime.GOMAXPROCS(0); workers > maxW {
		workers = maxW
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Result{}, ErrShuttingDown
	}
	e.inflight.Add(1)
	e.mu.Unlock()
	defer e.inflight.Done()

	start := time.Now()
	total := len(targets) * len(formats)

	items := make(chan WorkItem, total)
	for _, target := range targets {
		for _, format := range formats {
			items <- WorkItem{Target: target, Format: format}
		}
	}
	close(items)

	e.log.Debug("batch started",
		logx.Int("targets", len(targets)),
		logx.Int("formats", len(formats)),
		logx.Int("workers", workers))

	tallies := make([]tally, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(tl *tally) {
			defer wg.Done()
			e.worker(ctx, items, tl)
		}(&tallies[i])
	}
	wg.Wait()

	// On cancellation workers stop pulling; whatever is left in the
	// channel still counts, attributed to the context error.
	var res Result
	for item := range items {
		res.Failed++
		res.Failures = append(res.Failures, Failure{Item: item, Err: ctx.Err()})
	}
	for i := range tallies {
		res.Succeeded += tallies[i].succeeded
		res.Failed += tallies[i].failed
		res.Failures = append(res.Failures, tallies[i].failures...)
	}
	res.Attempted = total
	res.Duration = time.Since(start)
	sort.Slice(res.Failures, func(i, j int) bool {
		a, b := res.Failures[i].Item, res.Failures[j].Item
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Format < b.Format
	})

	e.log.Info("batch completed",
		logx.Int("attempted", res.Attempted),
		logx.Int("succeeded", res.Succeeded),
		logx.Int("failed", res.Failed),
		logx.Duration("dur", res.Duration))
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeBatchCompleted, Data: BatchEvent{
			Targets:   len(targets),
			Formats:   len(formats),
			Workers:   workers,
			Attempted: res.Attempted,
			Succeeded: res.Succeeded,
			Failed:    res.Failed,
			Duration:  res.Duration,
		}})
	}
	return res, nil
}

func (e *Engine) worker(ctx context.Context, items <-chan WorkItem, tl *tally) {
	for {
		// Fast-exit check so cancellation wins over queued work.
		select {
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case item, ok := <-items:
			if !ok {
				return
			}
			if err := e.renderOne(ctx, item); err != nil {
				tl.failed++
				tl.failures = append(tl.failures, Failure{Item: item, Err: err})
			} else {
				tl.succeeded++
			}
		}
	}
}

// renderOne runs a single item. Panics in the renderer are converted to
// errors so one bad item cannot take down its worker or skew the tallies.
func (e *Engine) renderOne(ctx context.Context, item WorkItem) (err error) {
	runCtx := ctx
	var cancel func()
	if e.cfg.ItemTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.ItemTimeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			e.log.Error("render panicked",
				logx.String("target", item.Target),
				logx.String("format", item.Format),
				logx.Any("panic", rec),
				logx.Stack(string(debug.Stack())))
		}
	}()

	art, err := e.renderer.Render(runCtx, item.Target, item.Format)
	if err != nil {
		e.log.Warn("render failed",
			logx.String("target", item.Target),
			logx.String("format", item.Format),
			logx.Any("err", err))
		return err
	}
	e.log.Debug("render completed",
		logx.String("artifact", art.ID),
		logx.Int64("size", art.Size))
	return nil
}

// Close rejects future Run calls. Idempotent; in-flight runs finish on
// their own and are collected by Drain.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// Drain blocks until in-flight runs complete or ctx expires.
func (e *Engine) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
