package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gradebook/internal/eventbus"
	logx "gradebook/pkg/logx"
)

func okRenderer() Renderer {
	return RenderFunc(func(ctx context.Context, target, format string) (Artifact, error) {
		return Artifact{ID: target + "." + format, Size: 64}, nil
	})
}

// failFor fails every item whose target is listed, succeeds otherwise.
func failFor(targets ...string) Renderer {
	bad := map[string]bool{}
	for _, t := range targets {
		bad[t] = true
	}
	return RenderFunc(func(ctx context.Context, target, format string) (Artifact, error) {
		if bad[target] {
			return Artifact{}, fmt.Errorf("render %s/%s: boom", target, format)
		}
		return Artifact{ID: target + "." + format, Size: 64}, nil
	})
}

func newEngine(r Renderer, bus eventbus.Bus) *Engine {
	return New(Config{Workers: 4}, r, logx.Nop(), bus)
}

func TestRunAllSucceed(t *testing.T) {
	t.Parallel()
	e := newEngine(okRenderer(), nil)

	res, err := e.Run(context.Background(), []string{"s1", "s2"}, []string{"csv", "json"}, 4)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Attempted != 4 || res.Succeeded != 4 || res.Failed != 0 {
		t.Fatalf("result = %+v, want attempted=4 succeeded=4 failed=0", res)
	}
	if len(res.Failures) != 0 {
		t.Fatalf("failures = %v, want none", res.Failures)
	}
}

func TestRunCountsEveryCell(t *testing.T) {
	t.Parallel()
	e := newEngine(failFor("s2", "s4"), nil)

	targets := []string{"s1", "s2", "s3", "s4", "s5"}
	formats := []string{"csv", "json", "text"}
	res, err := e.Run(context.Background(), targets, formats, 4)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	want := len(targets) * len(formats)
	if res.Attempted != want {
		t.Fatalf("attempted = %d, want %d", res.Attempted, want)
	}
	if res.Succeeded+res.Failed != res.Attempted {
		t.Fatalf("succeeded(%d) + failed(%d) != attempted(%d)", res.Succeeded, res.Failed, res.Attempted)
	}
	if res.Failed != 2*len(formats) {
		t.Fatalf("failed = %d, want %d (two bad targets, every format)", res.Failed, 2*len(formats))
	}
	for _, f := range res.Failures {
		if f.Item.Target != "s2" && f.Item.Target != "s4" {
			t.Fatalf("unexpected failure for %+v", f.Item)
		}
		if f.Err == nil {
			t.Fatalf("failure for %+v carries nil error", f.Item)
		}
	}
}

func TestClassificationIndependentOfWorkerCount(t *testing.T) {
	t.Parallel()
	targets := []string{"s1", "s2", "s3", "s4", "s5", "s6"}
	formats := []string{"csv", "json"}

	classify := func(workers int) map[string]bool {
		e := newEngine(failFor("s3", "s6"), nil)
		res, err := e.Run(context.Background(), targets, formats, workers)
		if err != nil {
			t.Fatalf("Run(workers=%d) error: %v", workers, err)
		}
		failed := map[string]bool{}
		for _, f := range res.Failures {
			failed[f.Item.Target+"/"+f.Item.Format] = true
		}
		return failed
	}

	one := classify(1)
	eight := classify(8)
	if len(one) != len(eight) {
		t.Fatalf("failure sets differ in size: %d vs %d", len(one), len(eight))
	}
	for k := range one {
		if !eight[k] {
			t.Fatalf("item %s failed with 1 worker but not with 8", k)
		}
	}
}

func TestRunPreconditions(t *testing.T) {
	t.Parallel()
	e := newEngine(okRenderer(), nil)
	ctx := context.Background()

	if _, err := e.Run(ctx, nil, []string{"csv"}, 1); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("no targets error = %v, want ErrNoTargets", err)
	}
	if _, err := e.Run(ctx, []string{"s1"}, nil, 1); !errors.Is(err, ErrNoFormats) {
		t.Fatalf("no formats error = %v, want ErrNoFormats", err)
	}
	if _, err := e.Run(ctx, []string{"s1"}, []string{"csv"}, -1); !errors.Is(err, ErrInvalidWorkers) {
		t.Fatalf("negative workers error = %v, want ErrInvalidWorkers", err)
	}
	// workers == 0 falls back to the configured default.
	if _, err := e.Run(ctx, []string{"s1"}, []string{"csv"}, 0); err != nil {
		t.Fatalf("default workers error = %v, want nil", err)
	}
}

func TestRenderPanicIsContained(t *testing.T) {
	t.Parallel()
	r := RenderFunc(func(ctx context.Context, target, format string) (Artifact, error) {
		if target == "s2" {
			panic("renderer exploded")
		}
		return Artifact{ID: target + "." + format}, nil
	})
	e := newEngine(r, nil)

	res, err := e.Run(context.Background(), []string{"s1", "s2", "s3"}, []string{"csv"}, 2)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Attempted != 3 || res.Succeeded != 2 || res.Failed != 1 {
		t.Fatalf("result = %+v, want attempted=3 succeeded=2 failed=1", res)
	}
	if len(res.Failures) != 1 || !strings.Contains(res.Failures[0].Err.Error(), "panic") {
		t.Fatalf("failures = %v, want one panic failure", res.Failures)
	}
}

func TestRunPublishesCompletionEvent(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	e := newEngine(failFor("s1"), bus)
	if _, err := e.Run(context.Background(), []string{"s1", "s2"}, []string{"csv"}, 2); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Type != eventbus.TypeBatchCompleted {
			t.Fatalf("event type = %s, want %s", ev.Type, eventbus.TypeBatchCompleted)
		}
		be, ok := ev.Data.(BatchEvent)
		if !ok {
			t.Fatalf("event data = %T, want BatchEvent", ev.Data)
		}
		if be.Attempted != 2 || be.Succeeded != 1 || be.Failed != 1 {
			t.Fatalf("event payload = %+v", be)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no batch.completed event published")
	}
}

func TestCloseRejectsNewRuns(t *testing.T) {
	t.Parallel()
	e := newEngine(okRenderer(), nil)
	e.Close()
	e.Close() // idempotent

	if _, err := e.Run(context.Background(), []string{"s1"}, []string{"csv"}, 1); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("Run after Close error = %v, want ErrShuttingDown", err)
	}
}

func TestDrainWaitsForInFlight(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	var started atomic.Bool
	r := RenderFunc(func(ctx context.Context, target, format string) (Artifact, error) {
		started.Store(true)
		<-release
		return Artifact{ID: target}, nil
	})
	e := newEngine(r, nil)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_, _ = e.Run(context.Background(), []string{"s1"}, []string{"csv"}, 1)
	}()

	for !started.Load() {
		time.Sleep(time.Millisecond)
	}
	e.Close()

	// While the render hangs, Drain must time out.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	if err := e.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		cancel()
		t.Fatalf("Drain with hung render = %v, want DeadlineExceeded", err)
	}
	cancel()

	close(release)
	<-runDone
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	if err := e.Drain(ctx2); err != nil {
		t.Fatalf("Drain after completion = %v, want nil", err)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int64
	r := RenderFunc(func(_ context.Context, target, format string) (Artifact, error) {
		if calls.Add(1) == 1 {
			cancel()
		}
		return Artifact{ID: target}, nil
	})
	e := newEngine(r, nil)

	targets := make([]string, 20)
	for i := range targets {
		targets[i] = fmt.Sprintf("s%d", i)
	}
	res, err := e.Run(ctx, targets, []string{"csv"}, 1)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	// Every cell is accounted for even when the run is cut short.
	if res.Succeeded+res.Failed != res.Attempted || res.Attempted != len(targets) {
		t.Fatalf("result = %+v, want attempted=%d fully classified", res, len(targets))
	}
	if res.Failed == 0 {
		t.Fatal("cancellation should mark unprocessed items as failed")
	}
}
