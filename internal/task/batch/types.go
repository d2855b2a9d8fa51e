package batch

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoTargets      = errors.New("batch: no targets")
	ErrNoFormats      = errors.New("batch: no formats")
	ErrInvalidWorkers = errors.New("batch: worker count must be >= 1")
	ErrShuttingDown   = errors.New("batch: engine shutting down")
)

// Config controls the batch execution engine.
type Config struct {
	// Workers is the default pool size when Run is called with workers <= 0.
	Workers int

	// ItemTimeout bounds a single render. 0 disables the per-item timeout.
	ItemTimeout time.Duration
}

// WorkItem is one (target, format) cell of a batch.
type WorkItem struct {
	Target string
	Format string
}

// Artifact describes one rendered output.
type Artifact struct {
	ID   string
	Size int64
}

// Failure records a single failed work item together with its cause.
type Failure struct {
	Item WorkItem
	Err  error
}

// Result summarizes one batch run. Attempted always equals
// len(targets) * len(formats); every item lands in exactly one of
// Succeeded or Failed.
type Result struct {
	Attempted int
	Succeeded int
	Failed    int
	Failures  []Failure
	Duration  time.Duration
}

// Renderer produces one artifact per work item. Implementations must be
// safe for concurrent use; the engine calls Render from multiple workers.
type Renderer interface {
	Render(ctx context.Context, target, format string) (Artifact, error)
}

// RenderFunc adapts a plain function to the Renderer interface.
type RenderFunc func(ctx context.Context, target, format string) (Artifact, error)

func (f RenderFunc) Render(ctx context.Context, target, format string) (Artifact, error) {
	return f(ctx, target, format)
}

// BatchEvent is emitted on the event bus after every completed run.
type BatchEvent struct {
	Targets   int           `json:"targets"`
	Formats   int           `json:"formats"`
	Workers   int           `json:"workers"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}
