// Package queue implements the ad-hoc priority queue for one-shot tasks.
//
// The queue only orders tasks; it never executes them and never waits for
// work to appear. Callers pop tasks and run the Work closure themselves.
package queue

import (
	"container/heap"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrDuplicateTask = errors.New("task id already scheduled")
	ErrEmptyTaskID   = errors.New("task id required")
	ErrNilWork       = errors.New("task work is nil")
)

// Task is one unit of deferred work plus its ordering key.
//
// Priority orders ascending: priority 1 pops before priority 5. ScheduledAt
// is a tie-breaker only, never a "run no earlier than" gate.
type Task struct {
	ID          string
	Description string
	Work        func()
	Priority    int
	ScheduledAt time.Time
}

// NextTask describes the head of the queue for Stats.
type NextTask struct {
	Description string
	Priority    int
}

// Stats is a point-in-time view of the queue. Next is nil when empty.
type Stats struct {
	Size  int
	Empty bool
	Next  *NextTask
}

type entry struct {
	task  Task
	seq   uint64 // insertion order, stable tie-break within one queue instance
	index int    // heap index, maintained by taskHeap
}

// Queue is a thread-safe priority queue of Tasks.
//
// All operations take the single mutex; insert/pop/cancel are O(log n),
// snapshot is O(n).
type Queue struct {
	mu   sync.Mutex
	h    taskHeap
	byID map[string]*entry
	seq  uint64
}

func New() *Queue {
	return &Queue{byID: map[string]*entry{}}
}

// Schedule inserts a new task. It fails with ErrDuplicateTask when a task
// with the same id is already pending; ids may be reused after the previous
// holder popped or was cancelled.
func (q *Queue) Schedule(t Task) error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrEmptyTaskID
	}
	if t.Work == nil {
		return ErrNilWork
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.byID[t.ID]; exists {
		return ErrDuplicateTask
	}
	q.seq++
	e := &entry{task: t, seq: q.seq}
	heap.Push(&q.h, e)
	q.byID[t.ID] = e
	return nil
}

// PopNext removes and returns the highest-priority task. It returns
// ok=false immediately when the queue is empty; it never blocks waiting
// for work.
func (q *Queue) PopNext() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.h.Len() == 0 {
		return Task{}, false
	}
	e := heap.Pop(&q.h).(*entry)
	delete(q.byID, e.task.ID)
	return e.task, true
}

// PeekNext returns the highest-priority task without removing it.
func (q *Queue) PeekNext() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.h.Len() == 0 {
		return Task{}, false
	}
	return q.h[0].task, true
}

// Snapshot returns all pending tasks in unspecified order. The slice is a
// consistent point-in-time copy; later mutations don't affect it.
func (q *Queue) Snapshot() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Task, 0, q.h.Len())
	for _, e := range q.h {
		out = append(out, e.task)
	}
	return out
}

// Cancel removes the task with the given id if it is still pending.
// It reports whether a removal occurred; cancelling an absent id is not
// an error. A task whose Work already started cannot be interrupted.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.h, e.index)
	delete(q.byID, id)
	return true
}

// Stats reports queue size and, when non-empty, the head task.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := Stats{Size: q.h.Len(), Empty: q.h.Len() == 0}
	if !st.Empty {
		head := q.h[0].task
		st.Next = &NextTask{Description: head.Description, Priority: head.Priority}
	}
	return st
}

// ---- heap internals ----

type taskHeap []*entry

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.task.Priority != b.task.Priority {
		return a.task.Priority < b.task.Priority
	}
	if !a.task.ScheduledAt.Equal(b.task.ScheduledAt) {
		return a.task.ScheduledAt.Before(b.task.ScheduledAt)
	}
	return a.seq < b.seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
