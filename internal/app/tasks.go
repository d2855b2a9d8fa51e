package app

import (
	"fmt"
	"runtime/debug"

	"gradebook/internal/eventbus"
	"gradebook/internal/task/queue"
	logx "gradebook/pkg/logx"
)

// TaskEvent is the bus payload for one-off task lifecycle events.
type TaskEvent struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
}

// ScheduleTask enqueues a one-off task. Duplicate ids are rejected.
func (a *App) ScheduleTask(t queue.Task) error {
	if err := a.tasks.Schedule(t); err != nil {
		return err
	}
	a.log.Debug("task scheduled", logx.String("id", t.ID), logx.Int("priority", t.Priority))
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskScheduled, Data: TaskEvent{ID: t.ID, Priority: t.Priority}})
	return nil
}

// CancelTask removes a pending task. It reports whether one was removed.
func (a *App) CancelTask(id string) bool {
	if !a.tasks.Cancel(id) {
		return false
	}
	a.log.Debug("task cancelled", logx.String("id", id))
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskCancelled, Data: TaskEvent{ID: id}})
	return true
}

// QueueStats reports the pending queue size and the head task.
func (a *App) QueueStats() queue.Stats { return a.tasks.Stats() }

// PendingTasks lists queued tasks without disturbing the order.
func (a *App) PendingTasks() []queue.Task { return a.tasks.Snapshot() }

// RunPendingTasks drains the queue, executing tasks highest priority
// first. A panicking task is logged and skipped; the drain continues.
// It returns how many tasks ran (panicked ones included).
func (a *App) RunPendingTasks() int {
	ran := 0
	for {
		t, ok := a.tasks.PopNext()
		if !ok {
			return ran
		}
		ran++
		if err := runTask(t); err != nil {
			a.log.Error("task panicked",
				logx.String("id", t.ID),
				logx.String("description", t.Description),
				logx.Any("err", err))
			continue
		}
		a.log.Debug("task executed", logx.String("id", t.ID), logx.Int("priority", t.Priority))
	}
}

func runTask(t queue.Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	t.Work()
	return nil
}
