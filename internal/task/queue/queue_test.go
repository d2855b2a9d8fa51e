package queue

import (
	"sync"
	"testing"
	"time"
)

func mustSchedule(t *testing.T, q *Queue, id, desc string, prio int, at time.Time) {
	t.Helper()
	err := q.Schedule(Task{ID: id, Description: desc, Work: func() {}, Priority: prio, ScheduledAt: at})
	if err != nil {
		t.Fatalf("Schedule(%s) error: %v", id, err)
	}
}

func TestPopOrdersByPriorityThenTime(t *testing.T) {
	t.Parallel()
	q := New()
	now := time.Now()

	mustSchedule(t, q, "T1", "Low", 5, now)
	mustSchedule(t, q, "T2", "High", 1, now)
	mustSchedule(t, q, "T3", "Mid", 3, now)

	want := []string{"T2", "T3", "T1"}
	for i, id := range want {
		got, ok := q.PopNext()
		if !ok {
			t.Fatalf("pop %d: queue unexpectedly empty", i)
		}
		if got.ID != id {
			t.Fatalf("pop %d = %s, want %s", i, got.ID, id)
		}
	}
	if _, ok := q.PopNext(); ok {
		t.Fatal("queue should be empty after three pops")
	}
}

func TestEqualPriorityBreaksTiesByScheduledAt(t *testing.T) {
	t.Parallel()
	q := New()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	mustSchedule(t, q, "later", "later", 2, base.Add(time.Hour))
	mustSchedule(t, q, "earlier", "earlier", 2, base)

	got, _ := q.PopNext()
	if got.ID != "earlier" {
		t.Fatalf("first pop = %s, want earlier", got.ID)
	}
}

func TestEqualPriorityAndTimeIsStable(t *testing.T) {
	t.Parallel()
	q := New()
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		mustSchedule(t, q, id, id, 7, at)
	}
	for i, want := range ids {
		got, _ := q.PopNext()
		if got.ID != want {
			t.Fatalf("pop %d = %s, want %s (insertion order)", i, got.ID, want)
		}
	}
}

func TestScheduleDuplicateID(t *testing.T) {
	t.Parallel()
	q := New()
	now := time.Now()

	mustSchedule(t, q, "T1", "first", 1, now)
	err := q.Schedule(Task{ID: "T1", Description: "second", Work: func() {}, Priority: 2, ScheduledAt: now})
	if err != ErrDuplicateTask {
		t.Fatalf("duplicate Schedule error = %v, want ErrDuplicateTask", err)
	}

	// Reuse after removal is legal.
	if !q.Cancel("T1") {
		t.Fatal("Cancel(T1) = false, want true")
	}
	mustSchedule(t, q, "T1", "third", 3, now)
}

func TestScheduleRejectsBadInput(t *testing.T) {
	t.Parallel()
	q := New()

	if err := q.Schedule(Task{ID: "  ", Work: func() {}}); err != ErrEmptyTaskID {
		t.Fatalf("blank id error = %v, want ErrEmptyTaskID", err)
	}
	if err := q.Schedule(Task{ID: "T1"}); err != ErrNilWork {
		t.Fatalf("nil work error = %v, want ErrNilWork", err)
	}
}

func TestPeekThenPopReturnsSameTask(t *testing.T) {
	t.Parallel()
	q := New()
	now := time.Now()

	mustSchedule(t, q, "T1", "one", 4, now)
	mustSchedule(t, q, "T2", "two", 2, now)

	peeked, ok := q.PeekNext()
	if !ok {
		t.Fatal("PeekNext on non-empty queue returned empty")
	}
	popped, _ := q.PopNext()
	if peeked.ID != popped.ID {
		t.Fatalf("peek = %s, pop = %s; want same task", peeked.ID, popped.ID)
	}
	if q.Stats().Size != 1 {
		t.Fatalf("size after peek+pop = %d, want 1", q.Stats().Size)
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()
	q := New()
	now := time.Now()

	mustSchedule(t, q, "keep", "keep", 1, now)
	mustSchedule(t, q, "drop", "drop", 2, now)

	if !q.Cancel("drop") {
		t.Fatal("Cancel(drop) = false, want true")
	}
	for _, task := range q.Snapshot() {
		if task.ID == "drop" {
			t.Fatal("snapshot still contains cancelled task")
		}
	}

	before := q.Stats().Size
	if q.Cancel("absent") {
		t.Fatal("Cancel(absent) = true, want false")
	}
	if got := q.Stats().Size; got != before {
		t.Fatalf("size changed on absent cancel: %d -> %d", before, got)
	}
}

func TestStatsEmptyAndNonEmpty(t *testing.T) {
	t.Parallel()
	q := New()

	st := q.Stats()
	if st.Size != 0 || !st.Empty || st.Next != nil {
		t.Fatalf("empty stats = %+v, want size=0 empty=true next=nil", st)
	}

	mustSchedule(t, q, "T1", "head task", 1, time.Now())
	st = q.Stats()
	if st.Size != 1 || st.Empty {
		t.Fatalf("stats = %+v, want size=1 empty=false", st)
	}
	if st.Next == nil || st.Next.Description != "head task" || st.Next.Priority != 1 {
		t.Fatalf("stats next = %+v, want head task / priority 1", st.Next)
	}
}

func TestSnapshotIsConsistentCopy(t *testing.T) {
	t.Parallel()
	q := New()
	now := time.Now()
	mustSchedule(t, q, "a", "a", 1, now)
	mustSchedule(t, q, "b", "b", 2, now)

	snap := q.Snapshot()
	q.Cancel("a")
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d, want 2 (copy unaffected by later cancel)", len(snap))
	}
	seen := map[string]int{}
	for _, task := range snap {
		seen[task.ID]++
	}
	if seen["a"] != 1 || seen["b"] != 1 {
		t.Fatalf("snapshot ids = %v, want each task exactly once", seen)
	}
}

func TestConcurrentMixedOperations(t *testing.T) {
	t.Parallel()
	q := New()
	now := time.Now()

	const perWorker = 50
	var wg sync.WaitGroup
	ids := []string{"w0", "w1", "w2", "w3"}
	for _, prefix := range ids {
		wg.Add(1)
		go func(prefix string) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := prefix + "-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
				_ = q.Schedule(Task{ID: id, Work: func() {}, Priority: i % 5, ScheduledAt: now})
				if i%3 == 0 {
					q.Cancel(id)
				}
				_, _ = q.PeekNext()
				_ = q.Snapshot()
				_ = q.Stats()
			}
		}(prefix)
	}
	wg.Wait()

	// Drain: pops must come out in non-decreasing priority.
	last := -1
	for {
		task, ok := q.PopNext()
		if !ok {
			break
		}
		if task.Priority < last {
			t.Fatalf("pop order regressed: %d after %d", task.Priority, last)
		}
		last = task.Priority
	}
}
