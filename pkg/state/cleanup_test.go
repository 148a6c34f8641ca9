package state

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ============ Ordering ============

func TestRunCleanup_FIFO(t *testing.T) {
	ctx := context.Background()
	c, _ := newUsers(t)

	var order []string
	for _, name := range []string{"A", "B", "C"} {
		name := name
		c.AddCleanupTask(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	if c.PendingCleanupTasks() != 3 {
		t.Fatalf("expected 3 pending tasks, got %d", c.PendingCleanupTasks())
	}

	if err := c.RunCleanup(ctx); err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"A", "B", "C"}) {
		t.Errorf("expected FIFO order, got %v", order)
	}
	if c.PendingCleanupTasks() != 0 {
		t.Errorf("expected empty queue, got %d", c.PendingCleanupTasks())
	}
}

func TestRunCleanup_EmptyQueue(t *testing.T) {
	c, _ := newUsers(t)
	if err := c.RunCleanup(context.Background()); err != nil {
		t.Errorf("empty pass: %v", err)
	}
}

func TestRunCleanup_TaskEnqueuedDuringPass(t *testing.T) {
	ctx := context.Background()
	c, _ := newUsers(t)

	var order []string
	c.AddCleanupTask("parent", func(ctx context.Context) error {
		order = append(order, "parent")
		c.AddCleanupTask("child", func(ctx context.Context) error {
			order = append(order, "child")
			return nil
		})
		return nil
	})

	if err := c.RunCleanup(ctx); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(order, []string{"parent", "child"}) {
		t.Errorf("task queued mid-pass should run in the same pass, got %v", order)
	}
}

func TestCleanupQueue_Compaction(t *testing.T) {
	var q cleanupQueue
	for i := 0; i < 500; i++ {
		q.push(cleanupTask{name: "t"})
		if i%3 == 0 {
			q.pop()
		}
	}
	want := q.len()
	got := 0
	for {
		if _, ok := q.pop(); !ok {
			break
		}
		got++
	}
	if got != want {
		t.Errorf("popped %d tasks, expected %d", got, want)
	}
	if q.len() != 0 || q.head != 0 {
		t.Errorf("expected reset queue, len=%d head=%d", q.len(), q.head)
	}
}

// ============ Mutual Exclusion ============

func TestRunCleanup_PassesNeverOverlap(t *testing.T) {
	ctx := context.Background()
	c, _ := newUsers(t)

	var inFlight, maxInFlight atomic.Int32
	track := func(ctx context.Context) error {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}

	const passes = 8
	var wg sync.WaitGroup
	for i := 0; i < passes; i++ {
		c.AddCleanupTask("track", track)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.RunCleanup(ctx); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if maxInFlight.Load() != 1 {
		t.Errorf("cleanup tasks overlapped: max in flight %d", maxInFlight.Load())
	}
	if c.passes.Load() != passes {
		t.Errorf("expected %d passes, got %d", passes, c.passes.Load())
	}
	if c.PendingCleanupTasks() != 0 {
		t.Errorf("expected drained queue, got %d", c.PendingCleanupTasks())
	}
}

func TestRunCleanup_AllocationDoesNotWait(t *testing.T) {
	ctx := context.Background()
	c, users := newUsers(t)
	user := seed(t, users, 1, "a")

	started := make(chan struct{})
	release := make(chan struct{})
	c.AddCleanupTask("slow", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- c.RunCleanup(ctx) }()
	<-started

	h, err := AllocateHandle(ctx, c, users, 1, user, FlagNone)
	if err != nil {
		t.Fatalf("allocation during cleanup: %v", err)
	}
	if err := h.Dispose(ctx); err != nil {
		t.Fatalf("dispose during cleanup: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

// ============ Failure Isolation ============

func TestRunCleanup_FailureIsolation(t *testing.T) {
	ctx := context.Background()
	c, _ := newUsers(t)

	boom := errors.New("boom")
	var ranAfter bool
	c.AddCleanupTask("fails", func(ctx context.Context) error { return boom })
	c.AddCleanupTask("after", func(ctx context.Context) error {
		ranAfter = true
		return nil
	})

	err := c.RunCleanup(ctx)
	var cerr *CleanupError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *CleanupError, got %v", err)
	}
	if len(cerr.Failures) != 1 || !errors.Is(err, boom) {
		t.Errorf("unexpected failures: %v", cerr.Failures)
	}
	var terr *CleanupTaskError
	if !errors.As(err, &terr) || terr.Name != "fails" || terr.Pass != cerr.Pass {
		t.Errorf("expected task error for %q, got %v", "fails", terr)
	}
	if !ranAfter {
		t.Error("tasks after a failure must still run")
	}

	// The gate was released
	if err := c.RunCleanup(ctx); err != nil {
		t.Errorf("next pass: %v", err)
	}
}

func TestRunCleanup_RecoversPanics(t *testing.T) {
	ctx := context.Background()
	c, _ := newUsers(t)

	var ranAfter bool
	c.AddCleanupTask("", func(ctx context.Context) error { panic("kaboom") })
	c.AddCleanupTask("after", func(ctx context.Context) error {
		ranAfter = true
		return nil
	})

	err := c.RunCleanup(ctx)
	var perr *CleanupPanicError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *CleanupPanicError, got %v", err)
	}
	if perr.PanicValue != "kaboom" || len(perr.Stack) == 0 {
		t.Errorf("unexpected panic error: %v", perr)
	}
	if perr.Name != unnamedCleanupTask {
		t.Errorf("expected default task name, got %q", perr.Name)
	}
	if !ranAfter {
		t.Error("tasks after a panic must still run")
	}
}

// ============ Cancellation ============

func TestRunCleanup_CancelLeavesTasksQueued(t *testing.T) {
	c, _ := newUsers(t)
	ctx, cancel := context.WithCancel(context.Background())

	var ran []string
	c.AddCleanupTask("first", func(ctx context.Context) error {
		ran = append(ran, "first")
		cancel()
		return nil
	})
	c.AddCleanupTask("second", func(ctx context.Context) error {
		ran = append(ran, "second")
		return nil
	})

	err := c.RunCleanup(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !reflect.DeepEqual(ran, []string{"first"}) {
		t.Errorf("expected only the first task, got %v", ran)
	}
	if c.PendingCleanupTasks() != 1 {
		t.Fatalf("expected 1 task left queued, got %d", c.PendingCleanupTasks())
	}

	if err := c.RunCleanup(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ran, []string{"first", "second"}) {
		t.Errorf("remaining task should run next pass, got %v", ran)
	}
}

func TestRunCleanup_CancelWhileWaitingForGate(t *testing.T) {
	c, _ := newUsers(t)

	started := make(chan struct{})
	release := make(chan struct{})
	c.AddCleanupTask("hold", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	done := make(chan error, 1)
	go func() { done <- c.RunCleanup(context.Background()) }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := c.RunCleanup(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

// ============ Periodic Passes ============

func TestRunEvery(t *testing.T) {
	c, _ := newUsers(t)
	ctx, cancel := context.WithCancel(context.Background())

	var runs atomic.Int32
	c.AddCleanupTask("once", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- c.RunEvery(ctx, time.Millisecond) }()

	deadline := time.After(time.Second)
	for c.PendingCleanupTasks() > 0 {
		select {
		case <-deadline:
			t.Fatal("periodic pass never ran")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if runs.Load() != 1 {
		t.Errorf("expected task to run once, got %d", runs.Load())
	}
}

func TestRunEvery_StopsOnClose(t *testing.T) {
	c, _ := newUsers(t)
	if err := c.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.RunEvery(context.Background(), time.Millisecond); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
