package state

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// CleanupFunc is one unit of deferred teardown work.
type CleanupFunc func(ctx context.Context) error

const unnamedCleanupTask = "unnamed cleanup task"

type cleanupTask struct {
	name string
	fn   CleanupFunc
}

// cleanupQueue is an unbounded FIFO safe for concurrent use.
type cleanupQueue struct {
	mu    sync.Mutex
	tasks []cleanupTask
	head  int
}

func (q *cleanupQueue) push(t cleanupTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
}

func (q *cleanupQueue) pop() (cleanupTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.tasks) {
		return cleanupTask{}, false
	}
	t := q.tasks[q.head]
	q.tasks[q.head] = cleanupTask{}
	q.head++

	// Compact once the consumed prefix dominates the backing array
	if q.head == len(q.tasks) {
		q.tasks = q.tasks[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.tasks) {
		n := copy(q.tasks, q.tasks[q.head:])
		q.tasks = q.tasks[:n]
		q.head = 0
	}
	return t, true
}

func (q *cleanupQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks) - q.head
}

// AddCleanupTask queues fn to run in the next cleanup pass. It never blocks
// and may be called from anywhere, including from a running cleanup task;
// a task queued during a pass runs in that same pass. An empty name is
// replaced by a placeholder.
func (c *Controller) AddCleanupTask(name string, fn CleanupFunc) {
	if name == "" {
		name = unnamedCleanupTask
	}
	c.queue.push(cleanupTask{name: name, fn: fn})
}

// PendingCleanupTasks returns the number of queued tasks not yet started.
func (c *Controller) PendingCleanupTasks() int {
	return c.queue.len()
}

// RunCleanup executes one cleanup pass: it waits until no other pass is
// running, runs the fixed sweeps, then drains the task queue in FIFO order
// until it is empty.
//
// A failing or panicking sweep or task is recorded and the pass continues.
// If ctx is cancelled the drain stops between tasks and the remaining tasks
// stay queued for the next pass. All failures are returned as one
// *CleanupError. Waiting for the gate returns ctx.Err() directly.
func (c *Controller) RunCleanup(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.runCleanup(ctx)
}

func (c *Controller) runCleanup(ctx context.Context) (err error) {
	if s, ok := c.observer.(CleanupScoper); ok {
		var end func()
		ctx, end = s.StartCleanupScope(ctx)
		defer end()
	}

	if err := c.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.gate.Release(1)

	pass := c.passes.Add(1)
	start := time.Now()
	c.observer.OnCleanupStart(ctx, &CleanupStartEvent{
		Pass:      pass,
		Queued:    c.queue.len(),
		StartTime: start,
	})

	var failures []error
	for _, s := range c.sweepers {
		sweeper := s
		if err := c.runCleanupStep(ctx, pass, sweeper.Name(), true, func(ctx context.Context) error {
			return sweeper.Sweep(ctx, c)
		}); err != nil {
			failures = append(failures, err)
		}
	}

	tasks := 0
	for {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		task, ok := c.queue.pop()
		if !ok {
			break
		}
		tasks++
		if err := c.runCleanupStep(ctx, pass, task.name, false, task.fn); err != nil {
			failures = append(failures, err)
		}
	}

	if len(failures) > 0 {
		err = &CleanupError{Pass: pass, Failures: failures}
	}
	c.observer.OnCleanupEnd(ctx, &CleanupEndEvent{
		Pass:     pass,
		Tasks:    tasks,
		Failures: len(failures),
		Duration: time.Since(start),
		Error:    err,
	})
	return err
}

// runCleanupStep runs one sweep or task, converting a panic into a
// *CleanupPanicError.
func (c *Controller) runCleanupStep(ctx context.Context, pass uint64, name string, sweep bool, fn CleanupFunc) (err error) {
	start := time.Now()
	panicked := false

	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				err = &CleanupPanicError{
					CleanupTaskError: &CleanupTaskError{
						Pass:  pass,
						Name:  name,
						Cause: fmt.Errorf("panic: %v", r),
					},
					PanicValue: r,
					Stack:      debug.Stack(),
				}
			}
		}()
		if ferr := fn(ctx); ferr != nil {
			err = &CleanupTaskError{Pass: pass, Name: name, Cause: ferr}
		}
	}()

	c.observer.OnCleanupTask(ctx, &CleanupTaskEvent{
		Pass:     pass,
		Name:     name,
		Sweep:    sweep,
		Duration: time.Since(start),
		Error:    err,
		Panicked: panicked,
	})
	return err
}

// RunEvery runs a cleanup pass every interval until ctx is done or the
// controller is closed. Failed passes are reported through the observer
// and do not stop the loop.
func (c *Controller) RunEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.RunCleanup(ctx); errors.Is(err, ErrClosed) {
				return err
			}
		}
	}
}
