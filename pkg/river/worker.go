// Package river runs state controller cleanup passes as River queue jobs.
//
// Two workers are provided:
//   - CleanupWorker runs one cleanup pass per job, typically scheduled with
//     PeriodicCleanup
//   - DropSubStoresWorker queues the teardown of a parent entity's scoped
//     stores (for example an offline guild) and runs the pass that drains it
//
// Errors are classified for River's retry logic: cancellation and a closed
// controller cancel the job, everything else is retried.
package river

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/riverqueue/river"

	"gwstate/pkg/cache"
	"gwstate/pkg/state"
)

// CleanupArgs are the arguments of a cleanup pass job.
type CleanupArgs struct {
	// Reason is recorded on the job for operators, e.g. "periodic" or "resume".
	Reason string `json:"reason,omitempty"`
}

func (CleanupArgs) Kind() string { return "gwstate_cleanup" }

// CleanupWorker is a River worker that runs one cleanup pass per job.
type CleanupWorker struct {
	river.WorkerDefaults[CleanupArgs]

	// Controller is the session's state controller
	Controller *state.Controller
}

// Work runs a cleanup pass. Task failures fail the job so River records
// them; the failed tasks themselves are not retried by the next pass.
func (w *CleanupWorker) Work(ctx context.Context, job *river.Job[CleanupArgs]) error {
	if err := w.Controller.RunCleanup(ctx); err != nil {
		return classifyError(err)
	}
	return nil
}

// NewCleanupWorker creates a CleanupWorker for ctrl.
func NewCleanupWorker(ctrl *state.Controller) *CleanupWorker {
	return &CleanupWorker{Controller: ctrl}
}

// PeriodicCleanup schedules a cleanup job every interval, starting when the
// River client starts.
func PeriodicCleanup(interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return CleanupArgs{Reason: "periodic"}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}

// DropSubStoresArgs request the teardown of the stores scoped under Parent.
type DropSubStoresArgs struct {
	Parent uint64            `json:"parent"`
	Kinds  []cache.StoreType `json:"kinds"`
}

func (DropSubStoresArgs) Kind() string { return "gwstate_drop_sub_stores" }

// DropSubStoresWorker queues one cleanup task per store kind and runs the
// pass that executes them.
type DropSubStoresWorker struct {
	river.WorkerDefaults[DropSubStoresArgs]

	Controller *state.Controller
}

func (w *DropSubStoresWorker) Work(ctx context.Context, job *river.Job[DropSubStoresArgs]) error {
	ctrl := w.Controller
	for _, kind := range job.Args.Kinds {
		kind := kind
		ctrl.AddCleanupTask(fmt.Sprintf("drop %s/%d (job %d)", kind, job.Args.Parent, job.ID), func(ctx context.Context) error {
			return state.DropSubStore(ctx, ctrl, job.Args.Parent, kind)
		})
	}
	if err := ctrl.RunCleanup(ctx); err != nil {
		return classifyError(err)
	}
	return nil
}

// NewDropSubStoresWorker creates a DropSubStoresWorker for ctrl.
func NewDropSubStoresWorker(ctrl *state.Controller) *DropSubStoresWorker {
	return &DropSubStoresWorker{Controller: ctrl}
}

// classifyError converts controller errors to River-appropriate errors.
func classifyError(err error) error {
	// A closed controller will never run again
	if errors.Is(err, state.ErrClosed) {
		return river.JobCancel(err)
	}

	// Context cancellation - don't retry, job was cancelled
	if errors.Is(err, context.Canceled) {
		return river.JobCancel(err)
	}

	var panicErr *state.CleanupPanicError
	if errors.As(err, &panicErr) {
		return fmt.Errorf("cleanup task %q panicked: %w", panicErr.Name, err)
	}

	// Deadline exceeded and task failures: let River retry with backoff
	return err
}
