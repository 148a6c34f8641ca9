package state

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Common sentinel errors
var (
	// ErrClosed is returned by operations on a controller after Close.
	ErrClosed = errors.New("state controller closed")

	// ErrEntityLeased is returned when a handle cannot be allocated because an
	// exclusive handle holds the entity, or an exclusive handle was requested
	// while other handles are live.
	ErrEntityLeased = errors.New("entity is exclusively leased")

	// ErrHandleCollision identifies a freshly generated handle id that is
	// already registered. It is always raised as a panic via InvariantError.
	ErrHandleCollision = errors.New("handle identifier collision")
)

// InvariantError reports a broken internal guarantee of the controller.
// It is never returned; the controller panics with it because continuing
// would let two callers believe they own the same handle slot.
type InvariantError struct {
	HandleID uuid.UUID
	Cause    error
	Message  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("state invariant violated: %s (handle %s): %v", e.Message, e.HandleID, e.Cause)
}

func (e *InvariantError) Unwrap() error {
	return e.Cause
}

// DisposeError represents a failed handle disposal. The handle stays live
// and registered, so disposal can be retried.
type DisposeError struct {
	HandleID uuid.UUID
	Store    string
	EntityID string
	Cause    error
}

func (e *DisposeError) Error() string {
	return fmt.Sprintf("dispose handle %s (%s/%s): %v", e.HandleID, e.Store, e.EntityID, e.Cause)
}

func (e *DisposeError) Unwrap() error {
	return e.Cause
}

// CleanupTaskError represents a failure of one queued cleanup task or sweep.
type CleanupTaskError struct {
	// Pass is the sequence number of the cleanup pass the task ran in
	Pass uint64

	// Name is the task or sweep name
	Name string

	// Cause is the underlying error
	Cause error
}

func (e *CleanupTaskError) Error() string {
	return fmt.Sprintf("cleanup pass %d: task %q: %v", e.Pass, e.Name, e.Cause)
}

func (e *CleanupTaskError) Unwrap() error {
	return e.Cause
}

// CleanupPanicError represents a panic recovered from a cleanup task.
type CleanupPanicError struct {
	*CleanupTaskError
	PanicValue any
	Stack      []byte
}

func (e *CleanupPanicError) Error() string {
	return fmt.Sprintf("panic in cleanup task %q: %v", e.Name, e.PanicValue)
}

func (e *CleanupPanicError) Unwrap() error {
	return e.CleanupTaskError
}

// CleanupError collects every failure of one cleanup pass. The pass itself
// always ran to completion (or to cancellation); failures are isolated.
type CleanupError struct {
	Pass     uint64
	Failures []error
}

func (e *CleanupError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("cleanup pass %d: %d failure(s): %s", e.Pass, len(e.Failures), strings.Join(msgs, "; "))
}

func (e *CleanupError) Unwrap() []error {
	return e.Failures
}
