package backend

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnsupportedWork is wrapped in the TaskError returned when a backend is handed a kind of
// work it cannot run.
var ErrUnsupportedWork = errors.New("work kind not supported by backend")

// TaskError wraps a failure raised by the work itself. It is never retried automatically.
type TaskError struct {
	Err error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task failed: %v", e.Err)
}

// Unwrap returns the application error.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// WorkerLostError reports that the execution unit running a task terminated abnormally, for
// example a process killed by the kernel's OOM killer.
type WorkerLostError struct {
	Backend string
	Reason  string
	Err     error
}

func (e *WorkerLostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker lost on %s backend: %s: %v", e.Backend, e.Reason, e.Err)
	}
	return fmt.Sprintf("worker lost on %s backend: %s", e.Backend, e.Reason)
}

// Unwrap returns the underlying cause, if any.
func (e *WorkerLostError) Unwrap() error {
	return e.Err
}

// ExitError describes a process or container that exited with a non-zero status.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("exited with code %d", e.Code)
	}
	return fmt.Sprintf("exited with code %d: %s", e.Code, e.Stderr)
}

// IsWorkerLost reports whether err is or wraps a *WorkerLostError.
func IsWorkerLost(err error) bool {
	var lost *WorkerLostError
	return errors.As(err, &lost)
}

// IsTaskError reports whether err is or wraps a *TaskError.
func IsTaskError(err error) bool {
	var terr *TaskError
	return errors.As(err, &terr)
}

func unsupported(b Backend, w Work) error {
	return &TaskError{Err: errors.Wrapf(ErrUnsupportedWork, "%s backend cannot run %s work",
		b.Name(), KindOf(w))}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
