package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/determined-ai/capsched/pkg/backend"
	"github.com/determined-ai/capsched/pkg/capability"
)

// State is the lifecycle state of a submitted task.
type State int32

// Task states. A task moves Submitted -> Queued -> Running and ends in exactly one of
// Completed, Failed or Cancelled. A task whose worker was lost goes back to Queued.
const (
	StateSubmitted State = iota
	StateQueued
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateSubmitted:
		return "SUBMITTED"
	case StateQueued:
		return "QUEUED"
	case StateRunning:
		return "RUNNING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Handle refers to a submitted task.
type Handle struct {
	t *task
}

// ID returns the unique ID of the task.
func (h *Handle) ID() string {
	return h.t.id
}

// Name returns the human-readable name of the task.
func (h *Handle) Name() string {
	return h.t.name
}

// Capability returns the capability the task was submitted with.
func (h *Handle) Capability() capability.Capability {
	return h.t.capability
}

// State returns the current state of the task.
func (h *Handle) State() State {
	return h.t.loadState()
}

// Attempts returns how many times the task was dispatched to its backend.
func (h *Handle) Attempts() int {
	return int(h.t.attempts.Load())
}

// Done is closed once the task reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.t.done
}

// Wait blocks until the task reaches a terminal state or ctx is done, and returns the task's
// result. A task that did not complete returns a nil result and its error: a *CapacityError,
// *UnknownTagError, *InvalidRequirementError, *backend.TaskError, *backend.WorkerLostError,
// ErrShuttingDown or ErrCancelled.
func (h *Handle) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-h.t.done:
		return h.t.result, h.t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome of a finished task. It must only be called after Done is closed.
func (h *Handle) Result() (interface{}, error) {
	return h.t.result, h.t.err
}

// task is the scheduler's record of a submission. Fields below the mutable marker are guarded
// by the scheduler's lock.
type task struct {
	id         string
	name       string
	seq        uint64
	capability capability.Capability
	work       backend.Work
	maxRetries int
	log        *logrus.Entry

	state    atomic.Int32
	attempts atomic.Int32
	done     chan struct{}
	result   interface{}
	err      error

	// mutable
	cancel          context.CancelFunc
	cancelRequested bool
	started         time.Time
	retries         backoff.BackOff
	retryTimer      clockwork.Timer
}

// QueueID implements waitqueue.Item.
func (t *task) QueueID() string { return t.id }

// QueueSeq implements waitqueue.Item.
func (t *task) QueueSeq() uint64 { return t.seq }

func (t *task) loadState() State {
	return State(t.state.Load())
}

func (t *task) setState(s State) {
	t.state.Store(int32(s))
}

func (t *task) tag() string {
	return t.capability.Tag()
}
