package scheduler

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/determined-ai/capsched/pkg/resources"
)

var (
	// ErrShuttingDown is the error of tasks submitted after Shutdown was called.
	ErrShuttingDown = errors.New("scheduler is shutting down")
	// ErrCancelled is the error of cancelled tasks.
	ErrCancelled = errors.New("task cancelled")
)

// CapacityError reports a requirement that can never fit in the total capacity of its pool.
type CapacityError struct {
	Tag         string
	Requirement resources.Vector
	Total       resources.Vector
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("requirement %s exceeds the total capacity %s of pool %q",
		e.Requirement, e.Total, e.Tag)
}

// UnknownTagError reports a capability bound to a backend tag that has no pool.
type UnknownTagError struct {
	Tag string
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("no resource pool for backend tag %q", e.Tag)
}

// InvalidRequirementError reports a requirement that can not be accounted for, such as one
// with a negative or non-finite component.
type InvalidRequirementError struct {
	Requirement resources.Vector
	Reason      string
}

func (e *InvalidRequirementError) Error() string {
	return fmt.Sprintf("invalid requirement %s: %s", e.Requirement, e.Reason)
}
