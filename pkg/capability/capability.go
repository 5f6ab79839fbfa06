// Package capability binds a resource requirement to the backend tag it must run under.
package capability

import (
	"fmt"

	"github.com/determined-ai/capsched/pkg/resources"
)

// LocalTag is the backend tag of the in-process, non-distributed backend. An empty tag is
// read as LocalTag.
const LocalTag = "local"

// Capability declares that a unit of work needs Requirement and must run on the backend
// identified by BackendTag. It is a value type; copies are independent and never mutated.
type Capability struct {
	Requirement resources.Vector
	BackendTag  string
}

// New returns a Capability for the given requirement and backend tag.
func New(requirement resources.Vector, backendTag string) Capability {
	if backendTag == "" {
		backendTag = LocalTag
	}
	return Capability{Requirement: requirement, BackendTag: backendTag}
}

// Local returns a Capability bound to LocalTag.
func Local(requirement resources.Vector) Capability {
	return New(requirement, LocalTag)
}

// Tag returns the backend tag, defaulting to LocalTag for a zero-value Capability.
func (c Capability) Tag() string {
	if c.BackendTag == "" {
		return LocalTag
	}
	return c.BackendTag
}

// Equal reports whether both the requirement and the backend tag match.
func (c Capability) Equal(other Capability) bool {
	return c.Tag() == other.Tag() && c.Requirement.Equal(other.Requirement)
}

// Key returns a canonical string usable as a map key; equal capabilities share a key.
func (c Capability) Key() string {
	return fmt.Sprintf("%q|%s", c.Tag(), c.Requirement.Key())
}

func (c Capability) String() string {
	return fmt.Sprintf("%s@%s", c.Requirement, c.Tag())
}
