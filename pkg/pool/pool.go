// Package pool implements the resource budget of a single backend tag.
package pool

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/determined-ai/capsched/pkg/check"
	"github.com/determined-ai/capsched/pkg/resources"
)

// Pool holds a fixed total capacity and the part of it that is currently available. Every
// mutation goes through TryAcquire or Release, which keep 0 <= available <= total
// componentwise.
type Pool struct {
	tag   string
	total resources.Vector

	mu        sync.Mutex
	available resources.Vector
}

// Summary is a point-in-time view of a Pool.
type Summary struct {
	Tag       string           `json:"tag"`
	Total     resources.Vector `json:"total"`
	Available resources.Vector `json:"available"`
	InUse     resources.Vector `json:"in_use"`
}

// New returns a fully available pool for tag with the given total capacity.
func New(tag string, total resources.Vector) (*Pool, error) {
	if errs := total.Validate(); len(errs) > 0 {
		return nil, errors.Wrapf(errs[0], "invalid capacity for pool %s", tag)
	}
	if total.HasNegative() {
		return nil, errors.Errorf("capacity for pool %s has a negative component: %s", tag, total)
	}
	return &Pool{tag: tag, total: total, available: total}, nil
}

// Tag returns the backend tag this pool serves.
func (p *Pool) Tag() string {
	return p.tag
}

// Total returns the fixed capacity of the pool.
func (p *Pool) Total() resources.Vector {
	return p.total
}

// Available returns the currently unreserved capacity.
func (p *Pool) Available() resources.Vector {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// InUse returns the currently reserved capacity.
func (p *Pool) InUse() resources.Vector {
	p.mu.Lock()
	defer p.mu.Unlock()
	return resources.Subtract(p.total, p.available)
}

// CapacityExceeds reports whether the total capacity covers the requirement, i.e. whether
// the requirement could ever be admitted by this pool.
func (p *Pool) CapacityExceeds(requirement resources.Vector) bool {
	return !requirement.HasNegative() && resources.LessEqual(requirement, p.total)
}

// TryAcquire reserves requirement if it fits in the available capacity and reports whether
// it did. When it does not fit the pool is left untouched. Requirements with a negative
// component are never admitted.
func (p *Pool) TryAcquire(requirement resources.Vector) bool {
	if requirement.HasNegative() {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !resources.LessEqual(requirement, p.available) {
		return false
	}
	p.available = resources.Subtract(p.available, requirement)
	return true
}

// Release returns a previously acquired requirement to the pool. Releasing more than was
// acquired is a programming error and panics without modifying the pool.
func (p *Pool) Release(requirement resources.Vector) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := resources.Add(p.available, requirement)
	check.Panic(check.True(
		len(requirement.Validate()) == 0 && !requirement.HasNegative() &&
			resources.LessEqual(next, p.total),
		"pool %s: releasing %s would raise available %s above total %s",
		p.tag, requirement, p.available, p.total,
	))
	p.available = next
}

// Summary returns a consistent snapshot of the pool.
func (p *Pool) Summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Summary{
		Tag:       p.tag,
		Total:     p.total,
		Available: p.available,
		InUse:     resources.Subtract(p.total, p.available),
	}
}
