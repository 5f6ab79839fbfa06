package backend

import (
	"context"
	"sync/atomic"
)

// Instrumented wraps a Backend and counts how many runs are in flight.
type Instrumented struct {
	Backend

	running atomic.Int64
	peak    atomic.Int64
	calls   atomic.Int64
}

// NewInstrumented wraps b.
func NewInstrumented(b Backend) *Instrumented {
	return &Instrumented{Backend: b}
}

// Run implements Backend.
func (i *Instrumented) Run(ctx context.Context, w Work) (interface{}, error) {
	i.calls.Add(1)
	n := i.running.Add(1)
	defer i.running.Add(-1)
	for {
		p := i.peak.Load()
		if n <= p || i.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return i.Backend.Run(ctx, w)
}

// Running returns the number of runs currently in flight.
func (i *Instrumented) Running() int64 {
	return i.running.Load()
}

// Peak returns the highest number of runs that were ever in flight at once.
func (i *Instrumented) Peak() int64 {
	return i.peak.Load()
}

// Calls returns the total number of runs started.
func (i *Instrumented) Calls() int64 {
	return i.calls.Load()
}
