package scheduler

import (
	"time"

	"github.com/pkg/errors"

	"github.com/determined-ai/capsched/pkg/check"
	"github.com/determined-ai/capsched/pkg/resources"
)

const (
	// DefaultWorkerLostRetries is the number of times a task is retried after its worker is lost.
	DefaultWorkerLostRetries = 2
	// DefaultRetainFinished is the number of finished tasks whose state Status remembers.
	DefaultRetainFinished = 1024
)

// DefaultConfig returns a configuration with no pools and the default retry policy.
func DefaultConfig() Config {
	return Config{
		Pools:             map[string]resources.Vector{},
		WorkerLostRetries: DefaultWorkerLostRetries,
		RetryBackoff:      DefaultRetryBackoff(),
		RetainFinished:    DefaultRetainFinished,
	}
}

// Config declares the capacities the scheduler manages and how it treats failures.
type Config struct {
	// Pools maps each backend tag to the total capacity of its pool.
	Pools map[string]resources.Vector
	// WorkerLostRetries bounds how many times a task whose worker was lost is run again.
	WorkerLostRetries int
	RetryBackoff      RetryBackoff
	// RetainFinished is how many finished tasks Status remembers; 0 disables it.
	RetainFinished int
}

// Validate implements the check.Validatable interface.
func (c Config) Validate() []error {
	errs := []error{
		check.GreaterThanOrEqualTo(float64(c.WorkerLostRetries), 0,
			"worker_lost_retries must be non-negative"),
		check.GreaterThanOrEqualTo(float64(c.RetainFinished), 0,
			"retain_finished must be non-negative"),
	}
	for tag, total := range c.Pools {
		errs = append(errs, check.NotEmpty(tag, "pool tags must be non-empty"))
		if total.HasNegative() {
			errs = append(errs, errors.Errorf("pool %s has a negative capacity: %s", tag, total))
		}
	}
	return errs
}

// DefaultRetryBackoff returns the default retry delays.
func DefaultRetryBackoff() RetryBackoff {
	return RetryBackoff{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// RetryBackoff configures the exponential delay between runs of a task whose worker was lost.
type RetryBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Validate implements the check.Validatable interface.
func (r RetryBackoff) Validate() []error {
	return []error{
		check.True(r.InitialInterval > 0, "retry_backoff.initial_interval must be positive"),
		check.True(r.MaxInterval >= r.InitialInterval,
			"retry_backoff.max_interval must be at least initial_interval"),
	}
}
