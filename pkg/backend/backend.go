// Package backend defines the execution strategies the scheduler dispatches admitted work to.
//
// A Backend runs one unit of Work per Run call and reports the outcome through the returned
// error:
//   - nil: the work succeeded and the returned value is its result.
//   - *TaskError: the work itself failed (returned an error, panicked, exited non-zero). The
//     scheduler never retries these.
//   - *WorkerLostError: the execution unit died underneath the work (signal, OOM kill, lost
//     daemon). The scheduler may retry these.
//   - a context error: the run was cancelled through its context.
//
// Cancellation is best-effort and always goes through the context passed to Run. How much a
// backend can do with it differs: see the documentation of each implementation.
package backend

import (
	"context"
)

// Backend runs admitted work under some concurrency strategy.
type Backend interface {
	// Name identifies the backend in logs and errors.
	Name() string
	// Run executes w and blocks until it terminates or ctx is cancelled and the work has
	// stopped.
	Run(ctx context.Context, w Work) (interface{}, error)
	// Close releases any resources held by the backend.
	Close() error
}

// Work is a unit of execution. The concrete kinds are Func, Command and Container; each
// backend accepts the kinds it knows how to run and rejects the others with a *TaskError
// wrapping ErrUnsupportedWork.
type Work interface {
	kind() string
}

// Func is work executed in-process.
type Func func(ctx context.Context) (interface{}, error)

func (Func) kind() string { return "func" }

// Command is work executed as an operating system process. The result of a successful run
// is the process's standard output.
type Command struct {
	Path  string
	Args  []string
	Env   []string
	Dir   string
	Stdin []byte
}

func (Command) kind() string { return "command" }

// Container is work executed in a Docker container. The result of a successful run is the
// container's standard output.
type Container struct {
	Image  string
	Cmd    []string
	Env    []string
	Labels map[string]string
	// MemoryBytes is the container memory limit; 0 means unlimited.
	MemoryBytes int64
	// NanoCPUs is the CPU quota in units of 1e-9 CPUs; 0 means unlimited.
	NanoCPUs int64
}

func (Container) kind() string { return "container" }

// KindOf returns a short description of the kind of w, for logs.
func KindOf(w Work) string {
	if w == nil {
		return "nil"
	}
	return w.kind()
}
