package backend

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/determined-ai/capsched/pkg/syncx/errgroupx"
)

// Goroutines runs Func work on goroutines inside the current process.
//
// Cancellation is cooperative only: cancelling a run cancels the context handed to the Func,
// but Go offers no way to stop a goroutine from the outside. Work that never looks at its
// context keeps running to completion, still holding its resources, and the scheduler only
// sees the cancellation once it returns.
type Goroutines struct {
	log *logrus.Entry
}

// NewGoroutines returns the in-process backend.
func NewGoroutines() *Goroutines {
	return &Goroutines{log: logrus.WithField("component", "backend").WithField("backend", "goroutines")}
}

// Name implements Backend.
func (g *Goroutines) Name() string {
	return "goroutines"
}

// Run implements Backend. Errors returned by the Func and panics raised in it are reported
// as *TaskError, except a *WorkerLostError, which a Func may return to report that a worker of
// its own went away.
func (g *Goroutines) Run(ctx context.Context, w Work) (interface{}, error) {
	fn, ok := w.(Func)
	if !ok || fn == nil {
		return nil, unsupported(g, w)
	}

	var out interface{}
	grp := errgroupx.WithContext(ctx).WithRecover()
	defer grp.Cancel()
	grp.Go(func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	if err := grp.Wait(); err != nil {
		var perr *errgroupx.PanicError
		if errors.As(err, &perr) {
			g.log.WithField("panic", perr.Value).Debug("work panicked")
		}
		if ctx.Err() != nil && isContextErr(err) {
			return nil, err
		}
		var lost *WorkerLostError
		if errors.As(err, &lost) {
			return nil, lost
		}
		return nil, &TaskError{Err: err}
	}
	return out, nil
}

// Close implements Backend.
func (g *Goroutines) Close() error {
	return nil
}
