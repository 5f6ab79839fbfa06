// Package errgroupx runs goroutines under one cancelable context and collects the first error.
package errgroupx

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// PanicError is the error a recovering Group reports for a goroutine that panicked.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v\n%s", e.Value, e.Stack)
}

// Unwrap returns the panic value if it was an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Group is an errgroup.Group whose context is always released by Cancel or Close, even if no
// goroutine fails.
type Group struct {
	eg      *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	recover bool
}

// WithContext creates a Group whose goroutines run under a child of ctx. The child is canceled
// when a goroutine fails or the group is canceled; ctx itself never is.
func WithContext(ctx context.Context) *Group {
	parent, cancel := context.WithCancel(ctx)
	eg, groupCtx := errgroup.WithContext(parent)
	return &Group{eg: eg, ctx: groupCtx, cancel: cancel}
}

// WithRecover makes the group turn panics into *PanicError instead of crashing the process.
func (g *Group) WithRecover() *Group {
	g.recover = true
	return g
}

// Go runs f in a new goroutine. A non-nil error from f cancels the group's context.
func (g *Group) Go(f func(ctx context.Context) error) {
	g.eg.Go(func() error {
		return g.call(f)
	})
}

func (g *Group) call(f func(ctx context.Context) error) (err error) {
	if g.recover {
		defer func() {
			if rec := recover(); rec != nil {
				err = &PanicError{Value: rec, Stack: debug.Stack()}
			}
		}()
	}
	return f(g.ctx)
}

// Wait blocks until every goroutine returned and reports the first error.
func (g *Group) Wait() error {
	return g.eg.Wait()
}

// Cancel cancels the group's context without waiting.
func (g *Group) Cancel() {
	g.cancel()
}

// Close cancels the group and waits for it.
func (g *Group) Close() error {
	g.cancel()
	return g.Wait()
}
