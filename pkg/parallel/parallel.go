// Package parallel runs a function over a batch of items through the scheduler.
package parallel

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/determined-ai/capsched/pkg/backend"
	"github.com/determined-ai/capsched/pkg/capability"
	"github.com/determined-ai/capsched/pkg/resources"
	"github.com/determined-ai/capsched/pkg/scheduler"
)

// SlotResource is the resource Map budgets its workers with.
const SlotResource = "slot"

// DefaultWorkers is the worker count used when WithWorkers is not given.
const DefaultWorkers = 4

type options struct {
	tag     string
	workers int
	retries int
}

// MapOption configures Map, MapIndexed and Stream.
type MapOption func(*options)

// WithBackendTag runs the items on the pool of the given backend tag.
func WithBackendTag(tag string) MapOption {
	return func(o *options) {
		o.tag = tag
	}
}

// WithWorkers sets the number of slots of the pool Map creates when the tag has none yet. It
// has no effect on a pool that already exists.
func WithWorkers(n int) MapOption {
	return func(o *options) {
		o.workers = n
	}
}

// WithItemRetries sets how many times each item is run again after losing its worker,
// overriding the scheduler's WorkerLostRetries. A negative n keeps the scheduler's setting.
func WithItemRetries(n int) MapOption {
	return func(o *options) {
		o.retries = n
	}
}

// ItemError is the failure of a single item.
type ItemError struct {
	Index int
	Item  interface{}
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d (%v): %v", e.Index, e.Item, e.Err)
}

// Unwrap returns the cause.
func (e *ItemError) Unwrap() error {
	return e.Err
}

// MapError reports every item of a Map call that failed.
type MapError struct {
	Failed []*ItemError
	merr   *multierror.Error
}

func (e *MapError) Error() string {
	return fmt.Sprintf("%d of the mapped items failed: %s", len(e.Failed), e.merr.Error())
}

// Unwrap returns the item errors, so errors.Is and errors.As look through every one of them.
func (e *MapError) Unwrap() []error {
	return e.merr.WrappedErrors()
}

func listFormat(errs []error) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Indexed pairs a result with the index of the item it was computed from.
type Indexed[R any] struct {
	Index int
	Value R
}

// Map applies fn to every item, each as its own task of one slot on the tag's pool, and
// returns the results of the items that succeeded in the order they finished, which is not
// the order of items. If the tag has no pool yet, one with `workers` slots is created, which
// bounds the number of items running at once.
//
// Every item is waited for. If any failed, the results of the others are returned along with a
// *MapError listing each failure. If ctx is cancelled, the tasks not yet finished are
// cancelled and ctx's error is returned.
//
// fn runs as Func work, so the tag's backend must be one that runs Func work, such as the
// goroutines backend.
func Map[T, R any](
	ctx context.Context,
	s *scheduler.Scheduler,
	fn func(context.Context, T) (R, error),
	items []T,
	opts ...MapOption,
) ([]R, error) {
	indexed, err := MapIndexed(ctx, s, fn, items, opts...)
	results := make([]R, 0, len(indexed))
	for _, r := range indexed {
		results = append(results, r.Value)
	}
	return results, err
}

// MapIndexed is Map with every result paired with the index of its item, for callers that need
// to know which item produced which result. Results still come in completion order.
func MapIndexed[T, R any](
	ctx context.Context,
	s *scheduler.Scheduler,
	fn func(context.Context, T) (R, error),
	items []T,
	opts ...MapOption,
) ([]Indexed[R], error) {
	outcomes, err := Stream(ctx, s, fn, items, opts...)
	if err != nil {
		return nil, err
	}

	results := make([]Indexed[R], 0, len(items))
	var failed []*ItemError
	received := 0
	for o := range outcomes {
		received++
		if o.Err != nil {
			failed = append(failed, o.Err)
			continue
		}
		results = append(results, Indexed[R]{Index: o.Index, Value: o.Value})
	}
	if received < len(items) {
		return results, ctx.Err()
	}
	if len(failed) == 0 {
		return results, nil
	}

	sort.Slice(failed, func(a, b int) bool { return failed[a].Index < failed[b].Index })
	merr := &multierror.Error{ErrorFormat: listFormat}
	for _, f := range failed {
		merr = multierror.Append(merr, f)
	}
	return results, &MapError{Failed: failed, merr: merr}
}

// Outcome is what Stream reports for one item: its value, or the error it failed with.
type Outcome[R any] struct {
	Index int
	Value R
	Err   *ItemError
}

// Stream submits items like Map but hands each item's outcome to the caller as soon as the
// item finishes, so results can be consumed while later items are still running. Outcomes
// arrive in completion order and the channel is closed once every item has finished.
//
// The channel is buffered for every item, so a caller may stop reading at any point without
// blocking the scheduler. Cancelling ctx cancels the items not yet finished and closes the
// channel without reporting them.
func Stream[T, R any](
	ctx context.Context,
	s *scheduler.Scheduler,
	fn func(context.Context, T) (R, error),
	items []T,
	opts ...MapOption,
) (<-chan Outcome[R], error) {
	o := options{tag: capability.LocalTag, workers: DefaultWorkers, retries: -1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers < 1 {
		return nil, errors.Errorf("workers must be at least 1, got %d", o.workers)
	}
	if _, err := s.EnsurePool(o.tag, resources.Of(SlotResource, float64(o.workers))); err != nil {
		return nil, errors.Wrapf(err, "ensuring pool %s", o.tag)
	}
	var submitOpts []scheduler.SubmitOption
	if o.retries >= 0 {
		submitOpts = append(submitOpts, scheduler.WithMaxRetries(o.retries))
	}

	req := capability.New(resources.Of(SlotResource, 1), o.tag)
	finished := make(chan int, len(items))
	handles := make([]*scheduler.Handle, len(items))
	for i, item := range items {
		handles[i] = s.Submit(req, backend.Func(func(ctx context.Context) (interface{}, error) {
			value, err := fn(ctx, item)
			if err != nil {
				return nil, err
			}
			return value, nil
		}), submitOpts...)
		go func(i int) {
			<-handles[i].Done()
			finished <- i
		}(i)
	}

	out := make(chan Outcome[R], len(items))
	go func() {
		defer close(out)
		for range items {
			select {
			case i := <-finished:
				out <- outcome[R](i, items[i], handles[i])
			case <-ctx.Done():
				for _, h := range handles {
					s.Cancel(h)
				}
				return
			}
		}
	}()
	return out, nil
}

func outcome[R any](i int, item interface{}, h *scheduler.Handle) Outcome[R] {
	value, err := h.Result()
	if err != nil {
		return Outcome[R]{Index: i, Err: &ItemError{Index: i, Item: item, Err: err}}
	}
	v, _ := value.(R)
	return Outcome[R]{Index: i, Value: v}
}
