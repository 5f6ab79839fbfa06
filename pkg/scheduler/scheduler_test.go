package scheduler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/determined-ai/capsched/pkg/backend"
	"github.com/determined-ai/capsched/pkg/capability"
	"github.com/determined-ai/capsched/pkg/resources"
)

const waitFor = 5 * time.Second

func slots(n float64) resources.Vector {
	return resources.Of("slot", n)
}

func testConfig(pools map[string]resources.Vector) Config {
	cfg := DefaultConfig()
	cfg.Pools = pools
	cfg.RetryBackoff = RetryBackoff{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	return cfg
}

func newTestScheduler(t *testing.T, cfg Config, opts ...Option) *Scheduler {
	t.Helper()
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Shutdown(waitFor))
	})
	return s
}

// gate returns work that blocks until release is closed or its context is cancelled.
func gate(release <-chan struct{}, result interface{}) backend.Func {
	return func(ctx context.Context) (interface{}, error) {
		select {
		case <-release:
			return result, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func wait(t *testing.T, h *Handle) (interface{}, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	res, err := h.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "task %s did not finish", h.ID())
	return res, err
}

func requireState(t *testing.T, h *Handle, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.State() == want
	}, waitFor, time.Millisecond, "task never reached %s, is %s", want, h.State())
}

func available(s *Scheduler, tag string) resources.Vector {
	for _, sum := range s.Summary() {
		if sum.Tag == tag {
			return sum.Available
		}
	}
	return resources.Vector{}
}

func TestSubmitCompletes(t *testing.T) {
	s := newTestScheduler(t, testConfig(map[string]resources.Vector{"local": slots(1)}))

	h := s.Submit(capability.Local(slots(1)), backend.Func(func(context.Context) (interface{}, error) {
		return "done", nil
	}))
	res, err := wait(t, h)
	require.NoError(t, err)
	require.Equal(t, "done", res)
	require.Equal(t, StateCompleted, h.State())
	require.Equal(t, 1, h.Attempts())
	require.True(t, available(s, "local").Equal(slots(1)))
	require.Eventually(t, s.Idle, waitFor, time.Millisecond)
}

func TestSubmitCapacityErrorIsNeverQueued(t *testing.T) {
	s := newTestScheduler(t, testConfig(map[string]resources.Vector{"local": slots(2)}))

	h := s.Submit(capability.Local(slots(3)), backend.Func(func(context.Context) (interface{}, error) {
		t.Error("oversized work must never run")
		return nil, nil
	}))
	require.Equal(t, StateFailed, h.State())
	_, err := wait(t, h)
	var capErr *CapacityError
	require.True(t, errors.As(err, &capErr))
	require.Equal(t, "local", capErr.Tag)
	require.True(t, capErr.Total.Equal(slots(2)))

	sum := s.Summary()
	require.Len(t, sum, 1)
	require.Equal(t, 0, sum[0].Queued)
	require.Equal(t, 0, sum[0].Running)
	require.True(t, sum[0].Available.Equal(slots(2)))
	require.True(t, s.Idle())
}

func TestSubmitRejectsUnknownTagAndInvalidRequirement(t *testing.T) {
	s := newTestScheduler(t, testConfig(map[string]resources.Vector{"local": slots(2)}))
	noop := backend.Func(func(context.Context) (interface{}, error) { return nil, nil })

	_, err := wait(t, s.Submit(capability.New(slots(1), "gpu"), noop))
	var tagErr *UnknownTagError
	require.True(t, errors.As(err, &tagErr))
	require.Equal(t, "gpu", tagErr.Tag)

	_, err = wait(t, s.Submit(capability.Local(slots(-1)), noop))
	var reqErr *InvalidRequirementError
	require.True(t, errors.As(err, &reqErr))
	require.True(t, available(s, "local").Equal(slots(2)))
}

func TestEmptyTagUsesLocalPool(t *testing.T) {
	s := newTestScheduler(t, testConfig(map[string]resources.Vector{capability.LocalTag: slots(1)}))
	h := s.Submit(capability.Capability{Requirement: slots(1)},
		backend.Func(func(context.Context) (interface{}, error) { return 1, nil }))
	_, err := wait(t, h)
	require.NoError(t, err)
	require.Equal(t, capability.LocalTag, h.Capability().BackendTag)
}

func TestAdmissionIsStrictFIFO(t *testing.T) {
	s := newTestScheduler(t, testConfig(map[string]resources.Vector{"local": slots(2)}))

	releaseA, releaseB, releaseC := make(chan struct{}), make(chan struct{}), make(chan struct{})
	a := s.Submit(capability.Local(slots(1)), gate(releaseA, "a"))
	b := s.Submit(capability.Local(slots(2)), gate(releaseB, "b"))
	c := s.Submit(capability.Local(slots(1)), gate(releaseC, "c"))

	// c would fit next to a, but b is ahead of it.
	require.Equal(t, StateRunning, a.State())
	require.Equal(t, StateQueued, b.State())
	require.Equal(t, StateQueued, c.State())
	require.True(t, available(s, "local").Equal(slots(1)))

	close(releaseA)
	_, err := wait(t, a)
	require.NoError(t, err)
	requireState(t, b, StateRunning)
	require.Equal(t, StateQueued, c.State())

	close(releaseB)
	_, err = wait(t, b)
	require.NoError(t, err)
	requireState(t, c, StateRunning)

	close(releaseC)
	res, err := wait(t, c)
	require.NoError(t, err)
	require.Equal(t, "c", res)
}

func TestTagsAreIndependent(t *testing.T) {
	s := newTestScheduler(t, testConfig(map[string]resources.Vector{
		"a": slots(1),
		"b": slots(1),
	}))

	release := make(chan struct{})
	defer close(release)
	blocked := s.Submit(capability.New(slots(1), "a"), gate(release, nil))
	queued := s.Submit(capability.New(slots(1), "a"), gate(release, nil))
	other := s.Submit(capability.New(slots(1), "b"), backend.Func(
		func(context.Context) (interface{}, error) { return "b", nil }))

	res, err := wait(t, other)
	require.NoError(t, err)
	require.Equal(t, "b", res)
	require.Equal(t, StateRunning, blocked.State())
	require.Equal(t, StateQueued, queued.State())
}

func TestCancelQueuedLeavesPoolUnchanged(t *testing.T) {
	s := newTestScheduler(t, testConfig(map[string]resources.Vector{"local": slots(1)}))

	release := make(chan struct{})
	running := s.Submit(capability.Local(slots(1)), gate(release, nil))
	queued := s.Submit(capability.Local(slots(1)), gate(release, nil))
	require.Equal(t, StateQueued, queued.State())

	before := available(s, "local")
	require.True(t, s.Cancel(queued))
	require.True(t, available(s, "local").Equal(before))
	require.Equal(t, StateCancelled, queued.State())
	_, err := wait(t, queued)
	require.ErrorIs(t, err, ErrCancelled)
	require.False(t, s.Cancel(queued))

	close(release)
	_, err = wait(t, running)
	require.NoError(t, err)
	require.Equal(t, 1, running.Attempts())
	require.Equal(t, 0, queued.Attempts())
}

func TestCancelHeadUnblocksQueue(t *testing.T) {
	s := newTestScheduler(t, testConfig(map[string]resources.Vector{"local": slots(2)}))

	release := make(chan struct{})
	defer close(release)
	s.Submit(capability.Local(slots(1)), gate(release, nil))
	head := s.Submit(capability.Local(slots(2)), gate(release, nil))
	behind := s.Submit(capability.Local(slots(1)), gate(release, nil))
	require.Equal(t, StateQueued, behind.State())

	require.True(t, s.Cancel(head))
	require.Equal(t, StateRunning, behind.State())
}

func TestCancelRunning(t *testing.T) {
	s := newTestScheduler(t, testConfig(map[string]resources.Vector{"local": slots(1)}))

	h := s.Submit(capability.Local(slots(1)), gate(make(chan struct{}), nil))
	require.Equal(t, StateRunning, h.State())

	require.True(t, s.Cancel(h))
	_, err := wait(t, h)
	require.ErrorIs(t, err, ErrCancelled)
	require.Equal(t, StateCancelled, h.State())
	require.True(t, available(s, "local").Equal(slots(1)))
	require.False(t, s.Cancel(h))
}

func TestCancelRunningThatCompletesAnywayIsCancelled(t *testing.T) {
	s := newTestScheduler(t, testConfig(map[string]resources.Vector{"local": slots(1)}))

	entered, release := make(chan struct{}), make(chan struct{})
	h := s.Submit(capability.Local(slots(1)), backend.Func(func(context.Context) (interface{}, error) {
		close(entered)
		<-release
		return "ignored the cancellation", nil
	}))
	<-entered
	require.True(t, s.Cancel(h))
	// The goroutines backend can not interrupt the work, so it keeps running.
	require.Equal(t, StateRunning, h.State())
	close(release)

	res, err := wait(t, h)
	require.ErrorIs(t, err, ErrCancelled)
	require.Nil(t, res)
}

// flakyBackend loses its worker for the first failures runs.
type flakyBackend struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyBackend) Name() string { return "flaky" }
func (f *flakyBackend) Close() error { return nil }
func (f *flakyBackend) Run(context.Context, backend.Work) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, &backend.WorkerLostError{Backend: f.Name(), Reason: "simulated OOM kill"}
	}
	return f.calls, nil
}

func TestWorkerLostIsRetried(t *testing.T) {
	flaky := &flakyBackend{failures: 2}
	cfg := testConfig(map[string]resources.Vector{"local": slots(1)})
	cfg.WorkerLostRetries = 2
	s := newTestScheduler(t, cfg, WithBackend("local", flaky))

	h := s.Submit(capability.Local(slots(1)), backend.Func(nil))
	res, err := wait(t, h)
	require.NoError(t, err)
	require.Equal(t, 3, res)
	require.Equal(t, 3, h.Attempts())
	require.True(t, available(s, "local").Equal(slots(1)))
}

func TestWorkerLostExhaustsRetries(t *testing.T) {
	flaky := &flakyBackend{failures: 100}
	cfg := testConfig(map[string]resources.Vector{"local": slots(1)})
	cfg.WorkerLostRetries = 2
	s := newTestScheduler(t, cfg, WithDefaultBackend(flaky))

	h := s.Submit(capability.Local(slots(1)), backend.Func(nil))
	_, err := wait(t, h)
	require.True(t, backend.IsWorkerLost(err))
	require.Equal(t, StateFailed, h.State())
	require.Equal(t, 3, h.Attempts())
}

func TestWorkerLostWithoutRetries(t *testing.T) {
	flaky := &flakyBackend{failures: 1}
	cfg := testConfig(map[string]resources.Vector{"local": slots(1)})
	cfg.WorkerLostRetries = 0
	s := newTestScheduler(t, cfg, WithDefaultBackend(flaky))

	_, err := wait(t, s.Submit(capability.Local(slots(1)), backend.Func(nil)))
	require.True(t, backend.IsWorkerLost(err))
}

func TestPerTaskRetryLimit(t *testing.T) {
	cfg := testConfig(map[string]resources.Vector{"local": slots(1)})
	cfg.WorkerLostRetries = 0
	s := newTestScheduler(t, cfg, WithDefaultBackend(&flakyBackend{failures: 2}))

	h := s.Submit(capability.Local(slots(1)), backend.Func(nil), WithMaxRetries(3))
	res, err := wait(t, h)
	require.NoError(t, err)
	require.Equal(t, 3, res)
	require.Equal(t, 3, h.Attempts())

	cfg.WorkerLostRetries = 5
	s = newTestScheduler(t, cfg, WithDefaultBackend(&flakyBackend{failures: 1}))
	h = s.Submit(capability.Local(slots(1)), backend.Func(nil), WithMaxRetries(0))
	_, err = wait(t, h)
	require.True(t, backend.IsWorkerLost(err))
	require.Equal(t, 1, h.Attempts())

	h = s.Submit(capability.Local(slots(1)), backend.Func(nil), WithMaxRetries(-4))
	res, err = wait(t, h)
	require.NoError(t, err, "the backend only loses its first worker")
	require.Equal(t, 2, res)
}

func TestTaskNames(t *testing.T) {
	s := newTestScheduler(t, testConfig(map[string]resources.Vector{"local": slots(1)}))
	noop := backend.Func(func(context.Context) (interface{}, error) { return nil, nil })

	named := s.Submit(capability.Local(slots(1)), noop, WithName("nightly-report"))
	require.Equal(t, "nightly-report", named.Name())

	generated := s.Submit(capability.Local(slots(1)), noop)
	require.Len(t, strings.Split(generated.Name(), "-"), taskNameWords)
	for _, h := range []*Handle{named, generated} {
		_, err := wait(t, h)
		require.NoError(t, err)
	}
}

func TestRetryKeepsQueuePosition(t *testing.T) {
	cfg := testConfig(map[string]resources.Vector{"local": slots(1)})
	cfg.WorkerLostRetries = 1
	clock := clockwork.NewFakeClock()
	s := newTestScheduler(t, cfg, WithClock(clock))

	lost := false
	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, name)
	}

	first := s.Submit(capability.Local(slots(1)), backend.Func(
		func(context.Context) (interface{}, error) {
			record("first")
			if !lost {
				lost = true
				return nil, &backend.WorkerLostError{Backend: "goroutines", Reason: "simulated"}
			}
			return nil, nil
		}))
	release := make(chan struct{})
	second := s.Submit(capability.Local(slots(1)), backend.Func(
		func(ctx context.Context) (interface{}, error) {
			record("second")
			return gate(release, nil)(ctx)
		}))

	// The retry waits on the clock, so second is admitted in the meantime.
	requireState(t, second, StateRunning)
	require.Equal(t, StateQueued, first.State())
	third := s.Submit(capability.Local(slots(1)), backend.Func(
		func(context.Context) (interface{}, error) {
			record("third")
			return nil, nil
		}))

	clock.BlockUntil(1)
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.queues["local"].Len() == 2
	}, waitFor, time.Millisecond)
	close(release)

	for _, h := range []*Handle{first, second, third} {
		_, err := wait(t, h)
		require.NoError(t, err)
	}
	require.Equal(t, []string{"first", "second", "first", "third"}, order)
	require.Equal(t, 2, first.Attempts())
}

func TestTaskErrorIsNotRetried(t *testing.T) {
	s := newTestScheduler(t, testConfig(map[string]resources.Vector{"local": slots(1)}))
	boom := errors.New("boom")

	h := s.Submit(capability.Local(slots(1)), backend.Func(func(context.Context) (interface{}, error) {
		return nil, boom
	}))
	_, err := wait(t, h)
	require.True(t, backend.IsTaskError(err))
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, h.Attempts())
	require.Equal(t, StateFailed, h.State())
}

func TestFailureDoesNotAffectOtherTasks(t *testing.T) {
	s := newTestScheduler(t, testConfig(map[string]resources.Vector{"local": slots(1)}))

	bad := s.Submit(capability.Local(slots(1)), backend.Func(func(context.Context) (interface{}, error) {
		panic("bad work")
	}))
	good := s.Submit(capability.Local(slots(1)), backend.Func(func(context.Context) (interface{}, error) {
		return "ok", nil
	}))

	_, err := wait(t, bad)
	require.True(t, backend.IsTaskError(err))
	res, err := wait(t, good)
	require.NoError(t, err)
	require.Equal(t, "ok", res)
}

type panickyBackend struct{}

func (panickyBackend) Name() string { return "panicky" }
func (panickyBackend) Close() error { return errors.New("close failed") }
func (panickyBackend) Run(context.Context, backend.Work) (interface{}, error) {
	panic("backend bug")
}

func TestBackendPanicIsTaskError(t *testing.T) {
	s, err := New(testConfig(map[string]resources.Vector{"local": slots(1)}),
		WithBackend("local", panickyBackend{}))
	require.NoError(t, err)

	_, err = wait(t, s.Submit(capability.Local(slots(1)), backend.Func(nil)))
	require.True(t, backend.IsTaskError(err))
	require.ErrorContains(t, err, "backend bug")

	err = s.Shutdown(waitFor)
	require.ErrorContains(t, err, "close failed")
}

func TestRawBackendErrorsBecomeTaskErrors(t *testing.T) {
	raw := errors.New("raw")
	s := newTestScheduler(t, testConfig(map[string]resources.Vector{"local": slots(1)}),
		WithDefaultBackend(rawErrBackend{raw}))

	_, err := wait(t, s.Submit(capability.Local(slots(1)), backend.Func(nil)))
	require.True(t, backend.IsTaskError(err))
	require.ErrorIs(t, err, raw)
}

type rawErrBackend struct{ err error }

func (b rawErrBackend) Name() string { return "raw" }
func (b rawErrBackend) Close() error { return nil }
func (b rawErrBackend) Run(context.Context, backend.Work) (interface{}, error) {
	return nil, b.err
}

func TestConcurrencyNeverExceedsCapacity(t *testing.T) {
	inst := backend.NewInstrumented(backend.NewGoroutines())
	s := newTestScheduler(t, testConfig(map[string]resources.Vector{"local": slots(3)}),
		WithBackend("local", inst))

	var handles []*Handle
	for i := 0; i < 30; i++ {
		handles = append(handles, s.Submit(capability.Local(slots(1)), backend.Func(
			func(context.Context) (interface{}, error) {
				time.Sleep(time.Millisecond)
				return nil, nil
			})))
	}
	for _, h := range handles {
		_, err := wait(t, h)
		require.NoError(t, err)
	}
	require.LessOrEqual(t, inst.Peak(), int64(3))
	require.Equal(t, int64(30), inst.Calls())
}

func TestFractionalPoolAdmitsFullCapacityAfterChurn(t *testing.T) {
	cpu := func(q float64) resources.Vector { return resources.Of("cpu", q) }
	inst := backend.NewInstrumented(backend.NewGoroutines())
	s := newTestScheduler(t, testConfig(map[string]resources.Vector{"local": cpu(1)}),
		WithDefaultBackend(inst))

	sizes := []float64{0.1, 0.2, 0.3, 0.1, 0.7, 0.05, 0.15, 0.4}
	var handles []*Handle
	for i := 0; i < 200; i++ {
		handles = append(handles, s.Submit(capability.Local(cpu(sizes[i%len(sizes)])), backend.Func(
			func(context.Context) (interface{}, error) {
				time.Sleep(time.Duration(i%3) * time.Millisecond)
				return nil, nil
			})))
	}
	last := s.Submit(capability.Local(cpu(1)), backend.Func(func(context.Context) (interface{}, error) {
		return "whole pool", nil
	}))
	for _, h := range handles {
		_, err := wait(t, h)
		require.NoError(t, err)
	}

	res, err := wait(t, last)
	require.NoError(t, err)
	require.Equal(t, "whole pool", res)
	require.Eventually(t, s.Idle, waitFor, time.Millisecond)
	require.Equal(t, cpu(1).Key(), available(s, "local").Key())
	require.Equal(t, int64(201), inst.Calls())
}

func TestTenthsFillAPoolOfOne(t *testing.T) {
	s := newTestScheduler(t, testConfig(map[string]resources.Vector{"local": resources.Of("cpu", 1)}))

	release := make(chan struct{})
	var handles []*Handle
	for i := 0; i < 11; i++ {
		handles = append(handles, s.Submit(capability.Local(resources.Of("cpu", 0.1)), gate(release, i)))
	}
	for _, h := range handles[:10] {
		requireState(t, h, StateRunning)
	}
	require.Equal(t, StateQueued, handles[10].State())
	require.True(t, available(s, "local").IsZero())

	close(release)
	for _, h := range handles {
		_, err := wait(t, h)
		require.NoError(t, err)
	}
	require.Equal(t, resources.Of("cpu", 1).Key(), available(s, "local").Key())
}

func TestShutdownForceCancelsAfterTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, err := New(testConfig(map[string]resources.Vector{"local": slots(1)}), WithClock(clock))
	require.NoError(t, err)

	running := s.Submit(capability.Local(slots(1)), gate(make(chan struct{}), nil))
	queued := s.Submit(capability.Local(slots(1)), gate(make(chan struct{}), nil))

	done := make(chan error, 1)
	go func() { done <- s.Shutdown(time.Minute) }()

	_, err = wait(t, queued)
	require.ErrorIs(t, err, ErrCancelled)
	require.Equal(t, StateRunning, running.State())

	clock.BlockUntil(1)
	clock.Advance(time.Minute)
	require.NoError(t, <-done)

	_, err = wait(t, running)
	require.ErrorIs(t, err, ErrCancelled)
	require.True(t, s.Idle())

	_, err = wait(t, s.Submit(capability.Local(slots(1)), backend.Func(nil)))
	require.ErrorIs(t, err, ErrShuttingDown)
	_, err = s.EnsurePool("other", slots(1))
	require.ErrorIs(t, err, ErrShuttingDown)
	require.NoError(t, s.Shutdown(time.Minute))
}

func TestShutdownWaitsForRunning(t *testing.T) {
	s, err := New(testConfig(map[string]resources.Vector{"local": slots(1)}))
	require.NoError(t, err)

	release := make(chan struct{})
	h := s.Submit(capability.Local(slots(1)), gate(release, "finished"))

	done := make(chan error, 1)
	go func() { done <- s.Shutdown(time.Hour) }()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.closing
	}, waitFor, time.Millisecond)
	_, err = wait(t, s.Submit(capability.Local(slots(1)), backend.Func(nil)))
	require.ErrorIs(t, err, ErrShuttingDown)

	close(release)
	require.NoError(t, <-done)
	res, err := wait(t, h)
	require.NoError(t, err)
	require.Equal(t, "finished", res)
}

func TestStatusRemembersFinishedTasks(t *testing.T) {
	cfg := testConfig(map[string]resources.Vector{"local": slots(1)})
	cfg.RetainFinished = 1
	s := newTestScheduler(t, cfg)

	release := make(chan struct{})
	first := s.Submit(capability.Local(slots(1)), gate(release, nil))
	st, ok := s.Status(first.ID())
	require.True(t, ok)
	require.Equal(t, StateRunning, st)

	close(release)
	_, err := wait(t, first)
	require.NoError(t, err)
	st, ok = s.Status(first.ID())
	require.True(t, ok)
	require.Equal(t, StateCompleted, st)

	second := s.Submit(capability.Local(slots(2)), backend.Func(nil))
	st, ok = s.Status(second.ID())
	require.True(t, ok)
	require.Equal(t, StateFailed, st)

	_, ok = s.Status(first.ID())
	require.False(t, ok, "finished cache holds a single task")
	_, ok = s.Status("no-such-task")
	require.False(t, ok)
}

func TestEnsurePoolAndSummary(t *testing.T) {
	s := newTestScheduler(t, testConfig(map[string]resources.Vector{"b": slots(1)}))

	added, err := s.EnsurePool("a", slots(4))
	require.NoError(t, err)
	require.True(t, added)
	added, err = s.EnsurePool("a", slots(8))
	require.NoError(t, err)
	require.False(t, added)
	_, err = s.EnsurePool("c", slots(-1))
	require.Error(t, err)

	release := make(chan struct{})
	defer close(release)
	s.Submit(capability.New(slots(3), "a"), gate(release, nil))
	s.Submit(capability.New(slots(2), "a"), gate(release, nil))

	sum := s.Summary()
	require.Len(t, sum, 2)
	require.Equal(t, "a", sum[0].Tag)
	require.True(t, sum[0].Total.Equal(slots(4)))
	require.True(t, sum[0].Available.Equal(slots(1)))
	require.True(t, sum[0].InUse.Equal(slots(3)))
	require.Equal(t, 1, sum[0].Running)
	require.Equal(t, 1, sum[0].Queued)
	require.Equal(t, "b", sum[1].Tag)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerLostRetries = -1
	_, err := New(cfg)
	require.ErrorContains(t, err, "worker_lost_retries")

	cfg = DefaultConfig()
	cfg.Pools = map[string]resources.Vector{"local": slots(-2)}
	_, err = New(cfg)
	require.ErrorContains(t, err, "negative")

	cfg = DefaultConfig()
	cfg.RetryBackoff.MaxInterval = 0
	_, err = New(cfg)
	require.ErrorContains(t, err, "max_interval")
}

func TestStateString(t *testing.T) {
	require.Equal(t, "QUEUED", StateQueued.String())
	require.Equal(t, "CANCELLED", StateCancelled.String())
	require.True(t, StateFailed.Terminal())
	require.False(t, StateRunning.Terminal())
}
