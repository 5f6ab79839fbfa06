// Package scheduler admits submitted work against per-tag resource pools and dispatches it to
// the backend bound to each tag.
//
// Admission is strict FIFO per backend tag: the task at the head of a tag's queue blocks the
// tasks behind it until its requirement fits, even when a smaller task further back would
// fit right away. Backends never touch pool state; their results come back over a single
// completion queue drained by one coordinator goroutine, which releases resources, records
// outcomes and re-runs admission.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"

	capprom "github.com/determined-ai/capsched/internal/prom"
	"github.com/determined-ai/capsched/internal/waitqueue"
	"github.com/determined-ai/capsched/pkg/backend"
	"github.com/determined-ai/capsched/pkg/capability"
	"github.com/determined-ai/capsched/pkg/check"
	"github.com/determined-ai/capsched/pkg/pool"
	"github.com/determined-ai/capsched/pkg/resources"
	"github.com/determined-ai/capsched/pkg/syncx/errgroupx"
	"github.com/determined-ai/capsched/pkg/syncx/queue"
)

// Generated task names are three dash-separated words.
const (
	taskNameWords = 3
	taskNameSep   = "-"
)

type eventKind int

const (
	eventCompleted eventKind = iota
	eventRetry
)

// event is posted to the completion queue by dispatch goroutines and retry timers.
type event struct {
	kind   eventKind
	task   *task
	result interface{}
	err    error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithBackend binds the backend used for tasks of the given tag.
func WithBackend(tag string, b backend.Backend) Option {
	return func(s *Scheduler) {
		if tag == "" {
			tag = capability.LocalTag
		}
		s.backends[tag] = b
	}
}

// WithDefaultBackend sets the backend used for tags with no backend of their own. It defaults
// to the goroutines backend.
func WithDefaultBackend(b backend.Backend) Option {
	return func(s *Scheduler) {
		s.defaultBackend = b
	}
}

// WithClock sets the clock used for retry delays and shutdown timeouts.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithLogger sets the log entry the scheduler logs through.
func WithLogger(l *logrus.Entry) Option {
	return func(s *Scheduler) {
		s.syslog = l
	}
}

// Scheduler owns the resource pools and wait queues of every backend tag.
type Scheduler struct {
	cfg            Config
	clock          clockwork.Clock
	syslog         *logrus.Entry
	backends       map[string]backend.Backend
	defaultBackend backend.Backend

	mu       sync.Mutex
	idle     *sync.Cond
	pools    map[string]*pool.Pool
	queues   map[string]*waitqueue.Queue[*task]
	running  map[string]int
	live     map[string]*task
	finished *lru.Cache[string, State]
	seq      uint64
	closing  bool

	events          *queue.Queue[event]
	dispatchers     *errgroupx.Group
	coordinatorDone chan struct{}
	closed          chan struct{}
	closeErr        error
}

// New creates a scheduler with one pool per entry of cfg.Pools and starts its coordinator.
func New(cfg Config, opts ...Option) (*Scheduler, error) {
	if err := check.Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid scheduler configuration")
	}

	s := &Scheduler{
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		syslog:   logrus.WithField("component", "scheduler"),
		backends: make(map[string]backend.Backend),

		pools:   make(map[string]*pool.Pool),
		queues:  make(map[string]*waitqueue.Queue[*task]),
		running: make(map[string]int),
		live:    make(map[string]*task),

		events:          queue.New[event](),
		dispatchers:     errgroupx.WithContext(context.Background()),
		coordinatorDone: make(chan struct{}),
		closed:          make(chan struct{}),
	}
	s.idle = sync.NewCond(&s.mu)
	for _, opt := range opts {
		opt(s)
	}
	if s.defaultBackend == nil {
		s.defaultBackend = backend.NewGoroutines()
	}
	if cfg.RetainFinished > 0 {
		finished, err := lru.New[string, State](cfg.RetainFinished)
		if err != nil {
			return nil, errors.Wrap(err, "creating finished task cache")
		}
		s.finished = finished
	}
	for tag, total := range cfg.Pools {
		if err := s.addPool(tag, total); err != nil {
			return nil, err
		}
	}

	go s.coordinate()
	return s, nil
}

// SubmitOption configures a single submission.
type SubmitOption func(*task)

// WithMaxRetries overrides Config.WorkerLostRetries for one submission: the task is run again
// at most n times after losing its worker. n <= 0 fails the task on its first lost worker.
func WithMaxRetries(n int) SubmitOption {
	return func(t *task) {
		if n < 0 {
			n = 0
		}
		t.maxRetries = n
	}
}

// WithName sets the name the task is logged under. Unnamed tasks get a generated name such as
// "mostly-civil-gopher".
func WithName(name string) SubmitOption {
	return func(t *task) {
		t.name = name
	}
}

// Submit registers work under the given capability and returns immediately. Submissions that
// can never run (after Shutdown, on an unknown tag, with an invalid requirement, or with a
// requirement larger than the pool's total capacity) return a handle that has already
// FAILED; they are never queued.
func (s *Scheduler) Submit(c capability.Capability, w backend.Work, opts ...SubmitOption) *Handle {
	c = capability.New(c.Requirement, c.BackendTag)
	t := &task{
		id:         uuid.New().String(),
		capability: c,
		work:       w,
		maxRetries: s.cfg.WorkerLostRetries,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.name == "" {
		t.name = petname.Generate(taskNameWords, taskNameSep)
	}
	t.log = s.syslog.WithFields(logrus.Fields{
		"tag":       c.Tag(),
		"task-id":   t.id,
		"task-name": t.name,
	})
	h := &Handle{t: t}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	t.seq = s.seq

	if s.closing {
		s.finish(t, StateFailed, nil, ErrShuttingDown)
		return h
	}
	p, ok := s.pools[c.Tag()]
	if !ok {
		s.finish(t, StateFailed, nil, &UnknownTagError{Tag: c.Tag()})
		return h
	}
	if err := validateRequirement(c.Requirement); err != nil {
		s.finish(t, StateFailed, nil, err)
		return h
	}
	if !p.CapacityExceeds(c.Requirement) {
		s.finish(t, StateFailed, nil, &CapacityError{
			Tag:         c.Tag(),
			Requirement: c.Requirement,
			Total:       p.Total(),
		})
		return h
	}

	t.setState(StateQueued)
	s.live[t.id] = t
	s.queues[c.Tag()].Push(t)
	tasksQueued.WithLabelValues(c.Tag()).Inc()
	t.log.Debugf("task queued requiring %s", c.Requirement)

	s.admit(c.Tag())
	return h
}

func validateRequirement(req resources.Vector) error {
	if errs := req.Validate(); len(errs) > 0 {
		return &InvalidRequirementError{Requirement: req, Reason: errs[0].Error()}
	}
	if req.HasNegative() {
		return &InvalidRequirementError{Requirement: req, Reason: "negative component"}
	}
	return nil
}

// Cancel cancels the task behind h. A queued task is cancelled on the spot and never holds
// resources. A running task has its backend run cancelled and becomes CANCELLED only once
// the backend returns and its resources are released; how quickly that happens depends on
// the backend. Cancel returns false if the task had already finished.
func (s *Scheduler) Cancel(h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := h.t
	switch t.loadState() {
	case StateQueued:
		if _, ok := s.live[t.id]; !ok {
			return false
		}
		s.dequeue(t)
		s.finish(t, StateCancelled, nil, ErrCancelled)
		s.admit(t.tag())
		return true
	case StateRunning:
		if !t.cancelRequested {
			t.log.Info("cancelling running task")
			t.cancelRequested = true
			t.cancel()
		}
		return true
	default:
		return false
	}
}

// Shutdown stops accepting submissions and cancels every queued task. It then waits up to
// timeout for running tasks to finish, cancels those still running, waits for them to
// return, and closes the backends. Calling it again waits for the first call and returns its
// result.
func (s *Scheduler) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		<-s.closed
		return s.closeErr
	}
	s.closing = true
	s.syslog.WithField("timeout", timeout).Info("shutting down scheduler")
	for _, t := range s.live {
		if t.loadState() == StateQueued {
			s.dequeue(t)
			s.finish(t, StateCancelled, nil, ErrCancelled)
		}
	}
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for len(s.live) > 0 {
			s.idle.Wait()
		}
		close(drained)
	}()

	select {
	case <-drained:
	case <-s.clock.After(timeout):
		s.mu.Lock()
		s.syslog.Warnf("%d tasks still running after %s, cancelling them", len(s.live), timeout)
		for _, t := range s.live {
			if t.loadState() == StateRunning && !t.cancelRequested {
				t.cancelRequested = true
				t.cancel()
			}
		}
		s.mu.Unlock()
		<-drained
	}

	_ = s.dispatchers.Wait()
	s.events.Close()
	<-s.coordinatorDone

	var merr *multierror.Error
	for _, b := range s.distinctBackends() {
		if err := b.Close(); err != nil {
			merr = multierror.Append(merr, errors.Wrapf(err, "closing %s backend", b.Name()))
		}
	}
	s.closeErr = merr.ErrorOrNil()
	close(s.closed)
	s.syslog.Info("scheduler shut down")
	return s.closeErr
}

// Status returns the state of the task with the given ID. Finished tasks are remembered up to
// the configured RetainFinished count.
func (s *Scheduler) Status(id string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.live[id]; ok {
		return t.loadState(), true
	}
	if s.finished != nil {
		return s.finished.Get(id)
	}
	return StateSubmitted, false
}

// PoolSummary describes a pool and the tasks bound to it.
type PoolSummary struct {
	pool.Summary
	Queued  int `json:"queued"`
	Running int `json:"running"`
}

// Summary returns a snapshot of every pool, sorted by tag.
func (s *Scheduler) Summary() []PoolSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	queued := make(map[string]int, len(s.pools))
	for _, t := range s.live {
		if t.loadState() == StateQueued {
			queued[t.tag()]++
		}
	}
	tags := maps.Keys(s.pools)
	sort.Strings(tags)
	summaries := make([]PoolSummary, 0, len(tags))
	for _, tag := range tags {
		summaries = append(summaries, PoolSummary{
			Summary: s.pools[tag].Summary(),
			Queued:  queued[tag],
			Running: s.running[tag],
		})
	}
	return summaries
}

// EnsurePool adds a pool with the given total capacity for tag unless one exists already. It
// reports whether a pool was added.
func (s *Scheduler) EnsurePool(tag string, total resources.Vector) (bool, error) {
	if tag == "" {
		tag = capability.LocalTag
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return false, ErrShuttingDown
	}
	if _, ok := s.pools[tag]; ok {
		return false, nil
	}
	if err := s.addPool(tag, total); err != nil {
		return false, err
	}
	return true, nil
}

// Idle reports whether no task is queued or running.
func (s *Scheduler) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live) == 0
}

func (s *Scheduler) addPool(tag string, total resources.Vector) error {
	p, err := pool.New(tag, total)
	if err != nil {
		return err
	}
	s.pools[tag] = p
	s.queues[tag] = waitqueue.New[*task]()
	observePool(p)
	s.syslog.WithField("tag", tag).Infof("added resource pool with capacity %s", total)
	return nil
}

// admit dispatches queued tasks of tag in order until the head of the queue does not fit.
// The caller must hold s.mu.
func (s *Scheduler) admit(tag string) {
	q, p := s.queues[tag], s.pools[tag]
	for {
		t, ok := q.Peek()
		if !ok || !p.TryAcquire(t.capability.Requirement) {
			return
		}
		q.Pop()
		tasksQueued.WithLabelValues(tag).Dec()
		observePool(p)
		s.dispatch(t)
	}
}

// dispatch starts a run of an admitted task. The caller must hold s.mu.
func (s *Scheduler) dispatch(t *task) {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.started = s.clock.Now()
	attempt := t.attempts.Add(1)
	t.setState(StateRunning)

	tag := t.tag()
	s.running[tag]++
	tasksAdmitted.WithLabelValues(tag).Inc()
	tasksRunning.WithLabelValues(tag).Inc()

	b := s.backendFor(tag)
	t.log.WithField("attempt", attempt).WithField("backend", b.Name()).Debug("task admitted")
	s.dispatchers.Go(func(context.Context) error {
		defer cancel()
		result, err := s.run(ctx, b, t)
		s.events.Put(event{kind: eventCompleted, task: t, result: result, err: err})
		return nil
	})
}

func (s *Scheduler) run(
	ctx context.Context, b backend.Backend, t *task,
) (result interface{}, err error) {
	defer capprom.Time(taskDuration.WithLabelValues(t.tag()))()
	defer capprom.ErrCount(runErrors.WithLabelValues(t.tag()), &err)
	defer func() {
		if rec := recover(); rec != nil {
			err = &backend.TaskError{Err: errors.Errorf("%s backend panicked: %v", b.Name(), rec)}
		}
	}()
	return b.Run(ctx, t.work)
}

func (s *Scheduler) coordinate() {
	defer close(s.coordinatorDone)
	for {
		ev, ok := s.events.Get()
		if !ok {
			return
		}
		switch ev.kind {
		case eventCompleted:
			s.complete(ev)
		case eventRetry:
			s.requeue(ev.task)
		}
	}
}

func (s *Scheduler) complete(ev event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := ev.task
	tag := t.tag()
	p := s.pools[tag]
	p.Release(t.capability.Requirement)
	observePool(p)
	s.running[tag]--
	tasksRunning.WithLabelValues(tag).Dec()
	t.cancel = nil

	log := t.log.WithField("duration", s.clock.Since(t.started))
	switch {
	case t.cancelRequested:
		s.finish(t, StateCancelled, nil, ErrCancelled)
	case ev.err == nil:
		s.finish(t, StateCompleted, ev.result, nil)
	case backend.IsTaskError(ev.err):
		s.finish(t, StateFailed, nil, ev.err)
	case backend.IsWorkerLost(ev.err):
		workersLost.WithLabelValues(tag).Inc()
		delay, ok := s.retryDelay(t)
		if !ok {
			log.WithError(ev.err).Warnf("worker lost after %d attempts", t.attempts.Load())
			s.finish(t, StateFailed, nil, ev.err)
			break
		}
		log.WithError(ev.err).Warnf("worker lost, retrying task in %s", delay)
		t.setState(StateQueued)
		tasksQueued.WithLabelValues(tag).Inc()
		t.retryTimer = s.clock.AfterFunc(delay, func() {
			s.events.Put(event{kind: eventRetry, task: t})
		})
	default:
		s.finish(t, StateFailed, nil, &backend.TaskError{Err: ev.err})
	}
	s.admit(tag)
}

// retryDelay returns how long to wait before running t again, or false if t has used up its
// retries. The caller must hold s.mu.
func (s *Scheduler) retryDelay(t *task) (time.Duration, bool) {
	if s.closing || t.maxRetries == 0 {
		return 0, false
	}
	if t.retries == nil {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = s.cfg.RetryBackoff.InitialInterval
		exp.MaxInterval = s.cfg.RetryBackoff.MaxInterval
		exp.MaxElapsedTime = 0
		exp.Clock = s.clock
		exp.Reset()
		t.retries = backoff.WithMaxRetries(exp, uint64(t.maxRetries))
	}
	delay := t.retries.NextBackOff()
	return delay, delay != backoff.Stop
}

// requeue puts a task whose retry delay elapsed back at its original queue position.
func (s *Scheduler) requeue(t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.retryTimer == nil || t.loadState() != StateQueued {
		return
	}
	t.retryTimer = nil
	s.queues[t.tag()].Push(t)
	t.log.Debug("task requeued for retry")
	s.admit(t.tag())
}

// dequeue takes a queued task out of its wait queue or stops its pending retry. The caller
// must hold s.mu.
func (s *Scheduler) dequeue(t *task) {
	if t.retryTimer != nil {
		t.retryTimer.Stop()
		t.retryTimer = nil
	} else {
		s.queues[t.tag()].Remove(t.id)
	}
	tasksQueued.WithLabelValues(t.tag()).Dec()
}

// finish moves t to a terminal state and wakes its waiters. The caller must hold s.mu.
func (s *Scheduler) finish(t *task, state State, result interface{}, err error) {
	t.result, t.err = result, err
	t.setState(state)
	delete(s.live, t.id)
	if s.finished != nil {
		s.finished.Add(t.id, state)
	}
	tasksFinished.WithLabelValues(t.tag(), state.String()).Inc()
	close(t.done)

	log := t.log.WithField("state", state)
	if err != nil && state == StateFailed {
		log.WithError(err).Info("task failed")
	} else {
		log.Debug("task finished")
	}

	if len(s.live) == 0 {
		s.idle.Broadcast()
	}
}

func (s *Scheduler) backendFor(tag string) backend.Backend {
	if b, ok := s.backends[tag]; ok {
		return b
	}
	return s.defaultBackend
}

func (s *Scheduler) distinctBackends() []backend.Backend {
	seen := map[backend.Backend]bool{s.defaultBackend: true}
	out := []backend.Backend{s.defaultBackend}
	for _, b := range s.backends {
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out
}
