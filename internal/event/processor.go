package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"converge/internal/executor"
	"converge/internal/resource"
	"converge/internal/retry"
	"converge/pkg/logging"
)

const (
	// DefaultCacheSyncTimeout bounds how long a pending event waits for the
	// watch to deliver a write performed by the previous execution.
	DefaultCacheSyncTimeout = 5 * time.Second

	minRateLimitDelay = 50 * time.Millisecond
)

// Cache is the read side of the resource cache used by the processor.
type Cache[T client.Object] interface {
	// Get returns the freshest known copy, including writes not yet seen by the watch.
	Get(id resource.ID) (T, bool)

	// PrimaryVersion returns the version last delivered by the watch.
	PrimaryVersion(id resource.ID) (string, bool)
}

// Dispatcher runs one reconciliation attempt.
type Dispatcher[T client.Object] interface {
	Dispatch(ctx context.Context, scope ExecutionScope[T]) PostExecutionControl[T]
}

// RateLimit allows Limit executions per resource within Period.
type RateLimit struct {
	Limit  int
	Period time.Duration
}

func (r RateLimit) enabled() bool {
	return r.Limit > 0 && r.Period > 0
}

// Options configures a Processor.
type Options struct {
	// Name identifies the controller in logs and metrics.
	Name string

	// Retry is applied to failed attempts. Nil disables retries.
	Retry *retry.Policy

	RateLimit RateLimit

	// MaxReconciliationInterval triggers a run after a quiet period. Zero disables it.
	MaxReconciliationInterval time.Duration

	// CacheSyncTimeout defaults to DefaultCacheSyncTimeout.
	CacheSyncTimeout time.Duration

	// Versions defaults to resource.NumericVersions.
	Versions resource.VersionComparator

	// Clock defaults to the real clock.
	Clock clock.WithDelayedExecution

	// Metrics defaults to NoopMetrics.
	Metrics Metrics
}

// resourceState is everything the processor tracks for one resource besides
// the marker.
type resourceState struct {
	underExecution bool
	retry          *retry.Execution
	limiter        *rate.Limiter

	// versions carried by notifications received during the current execution
	observed []string
	// a notification without content arrived during the current execution
	triggered bool
	// a pending run waits for the watch to deliver our own write
	awaitingWatch bool
}

// Processor decides, for every notification, whether to start a
// reconciliation, let a running one pick it up later, or clean up after a
// deletion. It guarantees at most one execution in flight per resource.
type Processor[T client.Object] struct {
	mu sync.Mutex

	opts       Options
	marker     *Marker
	states     map[resource.ID]*resourceState
	cache      Cache[T]
	dispatcher Dispatcher[T]
	executor   executor.Executor
	scheduler  *Scheduler

	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewProcessor creates a stopped Processor.
func NewProcessor[T client.Object](cache Cache[T], dispatcher Dispatcher[T], exec executor.Executor, opts Options) *Processor[T] {
	if opts.CacheSyncTimeout <= 0 {
		opts.CacheSyncTimeout = DefaultCacheSyncTimeout
	}
	if opts.Versions == nil {
		opts.Versions = resource.NumericVersions
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetrics{}
	}

	return &Processor[T]{
		opts:       opts,
		marker:     NewMarker(),
		states:     make(map[resource.ID]*resourceState),
		cache:      cache,
		dispatcher: dispatcher,
		executor:   exec,
	}
}

// Start enables submissions and processes events marked while stopped. A
// stopped processor may be started again.
func (p *Processor[T]) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.scheduler = NewScheduler(p.opts.Clock, func(id resource.ID) {
		p.HandleEvent(resource.Trigger(id))
	})
	p.running = true

	for id, st := range p.marker.states {
		if st == eventPresent {
			p.submit(id)
		}
	}
	logging.Info("EventProcessor", "Started event processor for %s", p.opts.Name)
}

// Stop disables submissions and cancels all timers. Executions in flight are
// not interrupted but their outcome is ignored.
func (p *Processor[T]) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.running = false
	p.scheduler.Stop()
	p.cancel()
	logging.Info("EventProcessor", "Stopped event processor for %s", p.opts.Name)
}

// HandleEvent processes one notification.
func (p *Processor[T]) HandleEvent(e resource.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.opts.Metrics.EventReceived(p.opts.Name, e)

	if e.Action == resource.Deleted {
		logging.Debug("EventProcessor", "Marking delete event for %s", e.ID)
		p.marker.MarkDeleteEvent(e.ID)
	} else {
		if e.Object == nil && p.marker.DeleteEventPresent(e.ID) {
			logging.Debug("EventProcessor", "Ignoring trigger for deleted resource %s", e.ID)
			return
		}
		if err := p.marker.MarkEvent(e.ID); err != nil {
			logging.Error("EventProcessor", err, "Dropping %s event for %s", e.Action, e.ID)
			return
		}
		if st, ok := p.states[e.ID]; ok && st.underExecution {
			if v := e.Version(); v != "" {
				st.observed = append(st.observed, v)
			} else {
				st.triggered = true
			}
		}
	}

	if !p.running {
		if e.Action == resource.Deleted && !p.executing(e.ID) {
			p.cleanupForDeleted(e.ID)
		}
		return
	}
	p.handleMarked(e.ID)
}

func (p *Processor[T]) executing(id resource.ID) bool {
	st, ok := p.states[id]
	return ok && st.underExecution
}

func (p *Processor[T]) handleMarked(id resource.ID) {
	if p.marker.DeleteEventPresent(id) {
		if p.executing(id) {
			// bookkeeping happens once the execution finishes
			return
		}
		p.cleanupForDeleted(id)
		return
	}
	if p.marker.EventPresent(id) {
		p.submit(id)
	}
}

func (p *Processor[T]) state(id resource.ID) *resourceState {
	st, ok := p.states[id]
	if !ok {
		st = &resourceState{}
		p.states[id] = st
	}
	return st
}

// submit starts an execution for id unless one is already running.
func (p *Processor[T]) submit(id resource.ID) {
	if st, ok := p.states[id]; ok && st.underExecution {
		logging.Debug("EventProcessor", "Reconciliation of %s in progress, event will be handled afterwards", id)
		return
	}

	obj, ok := p.cache.Get(id)
	if !ok {
		logging.Debug("EventProcessor", "No cached resource for %s, skipping reconciliation", id)
		_ = p.marker.UnmarkEvent(id)
		return
	}
	st := p.state(id)

	if delay := p.rateLimitDelay(st); delay > 0 {
		logging.Debug("EventProcessor", "Rate limited %s, postponing by %v", id, delay)
		p.scheduler.AddAfter(id, delay)
		return
	}

	st.underExecution = true
	st.observed = nil
	st.triggered = false
	st.awaitingWatch = false
	_ = p.marker.UnmarkEvent(id)

	scope := ExecutionScope[T]{
		ID:          id,
		Resource:    obj.DeepCopyObject().(T),
		Retry:       st.retry.Info(),
		ReconcileID: uuid.NewString(),
	}

	if err := p.executor.Submit(func() { p.execute(scope) }); err != nil {
		logging.Error("EventProcessor", err, "Failed to submit reconciliation of %s", id)
		st.underExecution = false
		_ = p.marker.MarkEvent(id)
	}
}

func (p *Processor[T]) rateLimitDelay(st *resourceState) time.Duration {
	rl := p.opts.RateLimit
	if !rl.enabled() {
		return 0
	}
	if st.limiter == nil {
		st.limiter = rate.NewLimiter(rate.Every(rl.Period/time.Duration(rl.Limit)), rl.Limit)
	}

	now := p.opts.Clock.Now()
	r := st.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	if delay == 0 {
		return 0
	}
	r.CancelAt(now)
	if delay < minRateLimitDelay {
		delay = minRateLimitDelay
	}
	return delay
}

func (p *Processor[T]) execute(scope ExecutionScope[T]) {
	p.opts.Metrics.ReconcileStarted(p.opts.Name, scope.ID, scope.Retry)
	logging.Debug("EventProcessor", "Reconciling %s (attempt %d, reconcile ID %s)",
		scope.ID, scope.Retry.Attempt, scope.ReconcileID)

	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()

	var ctrl PostExecutionControl[T]
	func() {
		defer func() {
			if r := recover(); r != nil {
				ctrl = ControlWithError[T](fmt.Errorf("panic during reconciliation of %s: %v", scope.ID, r))
			}
		}()
		ctrl = p.dispatcher.Dispatch(ctx, scope)
	}()
	p.finished(scope, ctrl)
}

// finished applies the completion rules for an execution.
func (p *Processor[T]) finished(scope ExecutionScope[T], ctrl PostExecutionControl[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := scope.ID
	st := p.state(id)
	st.underExecution = false

	if !p.running {
		if p.marker.DeleteEventPresent(id) {
			p.cleanupForDeleted(id)
		}
		return
	}

	if ctrl.Err != nil {
		p.opts.Metrics.ReconcileFailed(p.opts.Name, id, ctrl.Err)
		if p.opts.Retry != nil && !ctrl.NoRetry && !p.marker.DeleteEventPresent(id) {
			p.handleRetry(id, st, ctrl.Err)
			return
		}
		logging.Error("EventProcessor", ctrl.Err, "Reconciliation of %s failed", id)
	} else {
		p.opts.Metrics.ReconcileSucceeded(p.opts.Name, id)
	}

	st.retry = nil
	p.scheduler.Cancel(id)

	if p.marker.DeleteEventPresent(id) {
		p.cleanupForDeleted(id)
		return
	}

	if ctrl.FinalizerRemoved {
		// the resource is on its way out; the delete notification finishes the job
		p.opts.Metrics.CleanupDone(p.opts.Name, id)
		_ = p.marker.UnmarkEvent(id)
		return
	}

	if !p.marker.EventPresent(id) {
		p.rescheduleIfInstructed(id, ctrl)
		return
	}
	p.resolvePending(scope, st, ctrl)
}

// resolvePending decides what to do with notifications that arrived while the
// resource was executing, using the version before the execution, the version
// it wrote and the version the watch has delivered so far.
func (p *Processor[T]) resolvePending(scope ExecutionScope[T], st *resourceState, ctrl PostExecutionControl[T]) {
	id := scope.ID
	written := ctrl.WrittenVersion()
	if written == "" {
		p.submit(id)
		return
	}

	cached, _ := p.cache.PrimaryVersion(id)
	cmp, ok := p.opts.Versions.Compare(cached, written)
	switch {
	case !ok:
		p.submit(id)

	case cmp < 0:
		// The watch has not caught up with our own write yet. Its echo will
		// trigger the run; the timer only guarantees progress if it never comes.
		logging.Debug("EventProcessor", "Deferring %s: cached version %q behind written %q (was %q)",
			id, cached, written, scope.Resource.GetResourceVersion())
		st.awaitingWatch = true
		p.scheduler.AddAfter(id, p.opts.CacheSyncTimeout)

	case cmp == 0 && !ctrl.FinalizerAdded && p.onlyEcho(st, written):
		logging.Debug("EventProcessor", "Only the echo of our own write to %s arrived, skipping", id)
		_ = p.marker.UnmarkEvent(id)
		p.rescheduleIfInstructed(id, ctrl)

	default:
		p.submit(id)
	}
}

func (p *Processor[T]) onlyEcho(st *resourceState, written string) bool {
	if st.triggered || len(st.observed) == 0 {
		return false
	}
	for _, v := range st.observed {
		if cmp, ok := p.opts.Versions.Compare(v, written); !ok || cmp != 0 {
			return false
		}
	}
	return true
}

func (p *Processor[T]) rescheduleIfInstructed(id resource.ID, ctrl PostExecutionControl[T]) {
	if ctrl.RescheduleAfter > 0 {
		logging.Debug("EventProcessor", "Rescheduling %s after %v", id, ctrl.RescheduleAfter)
		p.scheduler.AddAfter(id, ctrl.RescheduleAfter)
		return
	}
	if p.opts.MaxReconciliationInterval > 0 {
		p.scheduler.AddAfter(id, p.opts.MaxReconciliationInterval)
	}
}

func (p *Processor[T]) handleRetry(id resource.ID, st *resourceState, cause error) {
	if st.retry == nil {
		st.retry = p.opts.Retry.NewExecution()
	}

	delay, ok := st.retry.NextDelay()
	if !ok {
		logging.Error("EventProcessor", fmt.Errorf("%w: %w", retry.ErrRetriesExhausted, cause),
			"Giving up on %s until the next change", id)
		p.opts.Metrics.RetriesExhausted(p.opts.Name, id)
		st.retry = nil
		p.scheduler.Cancel(id)
		// notifications received during the last attempt are new changes
		if p.marker.EventPresent(id) {
			p.submit(id)
		}
		return
	}

	logging.Warn("EventProcessor", "Reconciliation of %s failed, retrying in %v: %v", id, delay, cause)
	p.scheduler.AddAfter(id, delay)
}

func (p *Processor[T]) cleanupForDeleted(id resource.ID) {
	logging.Debug("EventProcessor", "Cleaning up state of deleted resource %s", id)
	p.marker.Cleanup(id)
	delete(p.states, id)
	p.scheduler.Cancel(id)
	p.opts.Metrics.CleanupDone(p.opts.Name, id)
}

// Executing reports whether a reconciliation of id is in flight.
func (p *Processor[T]) Executing(id resource.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.executing(id)
}

// RetryInfo returns the retry state of id.
func (p *Processor[T]) RetryInfo(id resource.ID) retry.Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[id]; ok {
		return st.retry.Info()
	}
	return retry.Info{Attempt: 1}
}

// AwaitingWatch reports whether a pending run of id is waiting for the watch
// to deliver a write made by the previous execution. Event filters must let
// that delivery through even when it would otherwise be ignored.
func (p *Processor[T]) AwaitingWatch(id resource.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[id]
	return ok && st.awaitingWatch
}

// NextReconciliationImminent reports whether another run of id is already
// known to be needed.
func (p *Processor[T]) NextReconciliationImminent(id resource.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.marker.EventPresent(id)
}
