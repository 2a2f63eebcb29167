package workflow

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"converge/internal/executor"
	"converge/internal/resource"
	"converge/pkg/logging"
)

// Workflow is a validated graph of dependents. It holds no per-invocation
// state and may run for many primaries at the same time.
type Workflow[P client.Object] struct {
	nodes       map[string]*node[P]
	order       []string
	throwErrors bool
	executor    executor.Executor
	tracer      trace.Tracer
}

// NodeInfo describes a node for display.
type NodeInfo struct {
	Name       string
	DependsOn  []string
	Deletable  bool
	GC         bool
	Conditions int
}

// Nodes describes the nodes in topological order.
func (w *Workflow[P]) Nodes() []NodeInfo {
	infos := make([]NodeInfo, 0, len(w.order))
	for _, name := range w.order {
		n := w.nodes[name]
		_, deletable := n.dependent.(Deletable[P])
		infos = append(infos, NodeInfo{
			Name:       name,
			DependsOn:  append([]string(nil), n.dependsOn...),
			Deletable:  deletable,
			GC:         isGarbageCollected(n.dependent),
			Conditions: n.conditionCount(),
		})
	}
	return infos
}

// Order returns the node names, dependencies first.
func (w *Workflow[P]) Order() []string {
	return append([]string(nil), w.order...)
}

// HasCleaner reports whether cleaning up a primary needs explicit deletes,
// which is what makes a finalizer necessary.
func (w *Workflow[P]) HasCleaner() bool {
	for _, n := range w.nodes {
		if _, ok := n.dependent.(Deletable[P]); ok && !isGarbageCollected(n.dependent) {
			return true
		}
	}
	return false
}

// ThrowsErrors reports whether node failures are returned as an error.
func (w *Workflow[P]) ThrowsErrors() bool {
	return w.throwErrors
}

// Reconcile brings every active node to its desired state for primary,
// dependencies first, and deletes the nodes whose activation condition or
// reconcile precondition does not hold. It blocks until no node operation is
// in flight.
func (w *Workflow[P]) Reconcile(ctx context.Context, primary P) (*Result, error) {
	r := w.newRun(ctx, primary, "reconcile")
	defer r.span.End()

	r.mu.Lock()
	for _, name := range w.order {
		if len(w.nodes[name].dependsOn) == 0 {
			r.tryReconcile(name)
		}
	}
	r.mu.Unlock()

	return w.finish(r)
}

// Cleanup deletes the nodes for a primary that is going away, most dependent
// nodes first. A node is deleted only after everything depending on it is
// deleted and its delete postcondition holds. Garbage collected nodes are not
// deleted explicitly.
func (w *Workflow[P]) Cleanup(ctx context.Context, primary P) (*Result, error) {
	r := w.newRun(ctx, primary, "cleanup")
	defer r.span.End()

	r.mu.Lock()
	for i := len(w.order) - 1; i >= 0; i-- {
		name := w.order[i]
		if len(w.nodes[name].dependents) == 0 {
			r.tryCleanup(name)
		}
	}
	r.mu.Unlock()

	return w.finish(r)
}

func (w *Workflow[P]) finish(r *run[P]) (*Result, error) {
	r.wait()

	result := newResult(r.results)
	if err := result.AggregateError(); err != nil {
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
		logging.Warn("Workflow", "Workflow %s of %s finished with errors: %v", r.kind, r.id, err)
		if w.throwErrors {
			return result, err
		}
		return result, nil
	}
	logging.Debug("Workflow", "Workflow %s of %s finished: reconciled %v, deleted %v, not ready %v",
		r.kind, r.id, result.ReconciledNodes(), result.DeletedNodes(), result.NotReady())
	return result, nil
}

// run is the mutable state of one invocation. Every field below mu is
// guarded by it.
type run[P client.Object] struct {
	w       *Workflow[P]
	ctx     context.Context
	span    trace.Span
	primary P
	id      resource.ID
	kind    string

	mu   sync.Mutex
	cond *sync.Cond

	inFlight int
	aborted  bool
	// nodes whose reconcile or delete operation was submitted
	reconciling map[string]bool
	removing    map[string]bool
	// nodes with an operation that has not completed
	pending map[string]bool
	// nodes routed to the delete path during reconcile
	deleting map[string]bool
	results  map[string]*NodeResult
}

func (w *Workflow[P]) newRun(ctx context.Context, primary P, kind string) *run[P] {
	id := resource.FromObject(primary)
	ctx, span := w.tracer.Start(ctx, "workflow."+kind, trace.WithAttributes(
		attribute.String("resource", id.String()),
		attribute.Int("nodes", len(w.nodes)),
	))
	r := &run[P]{
		w:           w,
		ctx:         ctx,
		span:        span,
		primary:     primary,
		id:          id,
		kind:        kind,
		reconciling: make(map[string]bool),
		removing:    make(map[string]bool),
		pending:     make(map[string]bool),
		deleting:    make(map[string]bool),
		results:     make(map[string]*NodeResult),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// wait blocks until no operation is in flight, or the context ends.
func (r *run[P]) wait() {
	stop := context.AfterFunc(r.ctx, func() {
		r.mu.Lock()
		r.aborted = true
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	for r.inFlight > 0 && !r.aborted {
		r.cond.Wait()
	}
	for name := range r.pending {
		if res := r.result(name); res.Err == nil {
			res.Err = fmt.Errorf("workflow %s interrupted: %w", r.kind, r.ctx.Err())
		}
	}
}

func (r *run[P]) result(name string) *NodeResult {
	res, ok := r.results[name]
	if !ok {
		res = &NodeResult{}
		r.results[name] = res
	}
	return res
}

func (r *run[P]) skipped(name string) bool {
	res, ok := r.results[name]
	return ok && res.Skipped
}

func (r *run[P]) setCondition(name string, t ConditionType, met bool) {
	res := r.result(name)
	if res.Conditions == nil {
		res.Conditions = make(map[ConditionType]bool)
	}
	res.Conditions[t] = met
}

// submit runs op on the executor. op runs without the lock and returns a
// completion that is applied with the lock held. The caller holds the lock.
func (r *run[P]) submit(name string, op func(ctx context.Context) func()) {
	r.inFlight++
	r.pending[name] = true

	task := func() {
		ctx, span := r.w.tracer.Start(r.ctx, "workflow.node", trace.WithAttributes(
			attribute.String("node", name),
			attribute.String("phase", r.kind),
		))

		var done func()
		func() {
			defer func() {
				if p := recover(); p != nil {
					err := fmt.Errorf("panic in workflow node %s: %v", name, p)
					done = func() { r.fail(name, err) }
				}
			}()
			done = op(ctx)
		}()

		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.pending, name)
		if !r.aborted {
			done()
			if err := r.result(name).Err; err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
		}
		span.End()
		r.inFlight--
		r.cond.Broadcast()
	}

	if err := r.w.executor.Submit(task); err != nil {
		r.inFlight--
		delete(r.pending, name)
		r.fail(name, fmt.Errorf("failed to submit node %s: %w", name, err))
	}
}

func (r *run[P]) evaluate(ctx context.Context, name string, t ConditionType, c Condition[P]) (bool, error) {
	if c == nil {
		return true, nil
	}
	met, err := c(ctx, r.primary)
	if err != nil {
		return false, fmt.Errorf("evaluating %s condition of %s: %w", t, name, err)
	}
	return met, nil
}

// tryReconcile submits name once all its dependencies are reconciled and
// ready. The caller holds the lock.
func (r *run[P]) tryReconcile(name string) {
	if r.reconciling[name] || r.deleting[name] || r.skipped(name) {
		return
	}
	n := r.w.nodes[name]
	for _, dep := range n.dependsOn {
		res, ok := r.results[dep]
		if !ok || !res.Visited || !res.Ready || res.Err != nil || r.deleting[dep] {
			return
		}
	}
	r.reconciling[name] = true

	r.submit(name, func(ctx context.Context) func() {
		active, err := r.evaluate(ctx, name, ConditionActivation, n.activation)
		if err != nil {
			return func() { r.fail(name, err) }
		}
		if !active {
			return func() {
				r.setCondition(name, ConditionActivation, false)
				r.routeToDelete(name)
			}
		}

		allowed, err := r.evaluate(ctx, name, ConditionReconcilePrecondition, n.precondition)
		if err != nil {
			return func() { r.fail(name, err) }
		}
		if !allowed {
			return func() {
				if n.activation != nil {
					r.setCondition(name, ConditionActivation, true)
				}
				r.setCondition(name, ConditionReconcilePrecondition, false)
				r.routeToDelete(name)
			}
		}

		result, err := n.dependent.Reconcile(ctx, r.primary)
		if err != nil {
			return func() { r.fail(name, fmt.Errorf("reconciling %s: %w", name, err)) }
		}

		ready, readyErr := r.evaluate(ctx, name, ConditionReadyPostcondition, n.ready)
		return func() {
			res := r.result(name)
			res.Visited = true
			res.ReconcileResult = result
			if n.activation != nil {
				r.setCondition(name, ConditionActivation, true)
			}
			if n.precondition != nil {
				r.setCondition(name, ConditionReconcilePrecondition, true)
			}
			if readyErr != nil {
				r.fail(name, readyErr)
				return
			}
			if n.ready != nil {
				r.setCondition(name, ConditionReadyPostcondition, ready)
			}
			res.Ready = ready
			if !ready {
				logging.Debug("Workflow", "Node %s of %s is not ready yet", name, r.id)
				return
			}
			for _, dependent := range n.dependents {
				r.tryReconcile(dependent)
			}
		}
	})
}

// fail records err for name and skips the nodes waiting on it: dependents
// while reconciling, dependencies while cleaning up. The caller holds the lock.
func (r *run[P]) fail(name string, err error) {
	r.result(name).Err = err
	if r.kind == "cleanup" {
		r.skip(name, func(n *node[P]) []string { return n.dependsOn })
		return
	}
	if !r.deleting[name] {
		r.skip(name, func(n *node[P]) []string { return n.dependents })
	}
}

func (r *run[P]) skip(name string, next func(*node[P]) []string) {
	for _, other := range next(r.w.nodes[name]) {
		if r.reconciling[other] || r.removing[other] || r.deleting[other] {
			continue
		}
		res := r.result(other)
		if res.Skipped {
			continue
		}
		res.Skipped = true
		res.Err = ErrUpstreamFailed
		r.skip(other, next)
	}
}

// routeToDelete marks name and everything depending on it for deletion and
// starts deleting from the most dependent end. The caller holds the lock.
func (r *run[P]) routeToDelete(name string) {
	var marked []string
	var mark func(string)
	mark = func(n string) {
		if r.deleting[n] {
			return
		}
		r.deleting[n] = true
		marked = append(marked, n)
		for _, dependent := range r.w.nodes[n].dependents {
			mark(dependent)
		}
	}
	mark(name)

	logging.Debug("Workflow", "Deleting nodes %v of %s, %s no longer applies", marked, r.id, name)
	for _, n := range marked {
		r.tryDelete(n, true)
	}
}

// tryCleanup is the cleanup entry point for name. The caller holds the lock.
func (r *run[P]) tryCleanup(name string) {
	r.tryDelete(name, false)
}

// tryDelete submits the deletion of name once every node depending on it is
// deleted. explicit is set on the reconcile path, where the primary still
// exists and garbage collected nodes must be deleted too. The caller holds
// the lock.
func (r *run[P]) tryDelete(name string, explicit bool) {
	if r.removing[name] || r.skipped(name) {
		return
	}
	n := r.w.nodes[name]
	for _, dependent := range n.dependents {
		if explicit && !r.deleting[dependent] {
			continue
		}
		if res, ok := r.results[dependent]; !ok || !res.Deleted {
			return
		}
	}
	r.removing[name] = true

	r.submit(name, func(ctx context.Context) func() {
		if !explicit && n.activation != nil {
			active, err := r.evaluate(ctx, name, ConditionActivation, n.activation)
			if err != nil {
				return func() { r.fail(name, err) }
			}
			if !active {
				// never created for this primary, nothing to remove
				return func() {
					r.setCondition(name, ConditionActivation, false)
					r.markDeleted(name, explicit)
				}
			}
		}

		if deletable, ok := n.dependent.(Deletable[P]); ok && (explicit || !isGarbageCollected(n.dependent)) {
			if err := deletable.Delete(ctx, r.primary); err != nil {
				return func() { r.fail(name, fmt.Errorf("deleting %s: %w", name, err)) }
			}
		}

		gone, err := r.evaluate(ctx, name, ConditionDeletePostcondition, n.deleted)
		return func() {
			if err != nil {
				r.fail(name, err)
				return
			}
			if n.deleted != nil {
				r.setCondition(name, ConditionDeletePostcondition, gone)
			}
			if !gone {
				logging.Debug("Workflow", "Node %s of %s is not deleted yet", name, r.id)
				return
			}
			r.markDeleted(name, explicit)
		}
	})
}

func (r *run[P]) markDeleted(name string, explicit bool) {
	r.result(name).Deleted = true
	for _, dep := range r.w.nodes[name].dependsOn {
		if explicit && !r.deleting[dep] {
			continue
		}
		r.tryDelete(dep, explicit)
	}
}
