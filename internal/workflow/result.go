package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUpstreamFailed is recorded for nodes that were not attempted because a
// node they depend on (or, during cleanup, a node depending on them) failed.
var ErrUpstreamFailed = errors.New("not attempted due to upstream error")

// ConditionType names the condition slots of a node.
type ConditionType string

const (
	ConditionActivation            ConditionType = "Activation"
	ConditionReconcilePrecondition ConditionType = "ReconcilePrecondition"
	ConditionReadyPostcondition    ConditionType = "ReadyPostcondition"
	ConditionDeletePostcondition   ConditionType = "DeletePostcondition"
)

// NodeResult is the outcome of one node in one workflow invocation.
type NodeResult struct {
	// Visited is set once the node's reconcile or delete operation ran.
	Visited bool

	// Ready is set when the ready postcondition held (or there is none).
	Ready bool

	// Deleted is set when the node's resources were removed and its delete
	// postcondition held.
	Deleted bool

	// Skipped is set when the node was not attempted because of an upstream error.
	Skipped bool

	// Err is the node's own failure, or ErrUpstreamFailed when Skipped.
	Err error

	ReconcileResult ReconcileResult

	// Conditions records the evaluated value of every condition the node has.
	Conditions map[ConditionType]bool
}

func (r NodeResult) failed() bool {
	return r.Err != nil && !r.Skipped
}

// Result collects the per-node outcomes of one Reconcile or Cleanup call.
type Result struct {
	nodes map[string]NodeResult
}

func newResult(nodes map[string]*NodeResult) *Result {
	r := &Result{nodes: make(map[string]NodeResult, len(nodes))}
	for name, n := range nodes {
		copied := *n
		if n.Conditions != nil {
			copied.Conditions = make(map[ConditionType]bool, len(n.Conditions))
			for k, v := range n.Conditions {
				copied.Conditions[k] = v
			}
		}
		r.nodes[name] = copied
	}
	return r
}

// Node returns the outcome of the named node. Nodes the invocation never
// reached are absent.
func (r *Result) Node(name string) (NodeResult, bool) {
	n, ok := r.nodes[name]
	return n, ok
}

// Nodes returns the names of all reached nodes, sorted.
func (r *Result) Nodes() []string {
	return r.filter(func(NodeResult) bool { return true })
}

// Erroneous returns the errors of nodes that failed themselves, by node name.
func (r *Result) Erroneous() map[string]error {
	errs := make(map[string]error)
	for name, n := range r.nodes {
		if n.failed() {
			errs[name] = n.Err
		}
	}
	return errs
}

// HasErrors reports whether any node failed.
func (r *Result) HasErrors() bool {
	for _, n := range r.nodes {
		if n.failed() {
			return true
		}
	}
	return false
}

// ReconciledNodes returns the nodes whose reconcile operation succeeded.
func (r *Result) ReconciledNodes() []string {
	return r.filter(func(n NodeResult) bool { return n.Visited && n.Err == nil && !n.Deleted })
}

// NotReady returns the reconciled nodes whose ready postcondition did not hold.
func (r *Result) NotReady() []string {
	return r.filter(func(n NodeResult) bool { return n.Visited && n.Err == nil && !n.Ready && !n.Deleted })
}

// DeletedNodes returns the nodes that were deleted.
func (r *Result) DeletedNodes() []string {
	return r.filter(func(n NodeResult) bool { return n.Deleted })
}

// SkippedNodes returns the nodes that were not attempted because of an upstream error.
func (r *Result) SkippedNodes() []string {
	return r.filter(func(n NodeResult) bool { return n.Skipped })
}

// AllReady reports whether every reached node reconciled without error and is ready.
func (r *Result) AllReady() bool {
	for _, n := range r.nodes {
		if n.Err != nil || n.Deleted {
			continue
		}
		if !n.Ready {
			return false
		}
	}
	return !r.HasErrors()
}

// AllDeleted reports whether every reached node was deleted.
func (r *Result) AllDeleted() bool {
	for _, n := range r.nodes {
		if !n.Deleted {
			return false
		}
	}
	return true
}

// AggregateError combines the node failures into one *AggregatedError, or
// returns nil when there are none.
func (r *Result) AggregateError() error {
	errs := r.Erroneous()
	if len(errs) == 0 {
		return nil
	}
	return &AggregatedError{Errors: errs}
}

func (r *Result) filter(keep func(NodeResult) bool) []string {
	var names []string
	for name, n := range r.nodes {
		if keep(n) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// AggregatedError reports every failed node of a workflow invocation.
type AggregatedError struct {
	Errors map[string]error
}

func (e *AggregatedError) names() []string {
	names := make([]string, 0, len(e.Errors))
	for name := range e.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *AggregatedError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, name := range e.names() {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Errors[name]))
	}
	return fmt.Sprintf("workflow failed for %d node(s): %s", len(e.Errors), strings.Join(parts, "; "))
}

// Unwrap exposes the node errors to errors.Is and errors.As.
func (e *AggregatedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Errors))
	for _, name := range e.names() {
		errs = append(errs, e.Errors[name])
	}
	return errs
}

// Joined returns the node errors combined with errors.Join, each prefixed
// with its node name.
func (e *AggregatedError) Joined() error {
	errs := make([]error, 0, len(e.Errors))
	for _, name := range e.names() {
		errs = append(errs, fmt.Errorf("%s: %w", name, e.Errors[name]))
	}
	return errors.Join(errs...)
}
