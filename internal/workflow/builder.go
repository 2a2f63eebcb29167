package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"converge/internal/executor"
)

// DefaultMaxWorkers sizes the pool a workflow creates when none is supplied.
const DefaultMaxWorkers = 8

var (
	// ErrDuplicateNode is returned by Build when two nodes share a name.
	ErrDuplicateNode = errors.New("duplicate workflow node")

	// ErrUnknownDependency is returned by Build when a node depends on a name
	// that was never added.
	ErrUnknownDependency = errors.New("unknown workflow dependency")

	// ErrNoNode is returned by Build when a node option was used before any
	// node was added.
	ErrNoNode = errors.New("no workflow node to configure")
)

// CycleError is returned by Build when the dependencies form a cycle.
type CycleError struct {
	// Nodes lists the nodes that could not be ordered, sorted by name.
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("workflow graph contains a cycle through nodes: %s", strings.Join(e.Nodes, ", "))
}

// AsCycleError returns err as a *CycleError, or nil.
func AsCycleError(err error) *CycleError {
	var cycle *CycleError
	if errors.As(err, &cycle) {
		return cycle
	}
	return nil
}

// node is an immutable node definition, shared by every invocation.
type node[P client.Object] struct {
	name       string
	dependent  Reconcilable[P]
	dependsOn  []string
	dependents []string

	activation   Condition[P]
	precondition Condition[P]
	ready        Condition[P]
	deleted      Condition[P]
}

func (n *node[P]) conditionCount() int {
	count := 0
	for _, c := range []Condition[P]{n.activation, n.precondition, n.ready, n.deleted} {
		if c != nil {
			count++
		}
	}
	return count
}

// Builder assembles a Workflow. Node options apply to the node added last:
//
//	wf, err := workflow.NewBuilder[*v1alpha1.WebPage]().
//		AddNode("configmap", configMaps).
//		AddNode("deployment", deployments).DependsOn("configmap").
//		WithReadyPostcondition(deploymentAvailable).
//		Build()
type Builder[P client.Object] struct {
	nodes       []*node[P]
	byName      map[string]*node[P]
	errs        []error
	throwErrors bool
	executor    executor.Executor
	maxWorkers  int
	tracer      trace.TracerProvider
}

// NewBuilder starts an empty workflow. Errors are raised automatically by default.
func NewBuilder[P client.Object]() *Builder[P] {
	return &Builder[P]{
		byName:      make(map[string]*node[P]),
		throwErrors: true,
	}
}

// AddNode adds a node named name running dependent.
func (b *Builder[P]) AddNode(name string, dependent Reconcilable[P]) *Builder[P] {
	if _, exists := b.byName[name]; exists {
		b.errs = append(b.errs, fmt.Errorf("%w: %s", ErrDuplicateNode, name))
		return b
	}
	if dependent == nil {
		b.errs = append(b.errs, fmt.Errorf("node %s has no dependent", name))
	}
	n := &node[P]{name: name, dependent: dependent}
	b.nodes = append(b.nodes, n)
	b.byName[name] = n
	return b
}

func (b *Builder[P]) current(option string) *node[P] {
	if len(b.nodes) == 0 {
		b.errs = append(b.errs, fmt.Errorf("%w: %s", ErrNoNode, option))
		return nil
	}
	return b.nodes[len(b.nodes)-1]
}

// DependsOn declares that the last added node depends on the named nodes.
func (b *Builder[P]) DependsOn(names ...string) *Builder[P] {
	if n := b.current("DependsOn"); n != nil {
		n.dependsOn = append(n.dependsOn, names...)
	}
	return b
}

// WithActivation sets the condition deciding whether the last added node
// exists at all. When it does not hold the node and everything depending on
// it are deleted.
func (b *Builder[P]) WithActivation(c Condition[P]) *Builder[P] {
	if n := b.current("WithActivation"); n != nil {
		n.activation = c
	}
	return b
}

// WithReconcilePrecondition sets the condition that must hold before the last
// added node is reconciled. When it does not hold the node and everything
// depending on it are deleted.
func (b *Builder[P]) WithReconcilePrecondition(c Condition[P]) *Builder[P] {
	if n := b.current("WithReconcilePrecondition"); n != nil {
		n.precondition = c
	}
	return b
}

// WithReadyPostcondition sets the condition that must hold after
// reconciliation before nodes depending on the last added node run.
func (b *Builder[P]) WithReadyPostcondition(c Condition[P]) *Builder[P] {
	if n := b.current("WithReadyPostcondition"); n != nil {
		n.ready = c
	}
	return b
}

// WithDeletePostcondition sets the condition that must hold after deletion
// before the nodes the last added node depends on are deleted.
func (b *Builder[P]) WithDeletePostcondition(c Condition[P]) *Builder[P] {
	if n := b.current("WithDeletePostcondition"); n != nil {
		n.deleted = c
	}
	return b
}

// WithThrowErrors controls whether node failures are returned as an
// *AggregatedError. When disabled callers inspect the Result instead.
func (b *Builder[P]) WithThrowErrors(throw bool) *Builder[P] {
	b.throwErrors = throw
	return b
}

// WithExecutor runs node operations on exec. It must not be the executor that
// runs the calling reconciliation, or a full pool could wait on itself.
func (b *Builder[P]) WithExecutor(exec executor.Executor) *Builder[P] {
	b.executor = exec
	return b
}

// WithMaxWorkers sizes the pool created when no executor is supplied.
func (b *Builder[P]) WithMaxWorkers(n int) *Builder[P] {
	b.maxWorkers = n
	return b
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func (b *Builder[P]) WithTracerProvider(tp trace.TracerProvider) *Builder[P] {
	b.tracer = tp
	return b
}

// Build validates the graph and returns the Workflow. It fails on duplicate
// names, unknown dependencies and cycles.
func (b *Builder[P]) Build() (*Workflow[P], error) {
	errs := append([]error(nil), b.errs...)
	for _, n := range b.nodes {
		for _, dep := range n.dependsOn {
			if _, ok := b.byName[dep]; !ok {
				errs = append(errs, fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, n.name, dep))
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	nodes := make(map[string]*node[P], len(b.nodes))
	for _, n := range b.nodes {
		copied := *n
		copied.dependsOn = dedupe(n.dependsOn)
		copied.dependents = nil
		nodes[n.name] = &copied
	}
	for _, n := range b.nodes {
		for _, dep := range nodes[n.name].dependsOn {
			nodes[dep].dependents = append(nodes[dep].dependents, n.name)
		}
	}

	order, err := topologicalOrder(nodes)
	if err != nil {
		return nil, err
	}

	exec := b.executor
	if exec == nil {
		size := b.maxWorkers
		if size <= 0 {
			size = DefaultMaxWorkers
		}
		exec = executor.NewPool("workflow", size)
	}
	tp := b.tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Workflow[P]{
		nodes:       nodes,
		order:       order,
		throwErrors: b.throwErrors,
		executor:    exec,
		tracer:      tp.Tracer("converge/workflow"),
	}, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	var out []string
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// topologicalOrder orders nodes with Kahn's algorithm, dependencies first and
// ties broken by name. Nodes left with unresolved dependencies are on or
// behind a cycle.
func topologicalOrder[P client.Object](nodes map[string]*node[P]) ([]string, error) {
	inDegree := make(map[string]int, len(nodes))
	var ready []string
	for name, n := range nodes {
		inDegree[name] = len(n.dependsOn)
		if len(n.dependsOn) == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		var unlocked []string
		for _, dependent := range nodes[name].dependents {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				unlocked = append(unlocked, dependent)
			}
		}
		sort.Strings(unlocked)
		ready = append(ready, unlocked...)
	}

	if len(order) < len(nodes) {
		var remaining []string
		for name, degree := range inDegree {
			if degree > 0 {
				remaining = append(remaining, name)
			}
		}
		sort.Strings(remaining)
		return nil, &CycleError{Nodes: remaining}
	}
	return order, nil
}
