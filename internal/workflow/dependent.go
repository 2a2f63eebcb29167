package workflow

import (
	"context"

	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Operation describes what reconciling a dependent did to one resource.
type Operation string

const (
	OperationCreated   Operation = "Created"
	OperationUpdated   Operation = "Updated"
	OperationUnchanged Operation = "Unchanged"
	OperationDeleted   Operation = "Deleted"
)

// ReconcileResult is what a dependent reports after reconciling.
type ReconcileResult struct {
	// Operations maps the name of each resource the dependent manages to the
	// operation performed on it.
	Operations map[string]Operation
}

// SingleResult builds a ReconcileResult for a dependent managing one resource.
func SingleResult(name string, op Operation) ReconcileResult {
	return ReconcileResult{Operations: map[string]Operation{name: op}}
}

// Reconcilable is the one capability every workflow node must have: bringing
// its resources to the state desired for primary.
type Reconcilable[P client.Object] interface {
	Reconcile(ctx context.Context, primary P) (ReconcileResult, error)
}

// Deletable dependents can remove their resources explicitly.
type Deletable[P client.Object] interface {
	Delete(ctx context.Context, primary P) error
}

// GarbageCollected dependents are removed by the store once the primary is
// gone (owner references), so cleanup of the primary does not delete them.
// They are still deleted explicitly when their activation condition or
// reconcile precondition stops holding.
type GarbageCollected interface {
	GarbageCollected() bool
}

func isGarbageCollected(d any) bool {
	gc, ok := d.(GarbageCollected)
	return ok && gc.GarbageCollected()
}
