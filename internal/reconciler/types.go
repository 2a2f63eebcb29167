package reconciler

import (
	"context"

	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Reconciler is the interface that controller authors implement for a primary
// resource type.
//
// Reconcile is called with a private copy of the freshest known state of the
// resource. It should be idempotent: calling it multiple times with the same
// input should produce the same result. The returned UpdateControl tells the
// dispatcher what to write back.
//
// Reconcile is never called before the finalizer has been added, when the
// controller uses one, and never called for a resource marked for deletion.
type Reconciler[T client.Object] interface {
	Reconcile(ctx context.Context, obj T, rctx *Context[T]) (UpdateControl[T], error)
}

// Cleaner is implemented by reconcilers that need to release external state
// before their primary resource disappears. A controller whose reconciler
// implements Cleaner manages a finalizer on the primary.
type Cleaner[T client.Object] interface {
	// Cleanup is called for a resource marked for deletion while the
	// finalizer is still present. Returning RemoveFinalizer lets the store
	// complete the deletion.
	Cleanup(ctx context.Context, obj T, rctx *Context[T]) (DeleteControl, error)
}

// ErrorStatusHandler is implemented by reconcilers that record failures in
// the resource status.
type ErrorStatusHandler[T client.Object] interface {
	// UpdateErrorStatus is called with the error of a failed reconciliation.
	// The returned control may carry a status to write and can stop the
	// failure from being retried.
	UpdateErrorStatus(ctx context.Context, obj T, rctx *Context[T], err error) ErrorStatusUpdateControl[T]
}

// Func adapts a plain function to the Reconciler interface.
type Func[T client.Object] func(ctx context.Context, obj T, rctx *Context[T]) (UpdateControl[T], error)

// Reconcile calls f.
func (f Func[T]) Reconcile(ctx context.Context, obj T, rctx *Context[T]) (UpdateControl[T], error) {
	return f(ctx, obj, rctx)
}
