package dependent

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"converge/internal/resource"
	"converge/internal/store"
	"converge/internal/workflow"
	"converge/pkg/logging"
)

// DesiredFunc builds the resource a primary needs.
type DesiredFunc[P, R client.Object] func(ctx context.Context, primary P) (R, error)

// Kubernetes keeps one secondary resource per primary in its desired state.
// The secondary lives in a store of its own and is owned by the primary
// through a controller owner reference.
type Kubernetes[P, R client.Object] struct {
	name             string
	store            store.Store[R]
	scheme           *runtime.Scheme
	desired          DesiredFunc[P, R]
	matches          Matcher[R]
	garbageCollected bool
	owned            bool
}

// NewKubernetes creates a dependent named name. scheme must know the primary
// type so owner references can be set.
func NewKubernetes[P, R client.Object](name string, s store.Store[R], scheme *runtime.Scheme, desired DesiredFunc[P, R]) *Kubernetes[P, R] {
	return &Kubernetes[P, R]{
		name:    name,
		store:   s,
		scheme:  scheme,
		desired: desired,
		matches: DefaultMatcher[R],
		owned:   true,
	}
}

// WithMatcher replaces DefaultMatcher.
func (k *Kubernetes[P, R]) WithMatcher(m Matcher[R]) *Kubernetes[P, R] {
	k.matches = m
	return k
}

// WithGarbageCollection marks the secondary as removed by the store once the
// primary is gone, so workflow cleanup does not delete it explicitly.
func (k *Kubernetes[P, R]) WithGarbageCollection(gc bool) *Kubernetes[P, R] {
	k.garbageCollected = gc
	return k
}

// WithoutOwnerReference stops the primary from being set as controller of
// the secondary. Garbage collection then has nothing to go by.
func (k *Kubernetes[P, R]) WithoutOwnerReference() *Kubernetes[P, R] {
	k.owned = false
	k.garbageCollected = false
	return k
}

// Name returns the dependent's name.
func (k *Kubernetes[P, R]) Name() string {
	return k.name
}

// GarbageCollected implements workflow.GarbageCollected.
func (k *Kubernetes[P, R]) GarbageCollected() bool {
	return k.garbageCollected
}

// Desired returns the secondary as it should be for primary.
func (k *Kubernetes[P, R]) Desired(ctx context.Context, primary P) (R, error) {
	want, err := k.desired(ctx, primary)
	if err != nil {
		var zero R
		return zero, fmt.Errorf("failed to build desired %s: %w", k.name, err)
	}
	if want.GetNamespace() == "" {
		want.SetNamespace(primary.GetNamespace())
	}
	if k.owned {
		if err := controllerutil.SetControllerReference(primary, want, k.scheme); err != nil {
			var zero R
			return zero, fmt.Errorf("failed to set owner of %s: %w", k.name, err)
		}
	}
	return want, nil
}

// Get returns the secondary of primary as stored.
func (k *Kubernetes[P, R]) Get(ctx context.Context, primary P) (R, bool, error) {
	var zero R
	want, err := k.Desired(ctx, primary)
	if err != nil {
		return zero, false, err
	}
	actual, err := k.store.Get(ctx, resource.FromObject(want))
	if apierrors.IsNotFound(err) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	return actual, true, nil
}

// Reconcile implements workflow.Reconcilable.
func (k *Kubernetes[P, R]) Reconcile(ctx context.Context, primary P) (workflow.ReconcileResult, error) {
	want, err := k.Desired(ctx, primary)
	if err != nil {
		return workflow.ReconcileResult{}, err
	}
	op, err := reconcileOne(ctx, k.store, k.matches, want)
	if err != nil {
		return workflow.ReconcileResult{}, fmt.Errorf("failed to reconcile %s: %w", k.name, err)
	}
	return workflow.SingleResult(want.GetName(), op), nil
}

// Delete implements workflow.Deletable.
func (k *Kubernetes[P, R]) Delete(ctx context.Context, primary P) error {
	actual, found, err := k.Get(ctx, primary)
	if err != nil || !found {
		return err
	}
	return deleteOne(ctx, k.store, actual)
}

func reconcileOne[R client.Object](ctx context.Context, s store.Store[R], matches Matcher[R], want R) (workflow.Operation, error) {
	id := resource.FromObject(want)
	actual, err := s.Get(ctx, id)
	if apierrors.IsNotFound(err) {
		if _, err := s.Create(ctx, want); err != nil {
			return "", err
		}
		logging.Debug("Dependent", "Created %T %s", want, id)
		return workflow.OperationCreated, nil
	}
	if err != nil {
		return "", err
	}

	if matches(actual, want) {
		return workflow.OperationUnchanged, nil
	}

	updated, err := store.CopySpec(actual, want)
	if err != nil {
		return "", err
	}
	if _, err := s.Update(ctx, updated); err != nil {
		return "", err
	}
	logging.Debug("Dependent", "Updated %T %s", want, id)
	return workflow.OperationUpdated, nil
}

func deleteOne[R client.Object](ctx context.Context, s store.Store[R], obj R) error {
	if err := s.Delete(ctx, obj); err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	logging.Debug("Dependent", "Deleted %T %s", obj, resource.FromObject(obj))
	return nil
}
