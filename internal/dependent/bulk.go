package dependent

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"converge/internal/store"
	"converge/internal/workflow"
)

const (
	// OwnerLabel carries the name of the primary on resources created by a Bulk dependent.
	OwnerLabel = "converge.io/owner"

	// DependentLabel carries the name of the Bulk dependent that created a resource.
	DependentLabel = "converge.io/dependent"
)

// DesiredSetFunc builds the resources a primary needs, keyed by a name that
// is stable across reconciliations.
type DesiredSetFunc[P, R client.Object] func(ctx context.Context, primary P) (map[string]R, error)

// Bulk keeps a set of secondary resources per primary. Resources it created
// are labelled with the primary and the dependent's name; labelled resources
// no longer in the desired set are deleted.
type Bulk[P, R client.Object] struct {
	name             string
	store            store.Store[R]
	scheme           *runtime.Scheme
	desired          DesiredSetFunc[P, R]
	matches          Matcher[R]
	garbageCollected bool
}

// NewBulk creates a bulk dependent named name.
func NewBulk[P, R client.Object](name string, s store.Store[R], scheme *runtime.Scheme, desired DesiredSetFunc[P, R]) *Bulk[P, R] {
	return &Bulk[P, R]{
		name:    name,
		store:   s,
		scheme:  scheme,
		desired: desired,
		matches: DefaultMatcher[R],
	}
}

// WithMatcher replaces DefaultMatcher.
func (b *Bulk[P, R]) WithMatcher(m Matcher[R]) *Bulk[P, R] {
	b.matches = m
	return b
}

// WithGarbageCollection marks the set as removed by the store once the
// primary is gone.
func (b *Bulk[P, R]) WithGarbageCollection(gc bool) *Bulk[P, R] {
	b.garbageCollected = gc
	return b
}

// Name returns the dependent's name.
func (b *Bulk[P, R]) Name() string {
	return b.name
}

// GarbageCollected implements workflow.GarbageCollected.
func (b *Bulk[P, R]) GarbageCollected() bool {
	return b.garbageCollected
}

// Selector matches the resources this dependent created for primary.
func (b *Bulk[P, R]) Selector(primary P) labels.Selector {
	return labels.SelectorFromSet(labels.Set{
		OwnerLabel:     primary.GetName(),
		DependentLabel: b.name,
	})
}

func (b *Bulk[P, R]) desiredSet(ctx context.Context, primary P) (map[string]R, error) {
	set, err := b.desired(ctx, primary)
	if err != nil {
		return nil, fmt.Errorf("failed to build desired %s: %w", b.name, err)
	}
	for key, want := range set {
		if want.GetNamespace() == "" {
			want.SetNamespace(primary.GetNamespace())
		}
		lbls := want.GetLabels()
		if lbls == nil {
			lbls = make(map[string]string, 2)
		}
		lbls[OwnerLabel] = primary.GetName()
		lbls[DependentLabel] = b.name
		want.SetLabels(lbls)
		if err := controllerutil.SetControllerReference(primary, want, b.scheme); err != nil {
			return nil, fmt.Errorf("failed to set owner of %s %s: %w", b.name, key, err)
		}
	}
	return set, nil
}

// Actual lists the resources this dependent created for primary.
func (b *Bulk[P, R]) Actual(ctx context.Context, primary P) ([]R, error) {
	items, _, err := b.store.List(ctx, store.ListOptions{
		Namespace:     primary.GetNamespace(),
		LabelSelector: b.Selector(primary),
	})
	return items, err
}

// Reconcile implements workflow.Reconcilable. Every resource is attempted;
// failures are joined.
func (b *Bulk[P, R]) Reconcile(ctx context.Context, primary P) (workflow.ReconcileResult, error) {
	set, err := b.desiredSet(ctx, primary)
	if err != nil {
		return workflow.ReconcileResult{}, err
	}

	result := workflow.ReconcileResult{Operations: make(map[string]workflow.Operation, len(set))}
	keep := make(map[string]struct{}, len(set))
	var errs []error

	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		want := set[key]
		keep[want.GetName()] = struct{}{}
		op, err := reconcileOne(ctx, b.store, b.matches, want)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		result.Operations[want.GetName()] = op
	}

	actual, err := b.Actual(ctx, primary)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to list %s: %w", b.name, err))
	}
	for _, obj := range actual {
		if _, ok := keep[obj.GetName()]; ok {
			continue
		}
		if err := deleteOne(ctx, b.store, obj); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", obj.GetName(), err))
			continue
		}
		result.Operations[obj.GetName()] = workflow.OperationDeleted
	}

	if len(errs) > 0 {
		return result, fmt.Errorf("failed to reconcile %s: %w", b.name, errors.Join(errs...))
	}
	return result, nil
}

// Delete implements workflow.Deletable.
func (b *Bulk[P, R]) Delete(ctx context.Context, primary P) error {
	actual, err := b.Actual(ctx, primary)
	if err != nil {
		return err
	}
	var errs []error
	for _, obj := range actual {
		if err := deleteOne(ctx, b.store, obj); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
