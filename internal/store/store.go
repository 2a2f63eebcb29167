// Package store defines the remote store contract the runtime reconciles
// against and provides two implementations: a Kubernetes API server reached
// through controller-runtime, and a directory of YAML manifests.
package store

import (
	"context"

	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"converge/internal/resource"
)

// ListOptions narrows List and Watch calls.
type ListOptions struct {
	// Namespace limits results to one namespace. Empty means all namespaces.
	Namespace string

	// LabelSelector filters by labels. Nil means everything.
	LabelSelector labels.Selector

	// ResourceVersion is where a watch starts.
	ResourceVersion string
}

// Store is the remote source of truth for one resource type.
//
// Update and UpdateStatus use optimistic locking: the object must carry the
// resourceVersion it was read at, and the store rejects the write with a
// conflict if it changed since. Update ignores status; UpdateStatus ignores
// everything but status.
type Store[T client.Object] interface {
	Get(ctx context.Context, id resource.ID) (T, error)
	List(ctx context.Context, opts ListOptions) ([]T, string, error)
	Create(ctx context.Context, obj T) (T, error)
	Update(ctx context.Context, obj T) (T, error)
	UpdateStatus(ctx context.Context, obj T) (T, error)
	Delete(ctx context.Context, obj T) error
	Watch(ctx context.Context, opts ListOptions) (watch.Interface, error)
}
