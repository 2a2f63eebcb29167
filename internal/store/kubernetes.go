package store

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"converge/internal/resource"
)

// KubernetesStore reads and writes resources through a controller-runtime client.
type KubernetesStore[T client.Object] struct {
	client  client.WithWatch
	newObj  func() T
	newList func() client.ObjectList
}

// NewKubernetesStore creates a store for the type produced by newObj, listed
// with the list type produced by newList.
func NewKubernetesStore[T client.Object](c client.WithWatch, newObj func() T, newList func() client.ObjectList) *KubernetesStore[T] {
	return &KubernetesStore[T]{client: c, newObj: newObj, newList: newList}
}

// Get implements Store.
func (s *KubernetesStore[T]) Get(ctx context.Context, id resource.ID) (T, error) {
	obj := s.newObj()
	if err := s.client.Get(ctx, id.NamespacedName(), obj); err != nil {
		var zero T
		return zero, err
	}
	return obj, nil
}

// List implements Store.
func (s *KubernetesStore[T]) List(ctx context.Context, opts ListOptions) ([]T, string, error) {
	list := s.newList()
	if err := s.client.List(ctx, list, toListOptions(opts)); err != nil {
		return nil, "", err
	}

	items, err := meta.ExtractList(list)
	if err != nil {
		return nil, "", fmt.Errorf("failed to extract list items: %w", err)
	}
	result := make([]T, 0, len(items))
	for _, item := range items {
		obj, ok := item.(T)
		if !ok {
			return nil, "", fmt.Errorf("unexpected list item type %T", item)
		}
		result = append(result, obj)
	}
	return result, list.GetResourceVersion(), nil
}

// Create implements Store.
func (s *KubernetesStore[T]) Create(ctx context.Context, obj T) (T, error) {
	out := obj.DeepCopyObject().(T)
	if err := s.client.Create(ctx, out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Update implements Store.
func (s *KubernetesStore[T]) Update(ctx context.Context, obj T) (T, error) {
	out := obj.DeepCopyObject().(T)
	if err := s.client.Update(ctx, out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// UpdateStatus implements Store.
func (s *KubernetesStore[T]) UpdateStatus(ctx context.Context, obj T) (T, error) {
	out := obj.DeepCopyObject().(T)
	if err := s.client.Status().Update(ctx, out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Delete implements Store.
func (s *KubernetesStore[T]) Delete(ctx context.Context, obj T) error {
	return s.client.Delete(ctx, obj)
}

// Watch implements Store.
func (s *KubernetesStore[T]) Watch(ctx context.Context, opts ListOptions) (watch.Interface, error) {
	listOpts := toListOptions(opts)
	listOpts.Raw = &metav1.ListOptions{
		ResourceVersion:     opts.ResourceVersion,
		AllowWatchBookmarks: true,
	}
	return s.client.Watch(ctx, s.newList(), listOpts)
}

func toListOptions(opts ListOptions) *client.ListOptions {
	return &client.ListOptions{
		Namespace:     opts.Namespace,
		LabelSelector: opts.LabelSelector,
	}
}
