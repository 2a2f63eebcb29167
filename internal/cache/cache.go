// Package cache keeps the last observed state of watched resources and masks
// the lag between a write and the watch delivering it.
package cache

import (
	"k8s.io/apimachinery/pkg/labels"
	toolscache "k8s.io/client-go/tools/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"converge/internal/resource"
	"converge/pkg/logging"
)

// Cache is a watch-fed resource cache with a temporal overlay in front.
type Cache[T client.Object] struct {
	indexer  toolscache.Indexer
	overlay  *Overlay[T]
	versions resource.VersionComparator
}

// New creates an empty Cache.
func New[T client.Object](versions resource.VersionComparator) *Cache[T] {
	if versions == nil {
		versions = resource.NumericVersions
	}
	return &Cache[T]{
		indexer: toolscache.NewIndexer(toolscache.MetaNamespaceKeyFunc, toolscache.Indexers{
			toolscache.NamespaceIndex: toolscache.MetaNamespaceIndexFunc,
		}),
		overlay:  NewOverlay[T](versions),
		versions: versions,
	}
}

// Get returns the overlay copy of id if one exists, otherwise the watched copy.
func (c *Cache[T]) Get(id resource.ID) (T, bool) {
	if obj, ok := c.overlay.Get(id); ok {
		return obj, true
	}
	return c.GetPrimary(id)
}

// GetPrimary returns the copy delivered by the watch, ignoring the overlay.
func (c *Cache[T]) GetPrimary(id resource.ID) (T, bool) {
	var zero T
	item, exists, err := c.indexer.GetByKey(id.String())
	if err != nil || !exists {
		return zero, false
	}
	obj, ok := item.(T)
	return obj, ok
}

// PrimaryVersion returns the resourceVersion delivered by the watch for id.
func (c *Cache[T]) PrimaryVersion(id resource.ID) (string, bool) {
	obj, ok := c.GetPrimary(id)
	if !ok {
		return "", false
	}
	return obj.GetResourceVersion(), true
}

// List returns the resources in namespace (all namespaces when empty) that
// match selector (everything when nil). Overlay copies replace watched ones.
func (c *Cache[T]) List(namespace string, selector labels.Selector) []T {
	var items []interface{}
	if namespace == "" {
		items = c.indexer.List()
	} else {
		var err error
		items, err = c.indexer.ByIndex(toolscache.NamespaceIndex, namespace)
		if err != nil {
			logging.Error("Cache", err, "Failed to list namespace %s", namespace)
			return nil
		}
	}

	result := make([]T, 0, len(items))
	for _, item := range items {
		obj, ok := item.(T)
		if !ok {
			continue
		}
		if fresher, ok := c.overlay.Get(resource.FromObject(obj)); ok {
			obj = fresher
		}
		if selector != nil && !selector.Matches(labels.Set(obj.GetLabels())) {
			continue
		}
		result = append(result, obj)
	}
	return result
}

// PutWritten records a resource this process just wrote over previousVersion.
// It is skipped when the watch already delivered something newer.
func (c *Cache[T]) PutWritten(obj T, previousVersion string) {
	if current, ok := c.PrimaryVersion(resource.FromObject(obj)); ok {
		if cmp, comparable := c.versions.Compare(current, obj.GetResourceVersion()); comparable && cmp >= 0 {
			return
		}
	}
	c.overlay.Put(obj, previousVersion)
}

// Overlay exposes the temporal overlay.
func (c *Cache[T]) Overlay() *Overlay[T] {
	return c.overlay
}

// upsert stores obj as delivered by the watch and returns the previous copy.
func (c *Cache[T]) upsert(obj T) (T, bool) {
	old, existed := c.GetPrimary(resource.FromObject(obj))
	var err error
	if existed {
		err = c.indexer.Update(obj)
	} else {
		err = c.indexer.Add(obj)
	}
	if err != nil {
		logging.Error("Cache", err, "Failed to store %s", resource.FromObject(obj))
	}
	c.overlay.Observe(obj)
	return old, existed
}

// remove forgets obj.
func (c *Cache[T]) remove(obj T) {
	if err := c.indexer.Delete(obj); err != nil {
		logging.Error("Cache", err, "Failed to delete %s", resource.FromObject(obj))
	}
	c.overlay.Remove(resource.FromObject(obj))
}

// keys returns the IDs currently held by the watched cache.
func (c *Cache[T]) keys() []resource.ID {
	keys := c.indexer.ListKeys()
	ids := make([]resource.ID, 0, len(keys))
	for _, key := range keys {
		namespace, name, err := toolscache.SplitMetaNamespaceKey(key)
		if err != nil {
			continue
		}
		ids = append(ids, resource.NewID(namespace, name))
	}
	return ids
}
