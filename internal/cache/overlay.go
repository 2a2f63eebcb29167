package cache

import (
	"sync"

	"sigs.k8s.io/controller-runtime/pkg/client"

	"converge/internal/resource"
	"converge/pkg/logging"
)

type overlayEntry[T client.Object] struct {
	obj             T
	previousVersion string
}

// Overlay holds resources this process wrote until the watch delivers them.
type Overlay[T client.Object] struct {
	mu       sync.Mutex
	entries  map[resource.ID]overlayEntry[T]
	versions resource.VersionComparator
}

// NewOverlay creates an empty Overlay.
func NewOverlay[T client.Object](versions resource.VersionComparator) *Overlay[T] {
	if versions == nil {
		versions = resource.NumericVersions
	}
	return &Overlay[T]{
		entries:  make(map[resource.ID]overlayEntry[T]),
		versions: versions,
	}
}

// Put records obj, written over previousVersion. A put that is older than the
// entry already held is ignored.
func (o *Overlay[T]) Put(obj T, previousVersion string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := resource.FromObject(obj)
	if existing, ok := o.entries[id]; ok {
		cmp, comparable := o.versions.Compare(obj.GetResourceVersion(), existing.obj.GetResourceVersion())
		if comparable && cmp < 0 {
			logging.Debug("Cache", "Ignoring overlay write of %s at %s, already holding %s",
				id, obj.GetResourceVersion(), existing.obj.GetResourceVersion())
			return
		}
	}
	o.entries[id] = overlayEntry[T]{obj: obj, previousVersion: previousVersion}
}

// Get returns the overlay copy of id.
func (o *Overlay[T]) Get(id resource.ID) (T, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.entries[id]
	return entry.obj, ok
}

// Observe tells the overlay that the watch delivered obj. The entry for obj
// is dropped once the delivered version is at least the written one, or when
// the two cannot be compared. It reports whether an entry was dropped.
func (o *Overlay[T]) Observe(obj T) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := resource.FromObject(obj)
	entry, ok := o.entries[id]
	if !ok {
		return false
	}
	cmp, comparable := o.versions.Compare(obj.GetResourceVersion(), entry.obj.GetResourceVersion())
	if comparable && cmp < 0 {
		return false
	}
	delete(o.entries, id)
	return true
}

// Remove drops the entry for id.
func (o *Overlay[T]) Remove(id resource.ID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.entries, id)
}

// Len returns the number of entries.
func (o *Overlay[T]) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}
