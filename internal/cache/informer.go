package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"converge/internal/resource"
	"converge/internal/store"
	"converge/pkg/logging"
)

// Handler receives cache changes. Calls are made from the informer goroutine
// after the cache has been updated, so handlers must not block for long.
type Handler[T client.Object] interface {
	OnAdd(obj T)
	OnUpdate(old, obj T)
	OnDelete(obj T)
}

// HandlerFuncs adapts plain functions to Handler. Nil functions are skipped.
type HandlerFuncs[T client.Object] struct {
	AddFunc    func(obj T)
	UpdateFunc func(old, obj T)
	DeleteFunc func(obj T)
}

// OnAdd implements Handler.
func (h HandlerFuncs[T]) OnAdd(obj T) {
	if h.AddFunc != nil {
		h.AddFunc(obj)
	}
}

// OnUpdate implements Handler.
func (h HandlerFuncs[T]) OnUpdate(old, obj T) {
	if h.UpdateFunc != nil {
		h.UpdateFunc(old, obj)
	}
}

// OnDelete implements Handler.
func (h HandlerFuncs[T]) OnDelete(obj T) {
	if h.DeleteFunc != nil {
		h.DeleteFunc(obj)
	}
}

// InformerOptions configures an Informer.
type InformerOptions struct {
	// Namespace restricts the informer to one namespace. Empty watches all.
	Namespace string

	// LabelSelector restricts the informer to matching resources.
	LabelSelector labels.Selector

	// Backoff paces relists after list or watch failures.
	Backoff wait.Backoff
}

// DefaultInformerBackoff is used when InformerOptions.Backoff is unset.
var DefaultInformerBackoff = wait.Backoff{
	Duration: 500 * time.Millisecond,
	Factor:   2.0,
	Jitter:   0.1,
	Steps:    10,
	Cap:      30 * time.Second,
}

// Informer keeps a Cache in sync with a store through list and watch, and
// notifies handlers of every change it applies.
type Informer[T client.Object] struct {
	name  string
	store store.Store[T]
	cache *Cache[T]
	opts  InformerOptions

	mu       sync.Mutex
	handlers []Handler[T]

	synced     chan struct{}
	syncedOnce sync.Once
}

// NewInformer creates an Informer feeding c from s.
func NewInformer[T client.Object](name string, s store.Store[T], c *Cache[T], opts InformerOptions) *Informer[T] {
	if opts.Backoff.Steps == 0 {
		opts.Backoff = DefaultInformerBackoff
	}
	return &Informer[T]{
		name:   name,
		store:  s,
		cache:  c,
		opts:   opts,
		synced: make(chan struct{}),
	}
}

// AddHandler registers h. Handlers added after Run started only see later changes.
func (i *Informer[T]) AddHandler(h Handler[T]) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.handlers = append(i.handlers, h)
}

// Cache returns the cache this informer feeds.
func (i *Informer[T]) Cache() *Cache[T] {
	return i.cache
}

// HasSynced reports whether the initial list has been applied.
func (i *Informer[T]) HasSynced() bool {
	select {
	case <-i.synced:
		return true
	default:
		return false
	}
}

// WaitForSync blocks until the initial list has been applied or ctx is done.
func (i *Informer[T]) WaitForSync(ctx context.Context) error {
	select {
	case <-i.synced:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("informer %s did not sync: %w", i.name, ctx.Err())
	}
}

// Run lists and watches until ctx is cancelled. A closed or failed watch
// triggers a relist, paced by the configured backoff.
func (i *Informer[T]) Run(ctx context.Context) error {
	logging.Info("Informer", "Starting informer %s", i.name)
	backoff := i.opts.Backoff

	for {
		err := i.listAndWatch(ctx)
		if ctx.Err() != nil {
			logging.Info("Informer", "Stopped informer %s", i.name)
			return nil
		}

		var delay time.Duration
		if err != nil {
			logging.Error("Informer", err, "List/watch of %s failed", i.name)
			delay = backoff.Step()
		} else {
			logging.Debug("Informer", "Watch of %s closed, relisting", i.name)
			backoff = i.opts.Backoff
		}

		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
		}
	}
}

func (i *Informer[T]) listAndWatch(ctx context.Context) error {
	opts := store.ListOptions{Namespace: i.opts.Namespace, LabelSelector: i.opts.LabelSelector}

	objs, version, err := i.store.List(ctx, opts)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}

	opts.ResourceVersion = version
	w, err := i.store.Watch(ctx, opts)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Stop()

	i.replace(objs)
	i.syncedOnce.Do(func() {
		logging.Info("Informer", "Informer %s synced with %d resources", i.name, len(objs))
		close(i.synced)
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.ResultChan():
			if !ok {
				return nil
			}
			if err := i.apply(ev); err != nil {
				return err
			}
		}
	}
}

// replace reconciles the cache with a full listing. Several informers
// restricted to different namespaces may share one cache, so only entries in
// this informer's namespace are considered gone.
func (i *Informer[T]) replace(objs []T) {
	seen := make(map[resource.ID]struct{}, len(objs))
	for _, obj := range objs {
		seen[resource.FromObject(obj)] = struct{}{}
		i.upsert(obj)
	}
	for _, id := range i.cache.keys() {
		if _, ok := seen[id]; ok {
			continue
		}
		if i.opts.Namespace != "" && id.Namespace != i.opts.Namespace {
			continue
		}
		if old, ok := i.cache.GetPrimary(id); ok {
			i.cache.remove(old)
			i.notify(func(h Handler[T]) { h.OnDelete(old) })
		}
	}
}

func (i *Informer[T]) apply(ev watch.Event) error {
	switch ev.Type {
	case watch.Added, watch.Modified:
		obj, ok := ev.Object.(T)
		if !ok {
			return fmt.Errorf("unexpected object type %T in watch of %s", ev.Object, i.name)
		}
		i.upsert(obj)
	case watch.Deleted:
		obj, ok := ev.Object.(T)
		if !ok {
			return fmt.Errorf("unexpected object type %T in watch of %s", ev.Object, i.name)
		}
		if old, existed := i.cache.GetPrimary(resource.FromObject(obj)); existed {
			i.cache.remove(old)
		}
		i.notify(func(h Handler[T]) { h.OnDelete(obj) })
	case watch.Bookmark:
	case watch.Error:
		if status, ok := ev.Object.(*metav1.Status); ok {
			return apierrors.FromObject(status)
		}
		return fmt.Errorf("watch of %s reported an error", i.name)
	}
	return nil
}

// upsert stores obj unless the cache already holds the same or a newer
// version, and notifies handlers of the change.
func (i *Informer[T]) upsert(obj T) {
	if current, ok := i.cache.GetPrimary(resource.FromObject(obj)); ok {
		cmp, comparable := i.cache.versions.Compare(current.GetResourceVersion(), obj.GetResourceVersion())
		if comparable && cmp >= 0 {
			return
		}
	}

	old, existed := i.cache.upsert(obj)
	if existed {
		i.notify(func(h Handler[T]) { h.OnUpdate(old, obj) })
	} else {
		i.notify(func(h Handler[T]) { h.OnAdd(obj) })
	}
}

func (i *Informer[T]) notify(call func(Handler[T])) {
	i.mu.Lock()
	handlers := make([]Handler[T], len(i.handlers))
	copy(handlers, i.handlers)
	i.mu.Unlock()

	for _, h := range handlers {
		call(h)
	}
}
