package controller

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/labels"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"converge/internal/cache"
	"converge/internal/event"
	"converge/internal/executor"
	"converge/internal/reconciler"
	"converge/internal/resource"
	"converge/internal/retry"
	"converge/internal/store"
	"converge/pkg/logging"
)

const (
	// DisabledFinalizer turns finalizer handling off when used as Options.Finalizer.
	DisabledFinalizer = "-"

	// DefaultMaxReconciliationInterval triggers a reconciliation of every
	// resource that has been quiet for that long.
	DefaultMaxReconciliationInterval = 10 * time.Hour
)

// DefaultFinalizer returns the finalizer used for a controller named name
// when none is configured.
func DefaultFinalizer(name string) string {
	return name + ".converge.io/finalizer"
}

// Options configures a Controller.
type Options[T client.Object] struct {
	// Finalizer defaults to DefaultFinalizer. DisabledFinalizer turns
	// finalizer handling off.
	Finalizer string

	// Namespaces restricts the primary watch. Empty watches all namespaces.
	Namespaces []string

	// LabelSelector restricts the primary watch.
	LabelSelector labels.Selector

	// Retry is applied to failed reconciliations. Nil disables retries.
	Retry *retry.Policy

	RateLimit event.RateLimit

	MaxReconciliationInterval time.Duration

	CacheSyncTimeout time.Duration

	// Versions compares resourceVersions. Defaults to resource.NumericVersions.
	Versions resource.VersionComparator

	// GenerationAware drops primary updates that did not change the generation.
	GenerationAware bool

	// Workflow runs the primary's dependents around the reconciler. Optional.
	Workflow reconciler.ManagedWorkflow[T]

	// Metrics receives processor notifications. Optional.
	Metrics event.Metrics
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions[T client.Object]() Options[T] {
	policy := retry.DefaultPolicy()
	return Options[T]{
		Retry:                     &policy,
		MaxReconciliationInterval: DefaultMaxReconciliationInterval,
		GenerationAware:           true,
	}
}

// watcher is an informer of any type started alongside the controller.
type watcher interface {
	Run(ctx context.Context) error
	WaitForSync(ctx context.Context) error
}

// Controller wires a store, its informers, the resource cache, the event
// processor and the dispatcher for one primary resource type.
type Controller[T client.Object] struct {
	name       string
	opts       Options[T]
	cache      *cache.Cache[T]
	informers  []*cache.Informer[T]
	secondary  []watcher
	processor  *event.Processor[T]
	dispatcher *reconciler.Dispatcher[T]
	status     *statusTracker
}

// New creates a Controller reconciling the resources in s with r.
// Reconciliations run on exec.
func New[T client.Object](name string, s store.Store[T], r reconciler.Reconciler[T], exec executor.Executor, opts Options[T]) (*Controller[T], error) {
	if name == "" {
		return nil, fmt.Errorf("controller name must not be empty")
	}
	if opts.Retry != nil {
		if err := opts.Retry.Validate(); err != nil {
			return nil, fmt.Errorf("invalid retry policy for controller %s: %w", name, err)
		}
	}
	if opts.Versions == nil {
		opts.Versions = resource.NumericVersions
	}

	finalizer := opts.Finalizer
	switch finalizer {
	case "":
		finalizer = DefaultFinalizer(name)
	case DisabledFinalizer:
		finalizer = ""
	}

	c := &Controller[T]{
		name:   name,
		opts:   opts,
		cache:  cache.New[T](opts.Versions),
		status: newStatusTracker(opts.Metrics),
	}

	c.dispatcher = reconciler.NewDispatcher(r, s, c.cache, reconciler.Options[T]{
		Name:      name,
		Finalizer: finalizer,
		Workflow:  opts.Workflow,
	})
	c.processor = event.NewProcessor[T](c.cache, c.dispatcher, exec, event.Options{
		Name:                      name,
		Retry:                     opts.Retry,
		RateLimit:                 opts.RateLimit,
		MaxReconciliationInterval: opts.MaxReconciliationInterval,
		CacheSyncTimeout:          opts.CacheSyncTimeout,
		Versions:                  opts.Versions,
		Metrics:                   c.status,
	})

	namespaces := opts.Namespaces
	if len(namespaces) == 0 {
		namespaces = []string{""}
	}
	for _, ns := range namespaces {
		informer := cache.NewInformer(informerName(name, ns), s, c.cache, cache.InformerOptions{
			Namespace:     ns,
			LabelSelector: opts.LabelSelector,
		})
		informer.AddHandler(cache.HandlerFuncs[T]{
			AddFunc:    c.onAdd,
			UpdateFunc: c.onUpdate,
			DeleteFunc: c.onDelete,
		})
		c.informers = append(c.informers, informer)
	}

	logging.Info("Controller", "Created controller %s (finalizer %q, namespaces %v)", name, finalizer, opts.Namespaces)
	return c, nil
}

func informerName(controller, namespace string) string {
	if namespace == "" {
		return controller
	}
	return controller + "/" + namespace
}

func (c *Controller[T]) onAdd(obj T) {
	c.processor.HandleEvent(resource.NewEvent(resource.Added, obj))
}

func (c *Controller[T]) onUpdate(old, obj T) {
	if c.opts.GenerationAware && !generationChanged(old, obj) && !c.processor.AwaitingWatch(resource.FromObject(obj)) {
		logging.Debug("Controller", "Ignoring update of %s without generation change", resource.FromObject(obj))
		return
	}
	c.processor.HandleEvent(resource.NewEvent(resource.Updated, obj))
}

func (c *Controller[T]) onDelete(obj T) {
	c.processor.HandleEvent(resource.NewEvent(resource.Deleted, obj))
}

// Name returns the controller's name.
func (c *Controller[T]) Name() string {
	return c.name
}

// Cache returns the cache of primary resources.
func (c *Controller[T]) Cache() *cache.Cache[T] {
	return c.cache
}

// UsesFinalizer reports whether primaries get a finalizer.
func (c *Controller[T]) UsesFinalizer() bool {
	return c.dispatcher.UsesFinalizer()
}

// Trigger requests a reconciliation of id, as if a related resource changed.
func (c *Controller[T]) Trigger(id resource.ID) {
	c.processor.HandleEvent(resource.Trigger(id))
}

// Status returns the reconciliation status of id.
func (c *Controller[T]) Status(id resource.ID) (ReconcileStatus, bool) {
	return c.status.get(id)
}

// Statuses returns the reconciliation status of every known resource, sorted by ID.
func (c *Controller[T]) Statuses() []ReconcileStatus {
	return c.status.all()
}

// WatchSecondary watches the resources in s and triggers a reconciliation of
// every primary mapper returns for a changed secondary. The returned informer
// exposes the secondary cache. It must be called before the controller starts.
func WatchSecondary[T, S client.Object](c *Controller[T], name string, s store.Store[S], opts cache.InformerOptions, mapper func(S) []resource.ID) *cache.Informer[S] {
	informer := cache.NewInformer(c.name+"/"+name, s, cache.New[S](c.opts.Versions), opts)
	trigger := func(obj S) {
		for _, id := range mapper(obj) {
			c.processor.HandleEvent(resource.Trigger(id))
		}
	}
	informer.AddHandler(cache.HandlerFuncs[S]{
		AddFunc:    trigger,
		UpdateFunc: func(_, obj S) { trigger(obj) },
		DeleteFunc: trigger,
	})
	c.secondary = append(c.secondary, informer)
	return informer
}

// Start runs the informers and, once they have synced, the event processor.
// It blocks until ctx is cancelled or an informer fails.
func (c *Controller[T]) Start(ctx context.Context) error {
	logging.Info("Controller", "Starting controller %s", c.name)
	g, gctx := errgroup.WithContext(ctx)

	for _, informer := range c.informers {
		g.Go(func() error { return informer.Run(gctx) })
	}
	for _, informer := range c.secondary {
		g.Go(func() error { return informer.Run(gctx) })
	}

	g.Go(func() error {
		if err := c.WaitForSync(gctx); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return err
		}
		c.processor.Start(gctx)
		<-gctx.Done()
		c.processor.Stop()
		return nil
	})

	err := g.Wait()
	logging.Info("Controller", "Stopped controller %s", c.name)
	return err
}

// WaitForSync blocks until every informer of the controller has synced.
func (c *Controller[T]) WaitForSync(ctx context.Context) error {
	for _, informer := range c.informers {
		if err := informer.WaitForSync(ctx); err != nil {
			return err
		}
	}
	for _, informer := range c.secondary {
		if err := informer.WaitForSync(ctx); err != nil {
			return err
		}
	}
	return nil
}
