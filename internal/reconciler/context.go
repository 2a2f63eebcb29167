package reconciler

import (
	"sync"

	"sigs.k8s.io/controller-runtime/pkg/client"

	"converge/internal/cache"
	"converge/internal/retry"
	"converge/internal/store"
	"converge/internal/workflow"
)

// Context carries everything a reconciliation may need besides the resource.
// A fresh Context is created for every attempt.
type Context[T client.Object] struct {
	retry       retry.Info
	reconcileID string
	store       store.Store[T]
	cache       *cache.Cache[T]

	mu     sync.RWMutex
	values map[string]any

	workflowResult *workflow.Result
}

// NewContext creates a Context. The dispatcher creates one per attempt; it is
// exported for tests of reconcilers.
func NewContext[T client.Object](info retry.Info, reconcileID string, s store.Store[T], c *cache.Cache[T]) *Context[T] {
	return &Context[T]{
		retry:       info,
		reconcileID: reconcileID,
		store:       s,
		cache:       c,
		values:      make(map[string]any),
	}
}

// RetryInfo describes the current attempt.
func (c *Context[T]) RetryInfo() retry.Info {
	return c.retry
}

// ReconcileID identifies this attempt in logs.
func (c *Context[T]) ReconcileID() string {
	return c.reconcileID
}

// Store gives access to the remote store of the primary resource.
func (c *Context[T]) Store() store.Store[T] {
	return c.store
}

// Cache gives access to the cached primary resources.
func (c *Context[T]) Cache() *cache.Cache[T] {
	return c.cache
}

// Put stores a value for the rest of the attempt.
func (c *Context[T]) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Get returns a value stored with Put.
func (c *Context[T]) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// WorkflowResult returns the result of the managed workflow that ran before
// Reconcile or Cleanup, if the controller has one.
func (c *Context[T]) WorkflowResult() (*workflow.Result, bool) {
	return c.workflowResult, c.workflowResult != nil
}

func (c *Context[T]) setWorkflowResult(r *workflow.Result) {
	c.workflowResult = r
}
