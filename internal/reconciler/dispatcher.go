package reconciler

import (
	"context"
	"fmt"
	"runtime/debug"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"converge/internal/cache"
	"converge/internal/event"
	"converge/internal/resource"
	"converge/internal/retry"
	"converge/internal/store"
	"converge/internal/workflow"
	"converge/pkg/logging"
)

// ManagedWorkflow is a workflow run by the dispatcher around user logic.
// *workflow.Workflow implements it.
type ManagedWorkflow[T client.Object] interface {
	Reconcile(ctx context.Context, primary T) (*workflow.Result, error)
	Cleanup(ctx context.Context, primary T) (*workflow.Result, error)
	HasCleaner() bool
}

// Options configures a Dispatcher.
type Options[T client.Object] struct {
	// Name identifies the controller in logs.
	Name string

	// Finalizer is added to every primary when cleanup is needed. Empty
	// disables finalizer handling altogether.
	Finalizer string

	// Workflow runs before Reconcile and before Cleanup. Optional.
	Workflow ManagedWorkflow[T]

	// ConflictBackoff schedules local retries of conflicting writes.
	// Defaults to retry.ConflictBackoff.
	ConflictBackoff *wait.Backoff
}

// Dispatcher turns one execution scope into one call of user logic plus the
// finalizer and write protocol around it.
type Dispatcher[T client.Object] struct {
	name       string
	reconciler Reconciler[T]
	store      store.Store[T]
	cache      *cache.Cache[T]
	finalizer  string
	workflow   ManagedWorkflow[T]
	backoff    wait.Backoff
}

// NewDispatcher creates a Dispatcher for r writing through s and feeding its
// writes into c.
func NewDispatcher[T client.Object](r Reconciler[T], s store.Store[T], c *cache.Cache[T], opts Options[T]) *Dispatcher[T] {
	backoff := retry.ConflictBackoff
	if opts.ConflictBackoff != nil {
		backoff = *opts.ConflictBackoff
	}
	return &Dispatcher[T]{
		name:       opts.Name,
		reconciler: r,
		store:      s,
		cache:      c,
		finalizer:  opts.Finalizer,
		workflow:   opts.Workflow,
		backoff:    backoff,
	}
}

// UsesFinalizer reports whether primaries get a finalizer. That is the case
// when one is configured and there is cleanup to do, either in the
// reconciler or in the managed workflow.
func (d *Dispatcher[T]) UsesFinalizer() bool {
	if d.finalizer == "" {
		return false
	}
	if _, ok := d.reconciler.(Cleaner[T]); ok {
		return true
	}
	return d.workflow != nil && d.workflow.HasCleaner()
}

// Dispatch implements event.Dispatcher.
func (d *Dispatcher[T]) Dispatch(ctx context.Context, scope event.ExecutionScope[T]) event.PostExecutionControl[T] {
	obj := scope.Resource
	rctx := NewContext(scope.Retry, scope.ReconcileID, d.store, d.cache)
	useFinalizer := d.UsesFinalizer()

	if !obj.GetDeletionTimestamp().IsZero() {
		if !useFinalizer || !controllerutil.ContainsFinalizer(obj, d.finalizer) {
			logging.Debug("Dispatcher", "Skipping %s: marked for deletion and no finalizer to process", scope.ID)
			return event.DefaultControl[T]()
		}
		return d.handleCleanup(ctx, scope.ID, obj, rctx)
	}

	if useFinalizer && !controllerutil.ContainsFinalizer(obj, d.finalizer) {
		return d.addFinalizer(ctx, scope.ID, obj)
	}
	return d.handleReconcile(ctx, scope.ID, obj, rctx)
}

func (d *Dispatcher[T]) handleReconcile(ctx context.Context, id resource.ID, obj T, rctx *Context[T]) event.PostExecutionControl[T] {
	original := obj.DeepCopyObject().(T)

	if d.workflow != nil {
		result, err := d.workflow.Reconcile(ctx, obj)
		rctx.setWorkflowResult(result)
		if err != nil {
			return d.handleError(ctx, id, original, rctx, fmt.Errorf("workflow failed: %w", err))
		}
	}

	var ctrl UpdateControl[T]
	err := guard(func() (err error) {
		ctrl, err = d.reconciler.Reconcile(ctx, obj, rctx)
		return err
	})
	if err != nil {
		return d.handleError(ctx, id, original, rctx, err)
	}

	desired, ok := ctrl.Resource()
	if !ok {
		logging.Debug("Dispatcher", "Reconciled %s, nothing to write", id)
		return event.DefaultControl[T]().WithReschedule(ctrl.Reschedule())
	}

	logging.Debug("Dispatcher", "Reconciled %s, writing %s", id, ctrl.kind)
	previous := original.GetResourceVersion()
	var written T
	if ctrl.UpdatesResource() {
		written, err = d.updateResource(ctx, id, desired)
		if err != nil {
			return d.handleError(ctx, id, original, rctx, fmt.Errorf("failed to update %s: %w", id, err))
		}
		d.cache.PutWritten(written, previous)
		previous = written.GetResourceVersion()

		if ctrl.UpdatesStatus() {
			desired, err = store.CopyStatus(written, desired)
			if err != nil {
				return d.handleError(ctx, id, original, rctx, err)
			}
		}
	}
	if ctrl.UpdatesStatus() {
		written, err = d.updateStatus(ctx, id, desired)
		if err != nil {
			return d.handleError(ctx, id, original, rctx, fmt.Errorf("failed to update status of %s: %w", id, err))
		}
		d.cache.PutWritten(written, previous)
	}

	return event.ControlWithUpdate(written).WithReschedule(ctrl.Reschedule())
}

func (d *Dispatcher[T]) handleCleanup(ctx context.Context, id resource.ID, obj T, rctx *Context[T]) event.PostExecutionControl[T] {
	original := obj.DeepCopyObject().(T)

	var result *workflow.Result
	if d.workflow != nil {
		var err error
		result, err = d.workflow.Cleanup(ctx, obj)
		rctx.setWorkflowResult(result)
		if err != nil {
			return event.ControlWithError[T](fmt.Errorf("cleanup workflow failed: %w", err))
		}
	}

	var ctrl DeleteControl
	if cleaner, ok := d.reconciler.(Cleaner[T]); ok {
		err := guard(func() (err error) {
			ctrl, err = cleaner.Cleanup(ctx, obj, rctx)
			return err
		})
		if err != nil {
			return event.ControlWithError[T](err)
		}
	} else {
		switch {
		case result == nil || result.AllDeleted():
			ctrl = RemoveFinalizer()
		case result.HasErrors():
			return event.ControlWithError[T](fmt.Errorf("cleanup workflow failed: %w", result.AggregateError()))
		default:
			logging.Debug("Dispatcher", "Keeping finalizer of %s, dependents not yet deleted", id)
			ctrl = KeepFinalizer()
		}
	}

	if !ctrl.RemovesFinalizer() {
		return event.DefaultControl[T]().WithReschedule(ctrl.Reschedule())
	}
	return d.removeFinalizer(ctx, id, original)
}

// handleError routes a failure through the reconciler's error status handler,
// if it has one.
func (d *Dispatcher[T]) handleError(ctx context.Context, id resource.ID, obj T, rctx *Context[T], cause error) event.PostExecutionControl[T] {
	ctrl := event.ControlWithError[T](cause)

	handler, ok := d.reconciler.(ErrorStatusHandler[T])
	if !ok {
		return ctrl
	}

	var status ErrorStatusUpdateControl[T]
	err := guard(func() error {
		status = handler.UpdateErrorStatus(ctx, obj.DeepCopyObject().(T), rctx, cause)
		return nil
	})
	if err != nil {
		logging.Error("Dispatcher", err, "Error status handler of %s failed", id)
		return ctrl
	}

	if desired, ok := status.Resource(); ok {
		written, err := d.updateStatus(ctx, id, desired)
		if err != nil {
			logging.Error("Dispatcher", err, "Failed to write error status of %s", id)
		} else {
			d.cache.PutWritten(written, obj.GetResourceVersion())
			ctrl = ctrl.WithUpdate(written)
		}
	}
	if status.NoRetry() {
		ctrl.NoRetry = true
		ctrl.RescheduleAfter = status.Reschedule()
	}
	return ctrl
}

func (d *Dispatcher[T]) addFinalizer(ctx context.Context, id resource.ID, obj T) event.PostExecutionControl[T] {
	written, err := retry.OnConflict(ctx, d.backoff, obj,
		func(ctx context.Context) (T, error) { return d.store.Get(ctx, id) },
		func(obj T) bool { return controllerutil.AddFinalizer(obj, d.finalizer) },
		d.store.Update,
	)
	if err != nil {
		return event.ControlWithError[T](fmt.Errorf("failed to add finalizer %s to %s: %w", d.finalizer, id, err))
	}

	logging.Debug("Dispatcher", "Added finalizer %s to %s", d.finalizer, id)
	d.cache.PutWritten(written, obj.GetResourceVersion())
	return event.ControlFinalizerAdded(written)
}

func (d *Dispatcher[T]) removeFinalizer(ctx context.Context, id resource.ID, obj T) event.PostExecutionControl[T] {
	written, err := retry.OnConflict(ctx, d.backoff, obj,
		func(ctx context.Context) (T, error) { return d.store.Get(ctx, id) },
		func(obj T) bool { return controllerutil.RemoveFinalizer(obj, d.finalizer) },
		d.store.Update,
	)
	if apierrors.IsNotFound(err) {
		logging.Debug("Dispatcher", "%s already gone while removing finalizer", id)
		return event.ControlFinalizerRemoved(obj)
	}
	if err != nil {
		return event.ControlWithError[T](fmt.Errorf("failed to remove finalizer %s from %s: %w", d.finalizer, id, err))
	}

	// The resource is about to disappear; caching it would only resurrect it.
	logging.Debug("Dispatcher", "Removed finalizer %s from %s", d.finalizer, id)
	return event.ControlFinalizerRemoved(written)
}

// updateResource writes the spec and metadata of desired. After a conflict
// they are re-applied onto the latest version.
func (d *Dispatcher[T]) updateResource(ctx context.Context, id resource.ID, desired T) (T, error) {
	return retry.OnConflict(ctx, d.backoff, desired,
		func(ctx context.Context) (T, error) {
			latest, err := d.store.Get(ctx, id)
			if err != nil {
				return latest, err
			}
			return store.CopySpec(latest, desired)
		},
		func(T) bool { return true },
		d.store.Update,
	)
}

// updateStatus writes the status of desired. After a conflict it is
// re-applied onto the latest version.
func (d *Dispatcher[T]) updateStatus(ctx context.Context, id resource.ID, desired T) (T, error) {
	return retry.OnConflict(ctx, d.backoff, desired,
		func(ctx context.Context) (T, error) {
			latest, err := d.store.Get(ctx, id)
			if err != nil {
				return latest, err
			}
			return store.CopyStatus(latest, desired)
		},
		func(T) bool { return true },
		d.store.UpdateStatus,
	)
}

// guard runs user code and turns a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Debug("Dispatcher", "Recovered panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("panic in reconciler: %v", r)
		}
	}()
	return fn()
}
