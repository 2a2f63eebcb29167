// Package reconciler defines the contract controller authors implement and
// the dispatcher that calls it.
//
// # User Contract
//
// A Reconciler receives the freshest known copy of its primary resource and
// returns an UpdateControl describing what to write back:
//
//	func (r *WebPageReconciler) Reconcile(ctx context.Context, page *v1alpha1.WebPage, rctx *reconciler.Context[*v1alpha1.WebPage]) (reconciler.UpdateControl[*v1alpha1.WebPage], error) {
//		page.Status.Ready = true
//		return reconciler.UpdateStatus(page), nil
//	}
//
// Reconcilers that hold external state implement Cleaner as well, which makes
// the controller manage a finalizer on every primary. Reconcilers that report
// failures in the resource status implement ErrorStatusHandler.
//
// # Dispatch
//
// For every execution scope handed over by the event processor the
// Dispatcher:
//
//  1. does nothing for a resource marked for deletion whose finalizer is gone
//  2. runs cleanup for a resource marked for deletion and removes the
//     finalizer once cleanup reports it is done
//  3. adds the finalizer to a resource that lacks it and returns without
//     calling the reconciler; the write produces the next event
//  4. otherwise runs the managed workflow, if any, then the reconciler, and
//     writes the resource and/or its status as requested
//
// Every write uses optimistic locking. Conflicts are retried locally with the
// latest version re-fetched and the change re-applied. Successful writes are
// put into the cache overlay so the next reconciliation sees them even if the
// watch has not delivered them yet.
//
// Errors and panics in user code are passed to the ErrorStatusHandler and then
// reported to the event processor, which applies the retry policy.
package reconciler
