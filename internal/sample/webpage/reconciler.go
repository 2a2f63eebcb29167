package webpage

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/api/equality"

	"converge/internal/reconciler"
	"converge/pkg/apis/sample/v1alpha1"
	"converge/pkg/logging"
)

// NotReadyRequeue is how soon a WebPage whose deployment is not yet
// available is looked at again.
const NotReadyRequeue = 30 * time.Second

// Reconciler copies the outcome of the WebPage workflow into the status.
type Reconciler struct{}

var (
	_ reconciler.Reconciler[*v1alpha1.WebPage]         = Reconciler{}
	_ reconciler.ErrorStatusHandler[*v1alpha1.WebPage] = Reconciler{}
)

func (Reconciler) Reconcile(_ context.Context, page *v1alpha1.WebPage, rctx *reconciler.Context[*v1alpha1.WebPage]) (reconciler.UpdateControl[*v1alpha1.WebPage], error) {
	status := v1alpha1.WebPageStatus{
		HTMLConfigMap:      ConfigMapName(page),
		ObservedGeneration: page.Generation,
	}

	if result, ok := rctx.WorkflowResult(); ok {
		status.Ready = result.AllReady()
		if err := result.AggregateError(); err != nil {
			status.ErrorMessage = err.Error()
		}
		if _, ok := result.Node(NodeConfigMap); !ok {
			status.HTMLConfigMap = ""
		}
	}

	if equality.Semantic.DeepEqual(page.Status, status) {
		logging.Debug("WebPage", "Status of %s/%s is up to date", page.Namespace, page.Name)
		return requeueUnlessReady(reconciler.NoUpdate[*v1alpha1.WebPage](), status), nil
	}

	page.Status = status
	logging.Info("WebPage", "Updating status of %s/%s (ready=%t)", page.Namespace, page.Name, status.Ready)
	return requeueUnlessReady(reconciler.UpdateStatus(page), status), nil
}

func requeueUnlessReady(ctrl reconciler.UpdateControl[*v1alpha1.WebPage], status v1alpha1.WebPageStatus) reconciler.UpdateControl[*v1alpha1.WebPage] {
	if status.Ready {
		return ctrl
	}
	return ctrl.RescheduleAfter(NotReadyRequeue)
}

// UpdateErrorStatus records err in the status and leaves retrying to the
// controller's retry policy.
func (Reconciler) UpdateErrorStatus(_ context.Context, page *v1alpha1.WebPage, rctx *reconciler.Context[*v1alpha1.WebPage], err error) reconciler.ErrorStatusUpdateControl[*v1alpha1.WebPage] {
	if page.Status.ErrorMessage == err.Error() && !page.Status.Ready {
		return reconciler.DefaultErrorProcessing[*v1alpha1.WebPage]()
	}
	page.Status.Ready = false
	page.Status.ErrorMessage = err.Error()
	page.Status.ObservedGeneration = page.Generation

	logging.Warn("WebPage", "Reconciliation of %s/%s failed (attempt %d): %v",
		page.Namespace, page.Name, rctx.RetryInfo().Attempt, err)
	return reconciler.PatchStatus(page)
}
