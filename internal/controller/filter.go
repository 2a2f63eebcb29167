package controller

import (
	"k8s.io/apimachinery/pkg/api/equality"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// generationChanged reports whether an update of a primary is worth a
// reconciliation when generation-aware filtering is on. Writes that only
// touch the status leave the generation alone and are dropped. Resources
// whose store does not track generations are never filtered.
func generationChanged(old, obj client.Object) bool {
	if old.GetGeneration() == 0 || obj.GetGeneration() == 0 {
		return true
	}
	if old.GetGeneration() != obj.GetGeneration() {
		return true
	}
	if !equality.Semantic.DeepEqual(old.GetFinalizers(), obj.GetFinalizers()) {
		return true
	}
	if old.GetDeletionTimestamp().IsZero() != obj.GetDeletionTimestamp().IsZero() {
		return true
	}
	return !equality.Semantic.DeepEqual(old.GetLabels(), obj.GetLabels()) ||
		!equality.Semantic.DeepEqual(old.GetAnnotations(), obj.GetAnnotations())
}
