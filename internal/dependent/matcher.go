package dependent

import (
	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Matcher reports whether actual already has the desired state.
type Matcher[R client.Object] func(actual, desired R) bool

// DefaultMatcher compares everything except metadata and status, plus labels
// and annotations. Fields left unset in desired are ignored, so defaults
// filled in by the store do not count as drift.
func DefaultMatcher[R client.Object](actual, desired R) bool {
	a, err := runtime.DefaultUnstructuredConverter.ToUnstructured(actual)
	if err != nil {
		return false
	}
	d, err := runtime.DefaultUnstructuredConverter.ToUnstructured(desired)
	if err != nil {
		return false
	}

	if !equality.Semantic.DeepDerivative(desired.GetLabels(), actual.GetLabels()) ||
		!equality.Semantic.DeepDerivative(desired.GetAnnotations(), actual.GetAnnotations()) {
		return false
	}

	for _, m := range []map[string]interface{}{a, d} {
		delete(m, "metadata")
		delete(m, "status")
		delete(m, "apiVersion")
		delete(m, "kind")
	}
	return equality.Semantic.DeepDerivative(d, a)
}
