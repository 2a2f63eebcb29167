package v1alpha1

import (
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/scheme"
)

var (
	// GroupVersion is group version used to register these objects
	GroupVersion = schema.GroupVersion{Group: "sample.converge.io", Version: "v1alpha1"}

	// SchemeBuilder is used to add go types to the GroupVersionKind scheme
	SchemeBuilder = &scheme.Builder{GroupVersion: GroupVersion}

	// AddToScheme adds the types in this group-version to the given scheme
	AddToScheme = SchemeBuilder.AddToScheme

	// Scheme contains the core Kubernetes types and the types of this group
	Scheme = runtime.NewScheme()
)

// Types are registered here rather than in their own files so that they are
// known before Scheme is populated.
func init() {
	SchemeBuilder.Register(&WebPage{}, &WebPageList{})
	_ = clientgoscheme.AddToScheme(Scheme)
	_ = AddToScheme(Scheme)
}
