package dependent

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"converge/internal/resource"
)

// OwnerMapper maps a secondary to the primary named in its controller owner
// reference, provided the owner is of the given kind.
func OwnerMapper[S client.Object](owner schema.GroupVersionKind) func(S) []resource.ID {
	return func(obj S) []resource.ID {
		ref := metav1.GetControllerOf(obj)
		if ref == nil || ref.Kind != owner.Kind {
			return nil
		}
		gv, err := schema.ParseGroupVersion(ref.APIVersion)
		if err != nil || gv.Group != owner.Group {
			return nil
		}
		return []resource.ID{resource.NewID(obj.GetNamespace(), ref.Name)}
	}
}

// LabelMapper maps a secondary created by a Bulk dependent to its primary.
func LabelMapper[S client.Object]() func(S) []resource.ID {
	return func(obj S) []resource.ID {
		name, ok := obj.GetLabels()[OwnerLabel]
		if !ok || name == "" {
			return nil
		}
		return []resource.ID{resource.NewID(obj.GetNamespace(), name)}
	}
}
