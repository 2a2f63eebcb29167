package resource

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

// ID identifies a resource by name and optional namespace.
type ID struct {
	Name      string
	Namespace string
}

// NewID returns the ID for name in namespace.
func NewID(namespace, name string) ID {
	return ID{Name: name, Namespace: namespace}
}

// FromObject returns the ID of a Kubernetes-style object.
func FromObject(obj metav1.Object) ID {
	return ID{Name: obj.GetName(), Namespace: obj.GetNamespace()}
}

// FromNamespacedName converts a types.NamespacedName.
func FromNamespacedName(nn types.NamespacedName) ID {
	return ID{Name: nn.Name, Namespace: nn.Namespace}
}

// NamespacedName converts the ID for use with controller-runtime clients.
func (id ID) NamespacedName() types.NamespacedName {
	return types.NamespacedName{Name: id.Name, Namespace: id.Namespace}
}

// String renders the ID as namespace/name, or name for cluster scoped resources.
// The format matches the keys used by client-go cache indexers.
func (id ID) String() string {
	if id.Namespace != "" {
		return id.Namespace + "/" + id.Name
	}
	return id.Name
}
