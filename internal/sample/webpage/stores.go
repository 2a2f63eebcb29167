package webpage

import (
	"fmt"
	"path/filepath"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"converge/internal/store"
	"converge/pkg/apis/sample/v1alpha1"
)

// Stores holds the store of every resource type the controller touches.
type Stores struct {
	WebPages    store.Store[*v1alpha1.WebPage]
	ConfigMaps  store.Store[*corev1.ConfigMap]
	Deployments store.Store[*appsv1.Deployment]
	Services    store.Store[*corev1.Service]
}

// KubernetesStores returns stores backed by a Kubernetes API server.
func KubernetesStores(c client.WithWatch) Stores {
	return Stores{
		WebPages: store.NewKubernetesStore(c,
			func() *v1alpha1.WebPage { return &v1alpha1.WebPage{} },
			func() client.ObjectList { return &v1alpha1.WebPageList{} }),
		ConfigMaps: store.NewKubernetesStore(c,
			func() *corev1.ConfigMap { return &corev1.ConfigMap{} },
			func() client.ObjectList { return &corev1.ConfigMapList{} }),
		Deployments: store.NewKubernetesStore(c,
			func() *appsv1.Deployment { return &appsv1.Deployment{} },
			func() client.ObjectList { return &appsv1.DeploymentList{} }),
		Services: store.NewKubernetesStore(c,
			func() *corev1.Service { return &corev1.Service{} },
			func() client.ObjectList { return &corev1.ServiceList{} }),
	}
}

// FilesystemStores returns stores keeping YAML manifests below root, one
// directory per resource type.
func FilesystemStores(root string) (Stores, error) {
	webpages, err := store.NewFilesystemStore(filepath.Join(root, "webpages"),
		v1alpha1.GroupVersion.WithKind(v1alpha1.WebPageKind),
		func() *v1alpha1.WebPage { return &v1alpha1.WebPage{} })
	if err != nil {
		return Stores{}, fmt.Errorf("failed to create webpage store: %w", err)
	}
	configMaps, err := store.NewFilesystemStore(filepath.Join(root, "configmaps"),
		corev1.SchemeGroupVersion.WithKind("ConfigMap"),
		func() *corev1.ConfigMap { return &corev1.ConfigMap{} })
	if err != nil {
		return Stores{}, fmt.Errorf("failed to create configmap store: %w", err)
	}
	deployments, err := store.NewFilesystemStore(filepath.Join(root, "deployments"),
		appsv1.SchemeGroupVersion.WithKind("Deployment"),
		func() *appsv1.Deployment { return &appsv1.Deployment{} })
	if err != nil {
		return Stores{}, fmt.Errorf("failed to create deployment store: %w", err)
	}
	services, err := store.NewFilesystemStore(filepath.Join(root, "services"),
		corev1.SchemeGroupVersion.WithKind("Service"),
		func() *corev1.Service { return &corev1.Service{} })
	if err != nil {
		return Stores{}, fmt.Errorf("failed to create service store: %w", err)
	}
	return Stores{
		WebPages:    webpages,
		ConfigMaps:  configMaps,
		Deployments: deployments,
		Services:    services,
	}, nil
}
