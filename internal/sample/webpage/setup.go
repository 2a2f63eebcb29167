package webpage

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"

	"converge/internal/cache"
	"converge/internal/config"
	"converge/internal/controller"
	"converge/internal/dependent"
	"converge/internal/event"
	"converge/pkg/apis/sample/v1alpha1"
)

// ControllerName is the name the WebPage controller is registered under.
const ControllerName = "webpages"

// Options configures Setup.
type Options struct {
	Stores Stores

	// Config holds the controller's settings from config.yaml.
	Config config.ControllerConfig

	// GarbageCollected is true when the store deletes owned resources, as
	// Kubernetes does.
	GarbageCollected bool

	Metrics event.Metrics
}

// Setup creates the WebPage controller and registers it with m.
func Setup(m *controller.Manager, opts Options) (*controller.Controller[*v1alpha1.WebPage], error) {
	wf, err := NewWorkflow(opts.Stores, WorkflowOptions{
		GarbageCollected: opts.GarbageCollected,
		ThrowErrors:      opts.Config.ThrowWorkflowErrors == nil || *opts.Config.ThrowWorkflowErrors,
		Executor:         m.WorkflowExecutor(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build webpage workflow: %w", err)
	}

	copts, err := config.ControllerOptions[*v1alpha1.WebPage](opts.Config)
	if err != nil {
		return nil, err
	}
	copts.Workflow = wf
	copts.Metrics = opts.Metrics

	c, err := controller.New(ControllerName, opts.Stores.WebPages, Reconciler{}, m.ReconcileExecutor(), copts)
	if err != nil {
		return nil, err
	}

	gvk := v1alpha1.GroupVersion.WithKind(v1alpha1.WebPageKind)
	watch := secondaryOptions(copts.Namespaces)
	controller.WatchSecondary(c, "configmaps", opts.Stores.ConfigMaps, watch, dependent.OwnerMapper[*corev1.ConfigMap](gvk))
	controller.WatchSecondary(c, "deployments", opts.Stores.Deployments, watch, dependent.OwnerMapper[*appsv1.Deployment](gvk))
	controller.WatchSecondary(c, "services", opts.Stores.Services, watch, dependent.OwnerMapper[*corev1.Service](gvk))

	if err := m.Add(c); err != nil {
		return nil, err
	}
	return c, nil
}

// secondaryOptions watches a single namespace when the primary watch is
// restricted to exactly one. Otherwise every namespace is watched and the
// mapper sorts things out.
func secondaryOptions(namespaces []string) cache.InformerOptions {
	if len(namespaces) == 1 {
		return cache.InformerOptions{Namespace: namespaces[0]}
	}
	return cache.InformerOptions{}
}
