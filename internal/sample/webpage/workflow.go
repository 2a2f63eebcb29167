package webpage

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	"converge/internal/dependent"
	"converge/internal/executor"
	"converge/internal/template"
	"converge/internal/workflow"
	"converge/pkg/apis/sample/v1alpha1"
)

const (
	NodeConfigMap  = "configmap"
	NodeDeployment = "deployment"
	NodeService    = "service"

	// HTMLKey is the ConfigMap key holding the rendered page.
	HTMLKey = "index.html"

	// Image serves the page.
	Image = "nginx:1.27-alpine"

	exposedCondition = "has(self.spec.exposed) && self.spec.exposed"
)

// WorkflowOptions configures NewWorkflow.
type WorkflowOptions struct {
	// GarbageCollected declares that the store removes the secondaries of a
	// deleted WebPage through owner references. When false the workflow
	// deletes them itself and the controller needs a finalizer.
	GarbageCollected bool

	ThrowErrors bool

	// Executor runs node operations. Nil runs them on goroutines.
	Executor executor.Executor

	TracerProvider trace.TracerProvider
}

// NewWorkflow builds the WebPage workflow over stores.
func NewWorkflow(stores Stores, opts WorkflowOptions) (*workflow.Workflow[*v1alpha1.WebPage], error) {
	engine := template.New()

	configMap := dependent.NewKubernetes(NodeConfigMap, stores.ConfigMaps, v1alpha1.Scheme,
		func(_ context.Context, page *v1alpha1.WebPage) (*corev1.ConfigMap, error) {
			return desiredConfigMap(engine, page)
		}).WithGarbageCollection(opts.GarbageCollected)

	deployment := dependent.NewKubernetes(NodeDeployment, stores.Deployments, v1alpha1.Scheme,
		func(_ context.Context, page *v1alpha1.WebPage) (*appsv1.Deployment, error) {
			return desiredDeployment(page), nil
		}).WithGarbageCollection(opts.GarbageCollected)

	service := dependent.NewKubernetes(NodeService, stores.Services, v1alpha1.Scheme,
		func(_ context.Context, page *v1alpha1.WebPage) (*corev1.Service, error) {
			return desiredService(page), nil
		}).WithGarbageCollection(opts.GarbageCollected)

	b := workflow.NewBuilder[*v1alpha1.WebPage]().
		AddNode(NodeConfigMap, configMap).
		AddNode(NodeDeployment, deployment).
		DependsOn(NodeConfigMap).
		WithReadyPostcondition(deploymentAvailable(deployment)).
		AddNode(NodeService, service).
		DependsOn(NodeDeployment).
		WithActivation(workflow.MustCELCondition[*v1alpha1.WebPage](exposedCondition)).
		WithThrowErrors(opts.ThrowErrors)

	if opts.Executor != nil {
		b = b.WithExecutor(opts.Executor)
	}
	if opts.TracerProvider != nil {
		b = b.WithTracerProvider(opts.TracerProvider)
	}
	return b.Build()
}

// deploymentAvailable holds once the deployment has an available replica.
func deploymentAvailable(d *dependent.Kubernetes[*v1alpha1.WebPage, *appsv1.Deployment]) workflow.Condition[*v1alpha1.WebPage] {
	return func(ctx context.Context, page *v1alpha1.WebPage) (bool, error) {
		actual, found, err := d.Get(ctx, page)
		if err != nil || !found {
			return false, err
		}
		return actual.Status.AvailableReplicas >= 1, nil
	}
}

func labelsFor(page *v1alpha1.WebPage) map[string]string {
	return map[string]string{
		"app.kubernetes.io/name":       "webpage",
		"app.kubernetes.io/instance":   page.Name,
		"app.kubernetes.io/managed-by": "converge",
	}
}

func selectorFor(page *v1alpha1.WebPage) map[string]string {
	return map[string]string{"app.kubernetes.io/instance": page.Name}
}

// ConfigMapName returns the name of the ConfigMap holding the page of page.
func ConfigMapName(page *v1alpha1.WebPage) string {
	return page.Name + "-html"
}

func desiredConfigMap(engine *template.Engine, page *v1alpha1.WebPage) (*corev1.ConfigMap, error) {
	data, err := template.ObjectContext(page)
	if err != nil {
		return nil, err
	}
	html, err := engine.Render(page.Spec.HTML, data)
	if err != nil {
		return nil, fmt.Errorf("failed to render html: %w", err)
	}
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ConfigMapName(page),
			Namespace: page.Namespace,
			Labels:    labelsFor(page),
		},
		Data: map[string]string{HTMLKey: html},
	}, nil
}

func desiredDeployment(page *v1alpha1.WebPage) *appsv1.Deployment {
	replicas := ptr.Deref(page.Spec.Replicas, 1)
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      page.Name,
			Namespace: page.Namespace,
			Labels:    labelsFor(page),
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(replicas),
			Selector: &metav1.LabelSelector{MatchLabels: selectorFor(page)},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labelsFor(page)},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  "nginx",
						Image: Image,
						Ports: []corev1.ContainerPort{{Name: "http", ContainerPort: 80}},
						VolumeMounts: []corev1.VolumeMount{{
							Name:      "html",
							MountPath: "/usr/share/nginx/html",
							ReadOnly:  true,
						}},
					}},
					Volumes: []corev1.Volume{{
						Name: "html",
						VolumeSource: corev1.VolumeSource{
							ConfigMap: &corev1.ConfigMapVolumeSource{
								LocalObjectReference: corev1.LocalObjectReference{Name: ConfigMapName(page)},
							},
						},
					}},
				},
			},
		},
	}
}

func desiredService(page *v1alpha1.WebPage) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      page.Name,
			Namespace: page.Namespace,
			Labels:    labelsFor(page),
		},
		Spec: corev1.ServiceSpec{
			Selector: selectorFor(page),
			Ports: []corev1.ServicePort{{
				Name:       "http",
				Port:       80,
				TargetPort: intstr.FromString("http"),
			}},
		},
	}
}
