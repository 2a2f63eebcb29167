package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"converge/internal/resource"
)

func newKubernetesDeploymentStore(objs ...client.Object) *KubernetesStore[*appsv1.Deployment] {
	c := fake.NewClientBuilder().
		WithObjects(objs...).
		WithStatusSubresource(&appsv1.Deployment{}).
		Build()
	return NewKubernetesStore(c,
		func() *appsv1.Deployment { return &appsv1.Deployment{} },
		func() client.ObjectList { return &appsv1.DeploymentList{} })
}

func TestKubernetesStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := newKubernetesDeploymentStore()
	id := resource.NewID("default", "web")

	desired := newDeployment("web", 2)
	created, err := s.Create(ctx, desired)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ResourceVersion)
	assert.Empty(t, desired.ResourceVersion, "input must not be mutated")

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int32(2), *got.Spec.Replicas)

	scaled := got.DeepCopy()
	scaled.Spec.Replicas = ptr.To(int32(4))
	updated, err := s.Update(ctx, scaled)
	require.NoError(t, err)
	assert.NotEqual(t, got.ResourceVersion, updated.ResourceVersion)

	_, err = s.Update(ctx, scaled)
	assert.True(t, apierrors.IsConflict(err))

	withStatus := updated.DeepCopy()
	withStatus.Status.AvailableReplicas = 4
	statusUpdated, err := s.UpdateStatus(ctx, withStatus)
	require.NoError(t, err)
	assert.Equal(t, int32(4), statusUpdated.Status.AvailableReplicas)

	require.NoError(t, s.Delete(ctx, statusUpdated))
	_, err = s.Get(ctx, id)
	assert.True(t, apierrors.IsNotFound(err))
}

func TestKubernetesStore_List(t *testing.T) {
	ctx := context.Background()
	other := newDeployment("web", 1)
	other.Namespace = "other"
	s := newKubernetesDeploymentStore(newDeployment("web", 1), newDeployment("db", 1), other)

	all, _, err := s.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	namespaced, _, err := s.List(ctx, ListOptions{Namespace: "default"})
	require.NoError(t, err)
	assert.Len(t, namespaced, 2)

	selected, _, err := s.List(ctx, ListOptions{LabelSelector: labels.SelectorFromSet(labels.Set{"app": "db"})})
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, "db", selected[0].Name)
}

func TestKubernetesStore_DeleteWithFinalizer(t *testing.T) {
	ctx := context.Background()
	obj := newDeployment("web", 1)
	obj.Finalizers = []string{"example.com/cleanup"}
	s := newKubernetesDeploymentStore(obj)
	id := resource.NewID("default", "web")

	current, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, current))

	marked, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, marked.DeletionTimestamp)

	marked.Finalizers = nil
	_, err = s.Update(ctx, marked)
	require.NoError(t, err)

	_, err = s.Get(ctx, id)
	assert.True(t, apierrors.IsNotFound(err))
}

func TestKubernetesStore_Watch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newKubernetesDeploymentStore()

	w, err := s.Watch(ctx, ListOptions{Namespace: "default"})
	require.NoError(t, err)
	defer w.Stop()

	_, err = s.Create(ctx, newDeployment("web", 1))
	require.NoError(t, err)

	ev := nextEvent(t, w)
	assert.Equal(t, watch.Added, ev.Type)
	assert.Equal(t, "web", ev.Object.(*appsv1.Deployment).Name)
}
