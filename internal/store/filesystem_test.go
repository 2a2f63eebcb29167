package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/utils/ptr"

	"converge/internal/resource"
)

func newDeploymentStore(t *testing.T, root string) *FilesystemStore[*appsv1.Deployment] {
	t.Helper()
	s, err := NewFilesystemStore(root, appsv1.SchemeGroupVersion.WithKind("Deployment"),
		func() *appsv1.Deployment { return &appsv1.Deployment{} })
	require.NoError(t, err)
	return s
}

func newDeployment(name string, replicas int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "default",
			Labels:    map[string]string{"app": name},
		},
		Spec: appsv1.DeploymentSpec{Replicas: ptr.To(replicas)},
	}
}

func TestFilesystemStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := newDeploymentStore(t, root)

	created, err := s.Create(ctx, newDeployment("web", 2))
	require.NoError(t, err)
	assert.Equal(t, "1", created.ResourceVersion)
	assert.Equal(t, int64(1), created.Generation)
	assert.NotEmpty(t, created.UID)
	assert.FileExists(t, filepath.Join(root, "default", "web.yaml"))

	got, err := s.Get(ctx, resource.NewID("default", "web"))
	require.NoError(t, err)
	assert.Equal(t, created.UID, got.UID)
	assert.Equal(t, int32(2), *got.Spec.Replicas)

	_, err = s.Create(ctx, newDeployment("web", 1))
	assert.True(t, apierrors.IsAlreadyExists(err))

	_, err = s.Get(ctx, resource.NewID("default", "missing"))
	assert.True(t, apierrors.IsNotFound(err))
}

func TestFilesystemStore_ResumesVersionCounter(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	s := newDeploymentStore(t, root)
	_, err := s.Create(ctx, newDeployment("a", 1))
	require.NoError(t, err)
	_, err = s.Create(ctx, newDeployment("b", 1))
	require.NoError(t, err)

	reopened := newDeploymentStore(t, root)
	created, err := reopened.Create(ctx, newDeployment("c", 1))
	require.NoError(t, err)
	assert.Equal(t, "3", created.ResourceVersion)
}

func TestFilesystemStore_Update(t *testing.T) {
	ctx := context.Background()
	s := newDeploymentStore(t, t.TempDir())

	created, err := s.Create(ctx, newDeployment("web", 2))
	require.NoError(t, err)

	relabelled := created.DeepCopy()
	relabelled.Labels["tier"] = "frontend"
	updated, err := s.Update(ctx, relabelled)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Generation, "metadata changes keep the generation")

	scaled := updated.DeepCopy()
	scaled.Spec.Replicas = ptr.To(int32(5))
	scaled.Status.AvailableReplicas = 5
	updated, err = s.Update(ctx, scaled)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Generation)
	assert.Equal(t, int32(0), updated.Status.AvailableReplicas, "Update ignores status")

	_, err = s.Update(ctx, scaled)
	assert.True(t, apierrors.IsConflict(err), "stale resourceVersion must conflict")
}

func TestFilesystemStore_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	s := newDeploymentStore(t, t.TempDir())

	created, err := s.Create(ctx, newDeployment("web", 2))
	require.NoError(t, err)

	desired := created.DeepCopy()
	desired.Spec.Replicas = ptr.To(int32(9))
	desired.Status.AvailableReplicas = 2
	updated, err := s.UpdateStatus(ctx, desired)
	require.NoError(t, err)

	assert.Equal(t, int32(2), updated.Status.AvailableReplicas)
	assert.Equal(t, int32(2), *updated.Spec.Replicas, "UpdateStatus ignores spec")
	assert.NotEqual(t, created.ResourceVersion, updated.ResourceVersion)
}

func TestFilesystemStore_DeleteHonoursFinalizers(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := newDeploymentStore(t, root)
	id := resource.NewID("default", "web")

	obj := newDeployment("web", 1)
	obj.Finalizers = []string{"example.com/cleanup"}
	created, err := s.Create(ctx, obj)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, created))
	marked, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, marked.DeletionTimestamp)

	marked.Finalizers = nil
	_, err = s.Update(ctx, marked)
	require.NoError(t, err)

	_, err = s.Get(ctx, id)
	assert.True(t, apierrors.IsNotFound(err))
	_, statErr := os.Stat(filepath.Join(root, "default", "web.yaml"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFilesystemStore_List(t *testing.T) {
	ctx := context.Background()
	s := newDeploymentStore(t, t.TempDir())

	_, err := s.Create(ctx, newDeployment("web", 1))
	require.NoError(t, err)
	_, err = s.Create(ctx, newDeployment("db", 1))
	require.NoError(t, err)
	other := newDeployment("web", 1)
	other.Namespace = "other"
	_, err = s.Create(ctx, other)
	require.NoError(t, err)

	all, version, err := s.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "3", version)

	namespaced, _, err := s.List(ctx, ListOptions{Namespace: "default"})
	require.NoError(t, err)
	assert.Len(t, namespaced, 2)

	selected, _, err := s.List(ctx, ListOptions{LabelSelector: labels.SelectorFromSet(labels.Set{"app": "web"})})
	require.NoError(t, err)
	assert.Len(t, selected, 2)
}

func nextEvent(t *testing.T, w watch.Interface) watch.Event {
	t.Helper()
	select {
	case ev, ok := <-w.ResultChan():
		require.True(t, ok, "watch closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watch event")
		return watch.Event{}
	}
}

func TestFilesystemStore_Watch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newDeploymentStore(t, t.TempDir())

	existing, err := s.Create(ctx, newDeployment("existing", 1))
	require.NoError(t, err)

	w, err := s.Watch(ctx, ListOptions{})
	require.NoError(t, err)
	defer w.Stop()

	created, err := s.Create(ctx, newDeployment("web", 1))
	require.NoError(t, err)
	ev := nextEvent(t, w)
	assert.Equal(t, watch.Added, ev.Type)
	assert.Equal(t, "web", ev.Object.(*appsv1.Deployment).Name)

	scaled := created.DeepCopy()
	scaled.Spec.Replicas = ptr.To(int32(3))
	updated, err := s.Update(ctx, scaled)
	require.NoError(t, err)
	ev = nextEvent(t, w)
	assert.Equal(t, watch.Modified, ev.Type)
	assert.Equal(t, updated.ResourceVersion, ev.Object.(*appsv1.Deployment).ResourceVersion)

	require.NoError(t, s.Delete(ctx, existing))
	ev = nextEvent(t, w)
	assert.Equal(t, watch.Deleted, ev.Type)
	assert.Equal(t, "existing", ev.Object.(*appsv1.Deployment).Name)
}

func TestFilesystemStore_WatchDeliversWritesSinceList(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newDeploymentStore(t, t.TempDir())

	created, err := s.Create(ctx, newDeployment("web", 1))
	require.NoError(t, err)
	_, err = s.Create(ctx, newDeployment("untouched", 1))
	require.NoError(t, err)

	_, listVersion, err := s.List(ctx, ListOptions{})
	require.NoError(t, err)

	scaled := created.DeepCopy()
	scaled.Spec.Replicas = ptr.To(int32(2))
	updated, err := s.Update(ctx, scaled)
	require.NoError(t, err)

	w, err := s.Watch(ctx, ListOptions{ResourceVersion: listVersion})
	require.NoError(t, err)
	defer w.Stop()

	ev := nextEvent(t, w)
	assert.Equal(t, watch.Modified, ev.Type)
	assert.Equal(t, "web", ev.Object.(*appsv1.Deployment).Name)
	assert.Equal(t, updated.ResourceVersion, ev.Object.(*appsv1.Deployment).ResourceVersion)

	select {
	case ev := <-w.ResultChan():
		t.Fatalf("unexpected event %s for %s", ev.Type, ev.Object.(*appsv1.Deployment).Name)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFilesystemStore_WatchNewNamespace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newDeploymentStore(t, t.TempDir())

	w, err := s.Watch(ctx, ListOptions{})
	require.NoError(t, err)
	defer w.Stop()

	obj := newDeployment("api", 1)
	obj.Namespace = "team-a"
	_, err = s.Create(ctx, obj)
	require.NoError(t, err)

	ev := nextEvent(t, w)
	assert.Equal(t, watch.Added, ev.Type)
	assert.Equal(t, "team-a", ev.Object.(*appsv1.Deployment).Namespace)
}

func TestFilesystemStore_WatchStops(t *testing.T) {
	s := newDeploymentStore(t, t.TempDir())

	w, err := s.Watch(context.Background(), ListOptions{})
	require.NoError(t, err)
	w.Stop()

	select {
	case _, ok := <-w.ResultChan():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("result channel was not closed")
	}
}
