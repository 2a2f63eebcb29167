package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"

	"converge/internal/resource"
	"converge/internal/store"
)

// scriptedStore serves List from a slice and hands out fake watchers the test drives.
type scriptedStore struct {
	store.Store[*corev1.ConfigMap]

	mu       sync.Mutex
	items    []*corev1.ConfigMap
	listErr  error
	lists    int
	watchers chan *watch.FakeWatcher
}

func newScriptedStore(items ...*corev1.ConfigMap) *scriptedStore {
	return &scriptedStore{items: items, watchers: make(chan *watch.FakeWatcher, 10)}
}

func (s *scriptedStore) List(_ context.Context, _ store.ListOptions) ([]*corev1.ConfigMap, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	if s.listErr != nil {
		err := s.listErr
		s.listErr = nil
		return nil, "", err
	}
	return append([]*corev1.ConfigMap(nil), s.items...), "100", nil
}

func (s *scriptedStore) Watch(_ context.Context, _ store.ListOptions) (watch.Interface, error) {
	w := watch.NewFakeWithChanSize(10, false)
	s.watchers <- w
	return w, nil
}

func (s *scriptedStore) setItems(items ...*corev1.ConfigMap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
}

type recordedEvent struct {
	action  resource.Action
	name    string
	version string
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) handler() Handler[*corev1.ConfigMap] {
	add := func(action resource.Action, obj *corev1.ConfigMap) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, recordedEvent{action, obj.Name, obj.ResourceVersion})
	}
	return HandlerFuncs[*corev1.ConfigMap]{
		AddFunc:    func(obj *corev1.ConfigMap) { add(resource.Added, obj) },
		UpdateFunc: func(_, obj *corev1.ConfigMap) { add(resource.Updated, obj) },
		DeleteFunc: func(obj *corev1.ConfigMap) { add(resource.Deleted, obj) },
	}
}

func (r *recorder) snapshot() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func startInformer(t *testing.T, s *scriptedStore) (*Informer[*corev1.ConfigMap], *recorder, *watch.FakeWatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	inf := NewInformer[*corev1.ConfigMap]("configmaps", s, New[*corev1.ConfigMap](nil), InformerOptions{
		Backoff: wait.Backoff{Duration: time.Millisecond, Factor: 1, Steps: 5},
	})
	rec := &recorder{}
	inf.AddHandler(rec.handler())

	go func() {
		defer close(done)
		_ = inf.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	syncCtx, syncCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer syncCancel()
	require.NoError(t, inf.WaitForSync(syncCtx))

	select {
	case w := <-s.watchers:
		return inf, rec, w
	case <-time.After(5 * time.Second):
		t.Fatal("informer did not open a watch")
		return nil, nil, nil
	}
}

func TestInformer_InitialListPopulatesCache(t *testing.T) {
	s := newScriptedStore(configMap("a", "1"), configMap("b", "2"))

	inf, rec, _ := startInformer(t, s)

	assert.True(t, inf.HasSynced())
	assert.Len(t, inf.Cache().List("", nil), 2)
	assert.ElementsMatch(t, []recordedEvent{
		{resource.Added, "a", "1"},
		{resource.Added, "b", "2"},
	}, rec.snapshot())
}

func TestInformer_WatchEvents(t *testing.T) {
	s := newScriptedStore(configMap("a", "1"))
	inf, rec, w := startInformer(t, s)

	w.Add(configMap("b", "2"))
	w.Modify(configMap("a", "3"))
	w.Modify(configMap("a", "3"))
	w.Delete(configMap("b", "4"))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 4 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []recordedEvent{
		{resource.Added, "a", "1"},
		{resource.Added, "b", "2"},
		{resource.Updated, "a", "3"},
		{resource.Deleted, "b", "4"},
	}, rec.snapshot())

	version, ok := inf.Cache().PrimaryVersion(resource.NewID("default", "a"))
	require.True(t, ok)
	assert.Equal(t, "3", version)
	_, ok = inf.Cache().GetPrimary(resource.NewID("default", "b"))
	assert.False(t, ok)
}

func TestInformer_RelistAfterWatchCloses(t *testing.T) {
	s := newScriptedStore(configMap("a", "1"), configMap("b", "1"))
	inf, rec, w := startInformer(t, s)

	s.setItems(configMap("a", "5"), configMap("c", "1"))
	w.Stop()

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 5 }, 5*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []recordedEvent{
		{resource.Added, "a", "1"},
		{resource.Added, "b", "1"},
		{resource.Updated, "a", "5"},
		{resource.Added, "c", "1"},
		{resource.Deleted, "b", "1"},
	}, rec.snapshot())
	assert.Len(t, inf.Cache().List("", nil), 2)
}

func TestInformer_RetriesFailedList(t *testing.T) {
	s := newScriptedStore(configMap("a", "1"))
	s.listErr = errors.New("connection refused")

	inf, _, _ := startInformer(t, s)

	assert.True(t, inf.HasSynced())
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, 2, s.lists)
}

func TestInformer_WaitForSyncHonoursContext(t *testing.T) {
	inf := NewInformer[*corev1.ConfigMap]("configmaps", newScriptedStore(), New[*corev1.ConfigMap](nil), InformerOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, inf.WaitForSync(ctx))
	assert.False(t, inf.HasSynced())
}
