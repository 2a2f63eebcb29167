package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) count(entry string) int {
	n := 0
	for _, e := range j.list() {
		if e == entry {
			n++
		}
	}
	return n
}

func (j *journal) index(entry string) int {
	for i, e := range j.list() {
		if e == entry {
			return i
		}
	}
	return -1
}

type testDependent struct {
	name         string
	journal      *journal
	reconcileErr error
	deleteErr    error
	panics       bool
}

func (d *testDependent) Reconcile(_ context.Context, _ *corev1.ConfigMap) (ReconcileResult, error) {
	d.journal.add("reconcile:" + d.name)
	if d.panics {
		panic("boom")
	}
	if d.reconcileErr != nil {
		return ReconcileResult{}, d.reconcileErr
	}
	return SingleResult(d.name, OperationCreated), nil
}

func (d *testDependent) Delete(_ context.Context, _ *corev1.ConfigMap) error {
	d.journal.add("delete:" + d.name)
	return d.deleteErr
}

type gcDependent struct {
	testDependent
}

func (gcDependent) GarbageCollected() bool { return true }

// reconcileOnly has no Delete method.
type reconcileOnly struct {
	inner *testDependent
}

func (d *reconcileOnly) Reconcile(ctx context.Context, p *corev1.ConfigMap) (ReconcileResult, error) {
	return d.inner.Reconcile(ctx, p)
}

func primary() *corev1.ConfigMap {
	return &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "page", Namespace: "default"}}
}

func met(v bool) Condition[*corev1.ConfigMap] {
	return func(context.Context, *corev1.ConfigMap) (bool, error) { return v, nil }
}

func TestBuild_RejectsCycle(t *testing.T) {
	j := &journal{}
	_, err := NewBuilder[*corev1.ConfigMap]().
		AddNode("a", &testDependent{name: "a", journal: j}).DependsOn("c").
		AddNode("b", &testDependent{name: "b", journal: j}).DependsOn("a").
		AddNode("c", &testDependent{name: "c", journal: j}).DependsOn("b").
		AddNode("d", &testDependent{name: "d", journal: j}).
		Build()

	require.Error(t, err)
	cycle := AsCycleError(err)
	require.NotNil(t, cycle)
	assert.Equal(t, []string{"a", "b", "c"}, cycle.Nodes)
	assert.Empty(t, j.list(), "nothing may run when construction fails")
}

func TestBuild_Errors(t *testing.T) {
	j := &journal{}
	tests := []struct {
		name    string
		build   func() (*Workflow[*corev1.ConfigMap], error)
		wantErr error
	}{
		{
			name: "duplicate node",
			build: func() (*Workflow[*corev1.ConfigMap], error) {
				return NewBuilder[*corev1.ConfigMap]().
					AddNode("a", &testDependent{name: "a", journal: j}).
					AddNode("a", &testDependent{name: "a", journal: j}).
					Build()
			},
			wantErr: ErrDuplicateNode,
		},
		{
			name: "unknown dependency",
			build: func() (*Workflow[*corev1.ConfigMap], error) {
				return NewBuilder[*corev1.ConfigMap]().
					AddNode("a", &testDependent{name: "a", journal: j}).DependsOn("missing").
					Build()
			},
			wantErr: ErrUnknownDependency,
		},
		{
			name: "option before node",
			build: func() (*Workflow[*corev1.ConfigMap], error) {
				return NewBuilder[*corev1.ConfigMap]().DependsOn("a").Build()
			},
			wantErr: ErrNoNode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf, err := tt.build()
			assert.Nil(t, wf)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBuild_TopologicalOrder(t *testing.T) {
	j := &journal{}
	wf, err := NewBuilder[*corev1.ConfigMap]().
		AddNode("service", &testDependent{name: "service", journal: j}).DependsOn("deployment", "configmap").
		AddNode("deployment", &testDependent{name: "deployment", journal: j}).DependsOn("configmap").
		AddNode("configmap", &testDependent{name: "configmap", journal: j}).
		AddNode("secret", &testDependent{name: "secret", journal: j}).
		Build()
	require.NoError(t, err)

	assert.Equal(t, []string{"configmap", "secret", "deployment", "service"}, wf.Order())

	infos := wf.Nodes()
	require.Len(t, infos, 4)
	assert.Equal(t, []string{"deployment", "configmap"}, infos[3].DependsOn)
	assert.True(t, infos[0].Deletable)
}

func TestReconcile_NotReadyBlocksDependents(t *testing.T) {
	j := &journal{}
	wf, err := NewBuilder[*corev1.ConfigMap]().
		AddNode("a", &testDependent{name: "a", journal: j}).WithReadyPostcondition(met(false)).
		AddNode("b", &testDependent{name: "b", journal: j}).DependsOn("a").
		Build()
	require.NoError(t, err)

	result, err := wf.Reconcile(context.Background(), primary())
	require.NoError(t, err)

	assert.Equal(t, []string{"reconcile:a"}, j.list())
	assert.Equal(t, []string{"a"}, result.NotReady())
	assert.False(t, result.AllReady())
	_, reached := result.Node("b")
	assert.False(t, reached)

	a, _ := result.Node("a")
	assert.Equal(t, map[ConditionType]bool{ConditionReadyPostcondition: false}, a.Conditions)
}

func TestReconcile_ReadyUnblocksDependentsOnce(t *testing.T) {
	j := &journal{}
	wf, err := NewBuilder[*corev1.ConfigMap]().
		AddNode("a", &testDependent{name: "a", journal: j}).WithReadyPostcondition(met(true)).
		AddNode("b", &testDependent{name: "b", journal: j}).DependsOn("a").
		AddNode("c", &testDependent{name: "c", journal: j}).DependsOn("a").
		AddNode("d", &testDependent{name: "d", journal: j}).DependsOn("b", "c").
		Build()
	require.NoError(t, err)

	result, err := wf.Reconcile(context.Background(), primary())
	require.NoError(t, err)

	for _, name := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, 1, j.count("reconcile:"+name), "node %s", name)
	}
	assert.Less(t, j.index("reconcile:a"), j.index("reconcile:b"))
	assert.Less(t, j.index("reconcile:b"), j.index("reconcile:d"))
	assert.Less(t, j.index("reconcile:c"), j.index("reconcile:d"))
	assert.True(t, result.AllReady())
	assert.Equal(t, []string{"a", "b", "c", "d"}, result.ReconciledNodes())

	d, _ := result.Node("d")
	assert.Equal(t, OperationCreated, d.ReconcileResult.Operations["d"])
}

func TestReconcile_ErrorSkipsDependentsNotSiblings(t *testing.T) {
	j := &journal{}
	boom := errors.New("boom")
	wf, err := NewBuilder[*corev1.ConfigMap]().
		AddNode("a", &testDependent{name: "a", journal: j, reconcileErr: boom}).
		AddNode("a-child", &testDependent{name: "a-child", journal: j}).DependsOn("a").
		AddNode("a-grandchild", &testDependent{name: "a-grandchild", journal: j}).DependsOn("a-child").
		AddNode("b", &testDependent{name: "b", journal: j}).
		AddNode("b-child", &testDependent{name: "b-child", journal: j}).DependsOn("b").
		Build()
	require.NoError(t, err)

	result, err := wf.Reconcile(context.Background(), primary())

	require.Error(t, err)
	var aggregated *AggregatedError
	require.ErrorAs(t, err, &aggregated)
	assert.Len(t, aggregated.Errors, 1)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, aggregated.Joined(), boom)

	assert.Equal(t, []string{"a-child", "a-grandchild"}, result.SkippedNodes())
	child, _ := result.Node("a-child")
	assert.ErrorIs(t, child.Err, ErrUpstreamFailed)
	assert.Equal(t, []string{"b", "b-child"}, result.ReconciledNodes())
	assert.Zero(t, j.count("reconcile:a-child"))
	assert.Contains(t, result.Erroneous(), "a")
}

func TestReconcile_SuppressedErrors(t *testing.T) {
	j := &journal{}
	wf, err := NewBuilder[*corev1.ConfigMap]().
		AddNode("a", &testDependent{name: "a", journal: j, reconcileErr: errors.New("boom")}).
		WithThrowErrors(false).
		Build()
	require.NoError(t, err)

	result, err := wf.Reconcile(context.Background(), primary())
	require.NoError(t, err)
	assert.True(t, result.HasErrors())
	assert.Error(t, result.AggregateError())
	assert.False(t, wf.ThrowsErrors())
}

func TestReconcile_PanicIsRecorded(t *testing.T) {
	j := &journal{}
	wf, err := NewBuilder[*corev1.ConfigMap]().
		AddNode("a", &testDependent{name: "a", journal: j, panics: true}).
		AddNode("b", &testDependent{name: "b", journal: j}).DependsOn("a").
		Build()
	require.NoError(t, err)

	result, err := wf.Reconcile(context.Background(), primary())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
	assert.Equal(t, []string{"b"}, result.SkippedNodes())
}

func TestReconcile_InactiveNodeIsDeletedWithDependents(t *testing.T) {
	j := &journal{}
	wf, err := NewBuilder[*corev1.ConfigMap]().
		AddNode("a", &testDependent{name: "a", journal: j}).
		AddNode("b", &testDependent{name: "b", journal: j}).DependsOn("a").WithActivation(met(false)).
		AddNode("c", &gcDependent{testDependent{name: "c", journal: j}}).DependsOn("b").
		AddNode("d", &testDependent{name: "d", journal: j}).DependsOn("a").
		Build()
	require.NoError(t, err)

	result, err := wf.Reconcile(context.Background(), primary())
	require.NoError(t, err)

	assert.Zero(t, j.count("reconcile:b"))
	assert.Zero(t, j.count("reconcile:c"))
	assert.Less(t, j.index("delete:c"), j.index("delete:b"), "dependents are deleted first")
	assert.Zero(t, j.count("delete:a"))
	assert.Equal(t, []string{"b", "c"}, result.DeletedNodes())
	assert.Equal(t, []string{"a", "d"}, result.ReconciledNodes())

	b, _ := result.Node("b")
	assert.False(t, b.Conditions[ConditionActivation])
}

func TestReconcile_PreconditionRoutesToDelete(t *testing.T) {
	j := &journal{}
	wf, err := NewBuilder[*corev1.ConfigMap]().
		AddNode("a", &testDependent{name: "a", journal: j}).WithReconcilePrecondition(met(false)).
		AddNode("b", &reconcileOnly{&testDependent{name: "b", journal: j}}).DependsOn("a").
		Build()
	require.NoError(t, err)

	result, err := wf.Reconcile(context.Background(), primary())
	require.NoError(t, err)

	assert.Equal(t, []string{"delete:a"}, j.list(), "b cannot be deleted explicitly")
	assert.Equal(t, []string{"a", "b"}, result.DeletedNodes())
}

func TestReconcile_ConditionError(t *testing.T) {
	j := &journal{}
	failing := func(context.Context, *corev1.ConfigMap) (bool, error) { return false, errors.New("no data") }
	wf, err := NewBuilder[*corev1.ConfigMap]().
		AddNode("a", &testDependent{name: "a", journal: j}).WithActivation(failing).
		Build()
	require.NoError(t, err)

	result, err := wf.Reconcile(context.Background(), primary())
	require.Error(t, err)
	assert.Contains(t, result.Erroneous()["a"].Error(), "no data")
	assert.Empty(t, j.list())
}

func TestReconcile_SiblingsRunConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	both := make(chan struct{})
	go func() {
		started.Wait()
		close(both)
	}()

	barrier := func(context.Context, *corev1.ConfigMap) (bool, error) {
		started.Done()
		select {
		case <-both:
			return true, nil
		case <-time.After(5 * time.Second):
			return false, fmt.Errorf("sibling never started")
		}
	}

	j := &journal{}
	wf, err := NewBuilder[*corev1.ConfigMap]().
		AddNode("a", &testDependent{name: "a", journal: j}).WithReconcilePrecondition(barrier).
		AddNode("b", &testDependent{name: "b", journal: j}).WithReconcilePrecondition(barrier).
		WithMaxWorkers(2).
		Build()
	require.NoError(t, err)

	result, err := wf.Reconcile(context.Background(), primary())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, result.ReconciledNodes())
}

func TestCleanup_ReverseOrder(t *testing.T) {
	j := &journal{}
	wf, err := NewBuilder[*corev1.ConfigMap]().
		AddNode("a", &testDependent{name: "a", journal: j}).
		AddNode("b", &testDependent{name: "b", journal: j}).DependsOn("a").WithDeletePostcondition(met(true)).
		AddNode("c", &testDependent{name: "c", journal: j}).DependsOn("b").
		Build()
	require.NoError(t, err)

	result, err := wf.Cleanup(context.Background(), primary())
	require.NoError(t, err)

	assert.Equal(t, []string{"delete:c", "delete:b", "delete:a"}, j.list())
	assert.True(t, result.AllDeleted())
	b, _ := result.Node("b")
	assert.True(t, b.Conditions[ConditionDeletePostcondition])
}

func TestCleanup_DeletePostconditionBlocksDependencies(t *testing.T) {
	j := &journal{}
	wf, err := NewBuilder[*corev1.ConfigMap]().
		AddNode("a", &testDependent{name: "a", journal: j}).
		AddNode("b", &testDependent{name: "b", journal: j}).DependsOn("a").WithDeletePostcondition(met(false)).
		Build()
	require.NoError(t, err)

	result, err := wf.Cleanup(context.Background(), primary())
	require.NoError(t, err)

	assert.Equal(t, []string{"delete:b"}, j.list())
	assert.Empty(t, result.DeletedNodes())
	assert.False(t, result.AllDeleted())
}

func TestCleanup_SkipsGarbageCollected(t *testing.T) {
	j := &journal{}
	wf, err := NewBuilder[*corev1.ConfigMap]().
		AddNode("a", &gcDependent{testDependent{name: "a", journal: j}}).
		AddNode("b", &gcDependent{testDependent{name: "b", journal: j}}).DependsOn("a").
		Build()
	require.NoError(t, err)
	assert.False(t, wf.HasCleaner())

	result, err := wf.Cleanup(context.Background(), primary())
	require.NoError(t, err)
	assert.Empty(t, j.list())
	assert.Equal(t, []string{"a", "b"}, result.DeletedNodes())
}

func TestCleanup_ErrorKeepsDependencies(t *testing.T) {
	j := &journal{}
	wf, err := NewBuilder[*corev1.ConfigMap]().
		AddNode("a", &testDependent{name: "a", journal: j}).
		AddNode("b", &testDependent{name: "b", journal: j, deleteErr: errors.New("forbidden")}).DependsOn("a").
		Build()
	require.NoError(t, err)
	assert.True(t, wf.HasCleaner())

	result, err := wf.Cleanup(context.Background(), primary())
	require.Error(t, err)
	assert.Equal(t, []string{"delete:b"}, j.list())
	assert.Equal(t, []string{"a"}, result.SkippedNodes())
}

func TestCleanup_InactiveNodeNeedsNoDelete(t *testing.T) {
	j := &journal{}
	wf, err := NewBuilder[*corev1.ConfigMap]().
		AddNode("a", &testDependent{name: "a", journal: j}).WithActivation(met(false)).
		Build()
	require.NoError(t, err)

	result, err := wf.Cleanup(context.Background(), primary())
	require.NoError(t, err)
	assert.Empty(t, j.list())
	assert.Equal(t, []string{"a"}, result.DeletedNodes())
}

func TestReconcile_Traced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	j := &journal{}
	wf, err := NewBuilder[*corev1.ConfigMap]().
		AddNode("a", &testDependent{name: "a", journal: j}).
		AddNode("b", &testDependent{name: "b", journal: j, reconcileErr: errors.New("boom")}).DependsOn("a").
		WithTracerProvider(tp).
		Build()
	require.NoError(t, err)

	_, err = wf.Reconcile(context.Background(), primary())
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	names := map[string]int{}
	for _, s := range spans {
		names[s.Name()]++
	}
	assert.Equal(t, map[string]int{"workflow.reconcile": 1, "workflow.node": 2}, names)
}

func TestReconcile_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	blocking := func(context.Context, *corev1.ConfigMap) (bool, error) {
		<-release
		return true, nil
	}

	j := &journal{}
	wf, err := NewBuilder[*corev1.ConfigMap]().
		AddNode("a", &testDependent{name: "a", journal: j}).WithActivation(blocking).
		Build()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := wf.Reconcile(ctx, primary())
	require.Error(t, err)
	a, _ := result.Node("a")
	assert.ErrorIs(t, a.Err, context.DeadlineExceeded)
}
