package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/yaml"

	"converge/internal/resource"
	"converge/pkg/logging"
)

// clusterScopeDir holds resources without a namespace.
const clusterScopeDir = "_cluster"

// FilesystemStore keeps one YAML manifest per resource under
// <root>/<namespace>/<name>.yaml and watches the tree with fsnotify.
//
// It imitates the API server closely enough for local development: numeric
// resource versions, optimistic locking, generation bumps on spec changes and
// finalizer-gated deletion.
type FilesystemStore[T client.Object] struct {
	mu       sync.Mutex
	root     string
	gvk      schema.GroupVersionKind
	resource schema.GroupResource
	newObj   func() T
	version  uint64
}

// NewFilesystemStore creates the root directory if needed and picks up the
// highest resource version already on disk.
func NewFilesystemStore[T client.Object](root string, gvk schema.GroupVersionKind, newObj func() T) (*FilesystemStore[T], error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", root, err)
	}

	plural, _ := meta.UnsafeGuessKindToResource(gvk)
	s := &FilesystemStore[T]{
		root:     root,
		gvk:      gvk,
		resource: plural.GroupResource(),
		newObj:   newObj,
	}

	objs, err := s.scan("", nil)
	if err != nil {
		return nil, err
	}
	for _, obj := range objs {
		if v, err := strconv.ParseUint(obj.GetResourceVersion(), 10, 64); err == nil && v > s.version {
			s.version = v
		}
	}
	logging.Info("FilesystemStore", "Opened %s store at %s with %d resources", gvk.Kind, root, len(objs))
	return s, nil
}

func (s *FilesystemStore[T]) path(id resource.ID) string {
	dir := id.Namespace
	if dir == "" {
		dir = clusterScopeDir
	}
	return filepath.Join(s.root, dir, id.Name+".yaml")
}

func (s *FilesystemStore[T]) nextVersion() string {
	s.version++
	return strconv.FormatUint(s.version, 10)
}

func (s *FilesystemStore[T]) read(path string) (T, error) {
	var zero T
	data, err := os.ReadFile(path)
	if err != nil {
		return zero, err
	}
	obj := s.newObj()
	if err := yaml.Unmarshal(data, obj); err != nil {
		return zero, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return obj, nil
}

func (s *FilesystemStore[T]) get(id resource.ID) (T, error) {
	obj, err := s.read(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		var zero T
		return zero, apierrors.NewNotFound(s.resource, id.Name)
	}
	return obj, err
}

// write stores obj atomically so watchers never observe a partial file.
func (s *FilesystemStore[T]) write(obj T) error {
	obj.GetObjectKind().SetGroupVersionKind(s.gvk)
	data, err := yaml.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", resource.FromObject(obj), err)
	}

	path := s.path(resource.FromObject(obj))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FilesystemStore[T]) checkVersion(current, obj T) error {
	if obj.GetResourceVersion() != "" && obj.GetResourceVersion() != current.GetResourceVersion() {
		return apierrors.NewConflict(s.resource, obj.GetName(),
			fmt.Errorf("the object has been modified; resourceVersion %s is stale, current is %s",
				obj.GetResourceVersion(), current.GetResourceVersion()))
	}
	return nil
}

// Get implements Store.
func (s *FilesystemStore[T]) Get(_ context.Context, id resource.ID) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

// List implements Store.
func (s *FilesystemStore[T]) List(_ context.Context, opts ListOptions) ([]T, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	objs, err := s.scan(opts.Namespace, opts.LabelSelector)
	if err != nil {
		return nil, "", err
	}
	return objs, strconv.FormatUint(s.version, 10), nil
}

func (s *FilesystemStore[T]) scan(namespace string, selector labels.Selector) ([]T, error) {
	pattern := filepath.Join(s.root, "*", "*.yaml")
	if namespace != "" {
		pattern = filepath.Join(s.root, namespace, "*.yaml")
	}
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}

	var result []T
	for _, path := range paths {
		obj, err := s.read(path)
		if err != nil {
			logging.Warn("FilesystemStore", "Skipping unreadable manifest %s: %v", path, err)
			continue
		}
		if selector != nil && !selector.Matches(labels.Set(obj.GetLabels())) {
			continue
		}
		result = append(result, obj)
	}
	return result, nil
}

// Create implements Store.
func (s *FilesystemStore[T]) Create(_ context.Context, obj T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	id := resource.FromObject(obj)
	if _, err := os.Stat(s.path(id)); err == nil {
		return zero, apierrors.NewAlreadyExists(s.resource, id.Name)
	}
	if obj.GetResourceVersion() != "" {
		return zero, apierrors.NewBadRequest("resourceVersion can not be set for Create requests")
	}

	out := obj.DeepCopyObject().(T)
	out.SetUID(types.UID(uuid.NewString()))
	out.SetCreationTimestamp(metav1.NewTime(time.Now()))
	out.SetGeneration(1)
	out.SetResourceVersion(s.nextVersion())
	if err := s.write(out); err != nil {
		return zero, err
	}
	return out, nil
}

// Update implements Store.
func (s *FilesystemStore[T]) Update(_ context.Context, obj T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	current, err := s.get(resource.FromObject(obj))
	if err != nil {
		return zero, err
	}
	if err := s.checkVersion(current, obj); err != nil {
		return zero, err
	}

	out, err := CopyStatus(obj, current)
	if err != nil {
		return zero, err
	}
	out.SetUID(current.GetUID())
	out.SetCreationTimestamp(current.GetCreationTimestamp())
	out.SetDeletionTimestamp(current.GetDeletionTimestamp())
	out.SetGeneration(current.GetGeneration())
	if same, err := SpecEqual(current, out); err == nil && !same {
		out.SetGeneration(current.GetGeneration() + 1)
	}
	out.SetResourceVersion(s.nextVersion())

	if out.GetDeletionTimestamp() != nil && len(out.GetFinalizers()) == 0 {
		if err := os.Remove(s.path(resource.FromObject(out))); err != nil {
			return zero, err
		}
		return out, nil
	}
	if err := s.write(out); err != nil {
		return zero, err
	}
	return out, nil
}

// UpdateStatus implements Store.
func (s *FilesystemStore[T]) UpdateStatus(_ context.Context, obj T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	current, err := s.get(resource.FromObject(obj))
	if err != nil {
		return zero, err
	}
	if err := s.checkVersion(current, obj); err != nil {
		return zero, err
	}

	out, err := CopyStatus(current, obj)
	if err != nil {
		return zero, err
	}
	out.SetResourceVersion(s.nextVersion())
	if err := s.write(out); err != nil {
		return zero, err
	}
	return out, nil
}

// Delete implements Store. Resources with finalizers only get a deletion
// timestamp; they disappear once the last finalizer is removed.
func (s *FilesystemStore[T]) Delete(_ context.Context, obj T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := resource.FromObject(obj)
	current, err := s.get(id)
	if err != nil {
		return err
	}
	if len(current.GetFinalizers()) == 0 {
		return os.Remove(s.path(id))
	}
	if current.GetDeletionTimestamp() != nil {
		return nil
	}
	now := metav1.NewTime(time.Now())
	current.SetDeletionTimestamp(&now)
	current.SetResourceVersion(s.nextVersion())
	return s.write(current)
}

// Watch implements Store. Changes made by other processes editing the files
// are delivered as well as this store's own writes.
func (s *FilesystemStore[T]) Watch(ctx context.Context, opts ListOptions) (watch.Interface, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	dirs := []string{s.root}
	if opts.Namespace != "" {
		dir := filepath.Join(s.root, opts.Namespace)
		if err := os.MkdirAll(dir, 0755); err != nil {
			watcher.Close()
			return nil, err
		}
		dirs = append(dirs, dir)
	} else {
		entries, err := os.ReadDir(s.root)
		if err != nil {
			watcher.Close()
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				dirs = append(dirs, filepath.Join(s.root, entry.Name()))
			}
		}
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	s.mu.Lock()
	objs, err := s.scan(opts.Namespace, opts.LabelSelector)
	s.mu.Unlock()
	if err != nil {
		watcher.Close()
		return nil, err
	}
	known := make(map[string]T, len(objs))
	for _, obj := range objs {
		known[s.path(resource.FromObject(obj))] = obj
	}

	ch := make(chan watch.Event, 100)
	pw := watch.NewProxyWatcher(ch)
	fw := &fsWatch[T]{store: s, watcher: watcher, proxy: pw, ch: ch, known: known, opts: opts,
		backlog: writtenSince(objs, opts.ResourceVersion)}
	go fw.run(ctx)

	logging.Debug("FilesystemStore", "Watching %s for %s changes", s.root, s.gvk.Kind)
	return pw, nil
}

// writtenSince returns modification events for the objects written after
// version, oldest first. Writes that land between a List and the Watch that
// follows it are delivered this way. Files removed in that window cannot be
// detected and surface at the next relist.
func writtenSince[T client.Object](objs []T, version string) []watch.Event {
	since, err := strconv.ParseUint(version, 10, 64)
	if err != nil {
		return nil
	}

	var newer []T
	for _, obj := range objs {
		if v, err := strconv.ParseUint(obj.GetResourceVersion(), 10, 64); err == nil && v > since {
			newer = append(newer, obj)
		}
	}
	sort.Slice(newer, func(i, j int) bool {
		a, _ := strconv.ParseUint(newer[i].GetResourceVersion(), 10, 64)
		b, _ := strconv.ParseUint(newer[j].GetResourceVersion(), 10, 64)
		return a < b
	})

	events := make([]watch.Event, 0, len(newer))
	for _, obj := range newer {
		events = append(events, watch.Event{Type: watch.Modified, Object: obj})
	}
	return events
}

type fsWatch[T client.Object] struct {
	store   *FilesystemStore[T]
	watcher *fsnotify.Watcher
	proxy   *watch.ProxyWatcher
	ch      chan watch.Event
	known   map[string]T
	opts    ListOptions
	backlog []watch.Event
}

func (w *fsWatch[T]) run(ctx context.Context) {
	defer close(w.ch)
	defer w.watcher.Close()

	for _, ev := range w.backlog {
		if !w.send(ev) {
			return
		}
	}
	w.backlog = nil

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.proxy.StopChan():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.handle(ev) {
				return
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("FilesystemStore", err, "Filesystem watcher error")
		}
	}
}

// handle translates one fsnotify event. It returns false when the watch was stopped.
func (w *fsWatch[T]) handle(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == filepath.Clean(w.store.root) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if w.opts.Namespace != "" {
				return true
			}
			if err := w.watcher.Add(ev.Name); err != nil {
				logging.Warn("FilesystemStore", "Failed to watch new directory %s: %v", ev.Name, err)
				return true
			}
			// files written before the directory was watched
			paths, _ := filepath.Glob(filepath.Join(ev.Name, "*.yaml"))
			for _, path := range paths {
				if !w.handle(fsnotify.Event{Name: path, Op: fsnotify.Create}) {
					return false
				}
			}
			return true
		}
	}

	base := filepath.Base(ev.Name)
	if !strings.HasSuffix(base, ".yaml") || strings.HasPrefix(base, ".") {
		return true
	}

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		old, ok := w.known[ev.Name]
		if !ok {
			return true
		}
		delete(w.known, ev.Name)
		return w.send(watch.Event{Type: watch.Deleted, Object: old})
	}

	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return true
	}

	obj, err := w.store.read(ev.Name)
	if err != nil {
		// a partially written file produces another event once complete
		logging.Debug("FilesystemStore", "Ignoring unreadable manifest %s: %v", ev.Name, err)
		return true
	}

	old, existed := w.known[ev.Name]
	if sel := w.opts.LabelSelector; sel != nil && !sel.Matches(labels.Set(obj.GetLabels())) {
		if existed {
			delete(w.known, ev.Name)
			return w.send(watch.Event{Type: watch.Deleted, Object: old})
		}
		return true
	}
	if existed && old.GetResourceVersion() == obj.GetResourceVersion() {
		return true
	}

	w.known[ev.Name] = obj
	eventType := watch.Added
	if existed {
		eventType = watch.Modified
	}
	return w.send(watch.Event{Type: eventType, Object: obj})
}

func (w *fsWatch[T]) send(ev watch.Event) bool {
	select {
	case w.ch <- ev:
		return true
	case <-w.proxy.StopChan():
		return false
	}
}
