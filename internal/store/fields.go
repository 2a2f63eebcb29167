package store

import (
	"fmt"

	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// CopyStatus returns a copy of dst carrying the status of src.
func CopyStatus[T client.Object](dst, src T) (T, error) {
	return copyFields(dst, src, func(d, s map[string]interface{}) {
		if status, ok := s["status"]; ok {
			d["status"] = runtime.DeepCopyJSONValue(status)
		} else {
			delete(d, "status")
		}
	})
}

// CopySpec returns a copy of dst carrying every top-level field of src except
// metadata and status, plus the labels, annotations, finalizers and owner
// references of src.
func CopySpec[T client.Object](dst, src T) (T, error) {
	return copyFields(dst, src, func(d, s map[string]interface{}) {
		for key, value := range s {
			switch key {
			case "metadata", "status", "apiVersion", "kind":
				continue
			}
			d[key] = runtime.DeepCopyJSONValue(value)
		}
		for key := range d {
			switch key {
			case "metadata", "status", "apiVersion", "kind":
				continue
			}
			if _, ok := s[key]; !ok {
				delete(d, key)
			}
		}
		for _, field := range []string{"labels", "annotations", "finalizers", "ownerReferences"} {
			value, found, _ := unstructured.NestedFieldCopy(s, "metadata", field)
			if found {
				_ = unstructured.SetNestedField(d, value, "metadata", field)
			} else {
				unstructured.RemoveNestedField(d, "metadata", field)
			}
		}
	})
}

// SpecEqual reports whether a and b have the same top-level fields apart from
// metadata and status.
func SpecEqual(a, b client.Object) (bool, error) {
	am, err := runtime.DefaultUnstructuredConverter.ToUnstructured(a)
	if err != nil {
		return false, err
	}
	bm, err := runtime.DefaultUnstructuredConverter.ToUnstructured(b)
	if err != nil {
		return false, err
	}
	for _, m := range []map[string]interface{}{am, bm} {
		delete(m, "metadata")
		delete(m, "status")
		delete(m, "apiVersion")
		delete(m, "kind")
	}
	return equality.Semantic.DeepEqual(am, bm), nil
}

func copyFields[T client.Object](dst, src T, apply func(d, s map[string]interface{})) (T, error) {
	var zero T
	d, err := runtime.DefaultUnstructuredConverter.ToUnstructured(dst)
	if err != nil {
		return zero, fmt.Errorf("failed to convert destination: %w", err)
	}
	s, err := runtime.DefaultUnstructuredConverter.ToUnstructured(src)
	if err != nil {
		return zero, fmt.Errorf("failed to convert source: %w", err)
	}

	apply(d, s)

	out := dst.DeepCopyObject().(T)
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(d, out); err != nil {
		return zero, fmt.Errorf("failed to convert result: %w", err)
	}
	return out, nil
}
