package event

import (
	"time"

	"sigs.k8s.io/controller-runtime/pkg/client"

	"converge/internal/resource"
	"converge/internal/retry"
)

// ExecutionScope is the snapshot handed to one reconciliation attempt.
type ExecutionScope[T client.Object] struct {
	ID          resource.ID
	Resource    T
	Retry       retry.Info
	ReconcileID string
}

// PostExecutionControl tells the processor what happened during an attempt.
type PostExecutionControl[T client.Object] struct {
	// Updated is the resource as written back to the store, if anything was written.
	Updated T
	written bool

	// FinalizerAdded is set when the attempt only added the finalizer.
	FinalizerAdded bool

	// FinalizerRemoved is set when cleanup completed and the finalizer was dropped.
	FinalizerRemoved bool

	// RescheduleAfter requests another run after the delay, if positive.
	RescheduleAfter time.Duration

	// NoRetry suppresses the retry policy for a failed attempt.
	NoRetry bool

	// Err is the failure of the attempt.
	Err error
}

// DefaultControl reports a successful attempt that wrote nothing.
func DefaultControl[T client.Object]() PostExecutionControl[T] {
	return PostExecutionControl[T]{}
}

// ControlWithUpdate reports a successful attempt that wrote obj.
func ControlWithUpdate[T client.Object](obj T) PostExecutionControl[T] {
	return PostExecutionControl[T]{Updated: obj, written: true}
}

// ControlFinalizerAdded reports an attempt that only added the finalizer.
func ControlFinalizerAdded[T client.Object](obj T) PostExecutionControl[T] {
	return PostExecutionControl[T]{Updated: obj, written: true, FinalizerAdded: true}
}

// ControlFinalizerRemoved reports a completed cleanup.
func ControlFinalizerRemoved[T client.Object](obj T) PostExecutionControl[T] {
	return PostExecutionControl[T]{Updated: obj, written: true, FinalizerRemoved: true}
}

// ControlWithError reports a failed attempt.
func ControlWithError[T client.Object](err error) PostExecutionControl[T] {
	return PostExecutionControl[T]{Err: err}
}

// WithUpdate records obj as written during the attempt.
func (c PostExecutionControl[T]) WithUpdate(obj T) PostExecutionControl[T] {
	c.Updated = obj
	c.written = true
	return c
}

// WithReschedule requests another run after delay.
func (c PostExecutionControl[T]) WithReschedule(delay time.Duration) PostExecutionControl[T] {
	c.RescheduleAfter = delay
	return c
}

// HasUpdate reports whether the attempt wrote the resource.
func (c PostExecutionControl[T]) HasUpdate() bool {
	return c.written
}

// WrittenVersion returns the resourceVersion of the written resource, or "".
func (c PostExecutionControl[T]) WrittenVersion() string {
	if !c.written {
		return ""
	}
	return c.Updated.GetResourceVersion()
}
