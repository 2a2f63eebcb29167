package reconciler

import (
	"time"

	"sigs.k8s.io/controller-runtime/pkg/client"
)

type updateKind int

const (
	updateNone updateKind = iota
	updateResource
	updateStatus
	updateResourceAndStatus
)

func (k updateKind) String() string {
	switch k {
	case updateResource:
		return "resource"
	case updateStatus:
		return "status"
	case updateResourceAndStatus:
		return "resource and status"
	default:
		return "none"
	}
}

// UpdateControl is what a reconciliation asks the dispatcher to write.
type UpdateControl[T client.Object] struct {
	kind       updateKind
	resource   T
	reschedule time.Duration
}

// NoUpdate writes nothing.
func NoUpdate[T client.Object]() UpdateControl[T] {
	return UpdateControl[T]{}
}

// UpdateResource writes the spec and metadata of obj.
func UpdateResource[T client.Object](obj T) UpdateControl[T] {
	return UpdateControl[T]{kind: updateResource, resource: obj}
}

// UpdateStatus writes the status of obj through the status subresource.
func UpdateStatus[T client.Object](obj T) UpdateControl[T] {
	return UpdateControl[T]{kind: updateStatus, resource: obj}
}

// UpdateResourceAndStatus writes the spec and metadata of obj, then its status.
func UpdateResourceAndStatus[T client.Object](obj T) UpdateControl[T] {
	return UpdateControl[T]{kind: updateResourceAndStatus, resource: obj}
}

// RescheduleAfter asks for another reconciliation after d, even when nothing changes.
func (c UpdateControl[T]) RescheduleAfter(d time.Duration) UpdateControl[T] {
	c.reschedule = d
	return c
}

// Resource returns the resource to write, if any.
func (c UpdateControl[T]) Resource() (T, bool) {
	return c.resource, c.kind != updateNone
}

// UpdatesResource reports whether spec and metadata are written.
func (c UpdateControl[T]) UpdatesResource() bool {
	return c.kind == updateResource || c.kind == updateResourceAndStatus
}

// UpdatesStatus reports whether the status is written.
func (c UpdateControl[T]) UpdatesStatus() bool {
	return c.kind == updateStatus || c.kind == updateResourceAndStatus
}

// Reschedule returns the requested delay, or zero.
func (c UpdateControl[T]) Reschedule() time.Duration {
	return c.reschedule
}

// DeleteControl is the outcome of a cleanup.
type DeleteControl struct {
	removeFinalizer bool
	reschedule      time.Duration
}

// RemoveFinalizer reports that cleanup is complete.
func RemoveFinalizer() DeleteControl {
	return DeleteControl{removeFinalizer: true}
}

// KeepFinalizer reports that cleanup is still in progress, for example while
// dependents are being removed asynchronously.
func KeepFinalizer() DeleteControl {
	return DeleteControl{}
}

// RescheduleAfter asks for another cleanup attempt after d. It only applies
// when the finalizer is kept.
func (c DeleteControl) RescheduleAfter(d time.Duration) DeleteControl {
	c.reschedule = d
	return c
}

// RemovesFinalizer reports whether the finalizer may be removed.
func (c DeleteControl) RemovesFinalizer() bool {
	return c.removeFinalizer
}

// Reschedule returns the requested delay, or zero.
func (c DeleteControl) Reschedule() time.Duration {
	return c.reschedule
}

// ErrorStatusUpdateControl is the outcome of an ErrorStatusHandler.
type ErrorStatusUpdateControl[T client.Object] struct {
	resource   T
	patch      bool
	noRetry    bool
	reschedule time.Duration
}

// DefaultErrorProcessing writes nothing and leaves the failure to the retry policy.
func DefaultErrorProcessing[T client.Object]() ErrorStatusUpdateControl[T] {
	return ErrorStatusUpdateControl[T]{}
}

// PatchStatus writes the status of obj before the failure is handled.
func PatchStatus[T client.Object](obj T) ErrorStatusUpdateControl[T] {
	return ErrorStatusUpdateControl[T]{resource: obj, patch: true}
}

// WithNoRetry stops the failure from being retried.
func (c ErrorStatusUpdateControl[T]) WithNoRetry() ErrorStatusUpdateControl[T] {
	c.noRetry = true
	return c
}

// RescheduleAfter asks for another reconciliation after d. Only honoured
// together with WithNoRetry, since a retried failure is rescheduled by its policy.
func (c ErrorStatusUpdateControl[T]) RescheduleAfter(d time.Duration) ErrorStatusUpdateControl[T] {
	c.reschedule = d
	return c
}

// Resource returns the resource whose status should be written, if any.
func (c ErrorStatusUpdateControl[T]) Resource() (T, bool) {
	return c.resource, c.patch
}

// NoRetry reports whether retries are suppressed.
func (c ErrorStatusUpdateControl[T]) NoRetry() bool {
	return c.noRetry
}

// Reschedule returns the requested delay, or zero.
func (c ErrorStatusUpdateControl[T]) Reschedule() time.Duration {
	return c.reschedule
}
