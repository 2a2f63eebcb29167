package event

import (
	"converge/internal/resource"
	"converge/internal/retry"
)

// Metrics receives processor lifecycle notifications.
type Metrics interface {
	EventReceived(controller string, e resource.Event)
	ReconcileStarted(controller string, id resource.ID, info retry.Info)
	ReconcileSucceeded(controller string, id resource.ID)
	ReconcileFailed(controller string, id resource.ID, err error)
	RetriesExhausted(controller string, id resource.ID)
	CleanupDone(controller string, id resource.ID)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) EventReceived(string, resource.Event) {}
func (NoopMetrics) ReconcileStarted(string, resource.ID, retry.Info) {}
func (NoopMetrics) ReconcileSucceeded(string, resource.ID) {}
func (NoopMetrics) ReconcileFailed(string, resource.ID, error) {}
func (NoopMetrics) RetriesExhausted(string, resource.ID) {}
func (NoopMetrics) CleanupDone(string, resource.ID) {}
