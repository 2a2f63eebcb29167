package controller

import (
	"sort"
	"sync"
	"time"

	"converge/internal/event"
	"converge/internal/resource"
	"converge/internal/retry"
)

// ReconcileState represents the state of a resource's reconciliation.
type ReconcileState string

const (
	// StatePending means the resource is awaiting reconciliation.
	StatePending ReconcileState = "Pending"

	// StateReconciling means reconciliation is in progress.
	StateReconciling ReconcileState = "Reconciling"

	// StateSynced means the resource is successfully reconciled.
	StateSynced ReconcileState = "Synced"

	// StateError means reconciliation failed and may be retried.
	StateError ReconcileState = "Error"

	// StateFailed means reconciliation failed permanently (max retries exceeded).
	StateFailed ReconcileState = "Failed"
)

// ReconcileStatus represents the current status of reconciliation for a resource.
type ReconcileStatus struct {
	ID    resource.ID
	State ReconcileState

	// Attempt is the attempt number of the last reconciliation.
	Attempt int

	// LastError is the error of the last failed attempt.
	LastError string

	// LastReconcileTime is when the resource last reconciled successfully.
	LastReconcileTime *time.Time
}

// statusTracker records the reconciliation state of every resource and
// forwards processor notifications to the configured metrics.
type statusTracker struct {
	next event.Metrics

	mu       sync.RWMutex
	statuses map[resource.ID]*ReconcileStatus
}

var _ event.Metrics = (*statusTracker)(nil)

func newStatusTracker(next event.Metrics) *statusTracker {
	if next == nil {
		next = event.NoopMetrics{}
	}
	return &statusTracker{
		next:     next,
		statuses: make(map[resource.ID]*ReconcileStatus),
	}
}

func (s *statusTracker) update(id resource.ID, fn func(*ReconcileStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[id]
	if !ok {
		status = &ReconcileStatus{ID: id, State: StatePending}
		s.statuses[id] = status
	}
	fn(status)
}

func (s *statusTracker) EventReceived(controller string, e resource.Event) {
	if e.Action != resource.Deleted {
		s.update(e.ID, func(*ReconcileStatus) {})
	}
	s.next.EventReceived(controller, e)
}

func (s *statusTracker) ReconcileStarted(controller string, id resource.ID, info retry.Info) {
	s.update(id, func(st *ReconcileStatus) {
		st.State = StateReconciling
		st.Attempt = info.Attempt
	})
	s.next.ReconcileStarted(controller, id, info)
}

func (s *statusTracker) ReconcileSucceeded(controller string, id resource.ID) {
	s.update(id, func(st *ReconcileStatus) {
		now := time.Now()
		st.State = StateSynced
		st.LastError = ""
		st.LastReconcileTime = &now
	})
	s.next.ReconcileSucceeded(controller, id)
}

func (s *statusTracker) ReconcileFailed(controller string, id resource.ID, err error) {
	s.update(id, func(st *ReconcileStatus) {
		st.State = StateError
		st.LastError = err.Error()
	})
	s.next.ReconcileFailed(controller, id, err)
}

func (s *statusTracker) RetriesExhausted(controller string, id resource.ID) {
	s.update(id, func(st *ReconcileStatus) {
		st.State = StateFailed
	})
	s.next.RetriesExhausted(controller, id)
}

func (s *statusTracker) CleanupDone(controller string, id resource.ID) {
	s.mu.Lock()
	delete(s.statuses, id)
	s.mu.Unlock()
	s.next.CleanupDone(controller, id)
}

func (s *statusTracker) get(id resource.ID) (ReconcileStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[id]
	if !ok {
		return ReconcileStatus{}, false
	}
	return *status, true
}

func (s *statusTracker) all() []ReconcileStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]ReconcileStatus, 0, len(s.statuses))
	for _, status := range s.statuses {
		statuses = append(statuses, *status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].ID.String() < statuses[j].ID.String()
	})
	return statuses
}
