package event

import (
	"sync"
	"time"

	"k8s.io/utils/clock"

	"converge/internal/resource"
)

// Scheduler fires a callback for a resource after a delay. Each resource has
// at most one pending timer; scheduling again replaces the previous one.
type Scheduler struct {
	mu      sync.Mutex
	clock   clock.WithDelayedExecution
	timers  map[resource.ID]*scheduled
	fire    func(resource.ID)
	stopped bool
}

type scheduled struct {
	timer clock.Timer
}

// NewScheduler creates a Scheduler that calls fire when a timer expires.
func NewScheduler(clk clock.WithDelayedExecution, fire func(resource.ID)) *Scheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Scheduler{
		clock:  clk,
		timers: make(map[resource.ID]*scheduled),
		fire:   fire,
	}
}

// AddAfter arms a timer for id, cancelling any timer already pending for it.
func (s *Scheduler) AddAfter(id resource.ID, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	if existing, ok := s.timers[id]; ok {
		existing.timer.Stop()
	}

	entry := &scheduled{}
	entry.timer = s.clock.AfterFunc(delay, func() {
		// Some clocks run callbacks while holding their own lock.
		go s.expire(id, entry)
	})
	s.timers[id] = entry
}

func (s *Scheduler) expire(id resource.ID, entry *scheduled) {
	s.mu.Lock()
	// a newer AddAfter or Cancel may have replaced this entry
	if current, ok := s.timers[id]; !ok || current != entry || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.mu.Unlock()

	s.fire(id)
}

// Cancel drops the pending timer for id, if any.
func (s *Scheduler) Cancel(id resource.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[id]; ok {
		existing.timer.Stop()
		delete(s.timers, id)
	}
}

// Pending reports whether a timer is armed for id.
func (s *Scheduler) Pending(id resource.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

// Stop cancels all timers. Later AddAfter calls are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for _, entry := range s.timers {
		entry.timer.Stop()
	}
	s.timers = make(map[resource.ID]*scheduled)
}
