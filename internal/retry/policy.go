package retry

import (
	"errors"
	"fmt"
	"math"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	DefaultMaxAttempts     = 5
	DefaultInitialInterval = 2 * time.Second
	DefaultMultiplier      = 1.5
)

// ErrRetriesExhausted is reported once a resource has failed as many times as
// its policy allows.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Policy describes how failed reconciliations are retried.
type Policy struct {
	// MaxAttempts is the total number of executions, including the first one.
	MaxAttempts int

	// InitialInterval is the delay after the first failure.
	InitialInterval time.Duration

	// Multiplier grows the delay after every further failure.
	Multiplier float64

	// MaxInterval caps the delay. Zero means no cap.
	MaxInterval time.Duration
}

// DefaultPolicy returns the policy used when a controller configures none.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
		Multiplier:      DefaultMultiplier,
	}
}

// Validate checks that the policy can produce a schedule.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("maxAttempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialInterval <= 0 {
		return fmt.Errorf("initialInterval must be positive, got %v", p.InitialInterval)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %v", p.Multiplier)
	}
	if p.MaxInterval < 0 {
		return fmt.Errorf("maxInterval must not be negative, got %v", p.MaxInterval)
	}
	return nil
}

// NewExecution starts tracking attempts for one resource.
func (p Policy) NewExecution() *Execution {
	return &Execution{
		policy: p,
		backoff: wait.Backoff{
			Duration: p.InitialInterval,
			Factor:   p.Multiplier,
			Steps:    math.MaxInt32,
			Cap:      p.MaxInterval,
		},
	}
}

// Execution is the retry state of a single resource. It is not safe for
// concurrent use; the event processor guards it with its own lock.
type Execution struct {
	policy  Policy
	backoff wait.Backoff
	failed  int
}

// NextDelay records a failed attempt and returns how long to wait before the
// next one. It returns false when no attempts are left.
func (e *Execution) NextDelay() (time.Duration, bool) {
	e.failed++
	if e.failed >= e.policy.MaxAttempts {
		return 0, false
	}
	return e.backoff.Step(), true
}

// Info describes the attempt that is about to run.
func (e *Execution) Info() Info {
	if e == nil {
		return Info{Attempt: 1}
	}
	return Info{
		Attempt:     e.failed + 1,
		LastAttempt: e.failed+1 >= e.policy.MaxAttempts,
	}
}

// Info is the retry metadata handed to a reconciliation.
type Info struct {
	// Attempt counts executions for the current failure streak, starting at 1.
	Attempt int

	// LastAttempt is true when a failure of this attempt will not be retried.
	LastAttempt bool
}

// Retrying reports whether this is not the first attempt.
func (i Info) Retrying() bool {
	return i.Attempt > 1
}
