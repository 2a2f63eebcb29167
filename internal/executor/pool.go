// Package executor provides the bounded worker pool that runs reconciliation
// and workflow node tasks.
package executor

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"converge/pkg/logging"
)

// ErrPoolStopped is returned by Submit after Stop has been called.
var ErrPoolStopped = errors.New("executor pool stopped")

// Executor runs tasks asynchronously.
type Executor interface {
	Submit(task func()) error
}

// Pool runs at most size tasks at the same time. Submit never blocks the
// caller: tasks beyond the limit wait for a free slot in their own goroutine.
type Pool struct {
	name string
	sem  *semaphore.Weighted
	size int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewPool creates a pool allowing size concurrent tasks. A size below one
// is treated as one.
func NewPool(name string, size int) *Pool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		name:   name,
		sem:    semaphore.NewWeighted(int64(size)),
		size:   size,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Size returns the maximum number of concurrent tasks.
func (p *Pool) Size() int {
	return p.size
}

// Submit schedules task for execution.
func (p *Pool) Submit(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPoolStopped
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			logging.Debug("Executor", "Pool %s stopped before task could start", p.name)
			return
		}
		defer p.sem.Release(1)
		task()
	}()
	return nil
}

// Stop rejects new tasks, drops tasks still waiting for a slot and waits for
// running tasks to finish or ctx to expire.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
