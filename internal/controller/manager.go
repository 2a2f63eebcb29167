package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"converge/internal/executor"
	"converge/pkg/logging"
)

// Runnable is a controller as seen by the Manager.
type Runnable interface {
	Name() string
	Start(ctx context.Context) error
	WaitForSync(ctx context.Context) error
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// ReconcileWorkers bounds concurrent reconciliations across all controllers.
	ReconcileWorkers int

	// WorkflowWorkers bounds concurrent workflow node operations. Workflow
	// nodes run on their own pool so reconciliations waiting for their
	// workflow never starve it.
	WorkflowWorkers int

	// ShutdownTimeout bounds how long Run waits for in-flight work after ctx is cancelled.
	ShutdownTimeout time.Duration
}

const (
	DefaultReconcileWorkers = 10
	DefaultWorkflowWorkers  = 10
	DefaultShutdownTimeout  = 30 * time.Second
)

// ErrManagerStarted is returned by Add once the manager runs.
var ErrManagerStarted = errors.New("manager already started")

// Manager runs a set of controllers sharing two executor pools.
type Manager struct {
	mu sync.RWMutex

	config      ManagerConfig
	controllers []Runnable
	running     bool

	reconcilePool *executor.Pool
	workflowPool  *executor.Pool

	// notify reports service state to systemd; replaceable in tests.
	notify func(state string) (bool, error)
}

// NewManager creates a new manager.
func NewManager(config ManagerConfig) *Manager {
	if config.ReconcileWorkers <= 0 {
		config.ReconcileWorkers = DefaultReconcileWorkers
	}
	if config.WorkflowWorkers <= 0 {
		config.WorkflowWorkers = DefaultWorkflowWorkers
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}

	return &Manager{
		config:        config,
		reconcilePool: executor.NewPool("reconcile", config.ReconcileWorkers),
		workflowPool:  executor.NewPool("workflow", config.WorkflowWorkers),
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
	}
}

// ReconcileExecutor is the pool controllers run reconciliations on.
func (m *Manager) ReconcileExecutor() executor.Executor {
	return m.reconcilePool
}

// WorkflowExecutor is the pool workflows run node operations on.
func (m *Manager) WorkflowExecutor() executor.Executor {
	return m.workflowPool
}

// Add registers a controller. Names must be unique.
func (m *Manager) Add(c Runnable) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrManagerStarted
	}
	for _, existing := range m.controllers {
		if existing.Name() == c.Name() {
			return fmt.Errorf("controller %s already registered", c.Name())
		}
	}
	m.controllers = append(m.controllers, c)
	logging.Info("Manager", "Registered controller %s", c.Name())
	return nil
}

// Controllers returns the names of the registered controllers.
func (m *Manager) Controllers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.controllers))
	for _, c := range m.controllers {
		names = append(names, c.Name())
	}
	return names
}

// IsRunning returns whether the manager is running.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// WaitForSync blocks until every controller's caches have synced.
func (m *Manager) WaitForSync(ctx context.Context) error {
	m.mu.RLock()
	controllers := append([]Runnable(nil), m.controllers...)
	m.mu.RUnlock()

	for _, c := range controllers {
		if err := c.WaitForSync(ctx); err != nil {
			return fmt.Errorf("controller %s: %w", c.Name(), err)
		}
	}
	return nil
}

// Run starts every controller and blocks until ctx is cancelled or one of
// them fails. Once all caches have synced, readiness is reported to systemd
// when running as a notify service.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrManagerStarted
	}
	m.running = true
	controllers := append([]Runnable(nil), m.controllers...)
	m.mu.Unlock()

	logging.Info("Manager", "Starting %d controllers", len(controllers))
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range controllers {
		g.Go(func() error {
			if err := c.Start(gctx); err != nil {
				return fmt.Errorf("controller %s: %w", c.Name(), err)
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := m.WaitForSync(gctx); err != nil {
			return nil
		}
		logging.Info("Manager", "All caches synced")
		m.sdNotify(daemon.SdNotifyReady)
		return nil
	})

	err := g.Wait()
	m.sdNotify(daemon.SdNotifyStopping)
	m.shutdown()
	return err
}

func (m *Manager) sdNotify(state string) {
	sent, err := m.notify(state)
	if err != nil {
		logging.Warn("Manager", "Failed to notify systemd (%s): %v", state, err)
		return
	}
	if sent {
		logging.Debug("Manager", "Notified systemd: %s", state)
	}
}

func (m *Manager) shutdown() {
	logging.Info("Manager", "Stopping executor pools...")
	ctx, cancel := context.WithTimeout(context.Background(), m.config.ShutdownTimeout)
	defer cancel()

	if err := m.reconcilePool.Stop(ctx); err != nil {
		logging.Error("Manager", err, "Reconcile pool did not drain")
	}
	if err := m.workflowPool.Stop(ctx); err != nil {
		logging.Error("Manager", err, "Workflow pool did not drain")
	}

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	logging.Info("Manager", "Manager stopped")
}
