// Package metrics exports event processor notifications as Prometheus metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"converge/internal/event"
	"converge/internal/resource"
	"converge/internal/retry"
)

const namespace = "converge"

// Prometheus implements event.Metrics on top of Prometheus collectors.
// Every series carries the controller name as a label.
type Prometheus struct {
	eventsTotal       *prometheus.CounterVec
	reconcileTotal    *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec
	retriesExhausted  *prometheus.CounterVec
	cleanupsTotal     *prometheus.CounterVec
	activeReconciles  *prometheus.GaugeVec
	retryAttempt      *prometheus.HistogramVec

	mu      sync.Mutex
	started map[key]time.Time
	now     func() time.Time
}

type key struct {
	controller string
	id         resource.ID
}

var _ event.Metrics = (*Prometheus)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Prometheus, error) {
	m := &Prometheus{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "events_total",
				Help:      "Total number of events received by action",
			},
			[]string{"controller", "action"},
		),
		reconcileTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "controller",
				Name:      "reconcile_total",
				Help:      "Total number of reconciliations by result",
			},
			[]string{"controller", "result"},
		),
		reconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "controller",
				Name:      "reconcile_duration_seconds",
				Help:      "Duration of reconciliation in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			},
			[]string{"controller"},
		),
		retriesExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "controller",
				Name:      "retries_exhausted_total",
				Help:      "Total number of resources that exhausted their retries",
			},
			[]string{"controller"},
		),
		cleanupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "controller",
				Name:      "cleanups_total",
				Help:      "Total number of deleted resources whose state was released",
			},
			[]string{"controller"},
		),
		activeReconciles: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "controller",
				Name:      "active_reconciles",
				Help:      "Number of reconciliations in progress",
			},
			[]string{"controller"},
		),
		retryAttempt: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "controller",
				Name:      "reconcile_attempt",
				Help:      "Attempt number of started reconciliations",
				Buckets:   prometheus.LinearBuckets(1, 1, 10),
			},
			[]string{"controller"},
		),
		started: make(map[key]time.Time),
		now:     time.Now,
	}

	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Prometheus) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.eventsTotal,
		m.reconcileTotal,
		m.reconcileDuration,
		m.retriesExhausted,
		m.cleanupsTotal,
		m.activeReconciles,
		m.retryAttempt,
	}
}

func (m *Prometheus) EventReceived(controller string, e resource.Event) {
	m.eventsTotal.WithLabelValues(controller, string(e.Action)).Inc()
}

func (m *Prometheus) ReconcileStarted(controller string, id resource.ID, info retry.Info) {
	m.mu.Lock()
	m.started[key{controller, id}] = m.now()
	m.mu.Unlock()

	m.activeReconciles.WithLabelValues(controller).Inc()
	m.retryAttempt.WithLabelValues(controller).Observe(float64(info.Attempt))
}

func (m *Prometheus) ReconcileSucceeded(controller string, id resource.ID) {
	m.finish(controller, id, "success")
}

func (m *Prometheus) ReconcileFailed(controller string, id resource.ID, _ error) {
	m.finish(controller, id, "error")
}

func (m *Prometheus) finish(controller string, id resource.ID, result string) {
	k := key{controller, id}
	m.mu.Lock()
	start, ok := m.started[k]
	delete(m.started, k)
	m.mu.Unlock()

	m.reconcileTotal.WithLabelValues(controller, result).Inc()
	if ok {
		m.activeReconciles.WithLabelValues(controller).Dec()
		m.reconcileDuration.WithLabelValues(controller).Observe(m.now().Sub(start).Seconds())
	}
}

func (m *Prometheus) RetriesExhausted(controller string, _ resource.ID) {
	m.retriesExhausted.WithLabelValues(controller).Inc()
}

func (m *Prometheus) CleanupDone(controller string, id resource.ID) {
	k := key{controller, id}
	m.mu.Lock()
	_, ok := m.started[k]
	delete(m.started, k)
	m.mu.Unlock()

	if ok {
		m.activeReconciles.WithLabelValues(controller).Dec()
	}
	m.cleanupsTotal.WithLabelValues(controller).Inc()
}
