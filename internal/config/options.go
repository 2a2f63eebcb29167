package config

import (
	"fmt"

	"k8s.io/apimachinery/pkg/labels"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"converge/internal/controller"
	"converge/internal/event"
	"converge/internal/resource"
	"converge/internal/retry"
)

// ControllerOptions converts cc into controller options. Workflow and
// Metrics are left for the caller to set.
func ControllerOptions[T client.Object](cc ControllerConfig) (controller.Options[T], error) {
	cc.applyDefaults()
	opts := controller.DefaultOptions[T]()

	opts.Finalizer = cc.Finalizer
	opts.Namespaces = cc.Namespaces
	opts.GenerationAware = *cc.GenerationAware
	opts.MaxReconciliationInterval = cc.MaxReconciliationInterval.Std()
	opts.CacheSyncTimeout = cc.CacheSyncTimeout.Std()
	opts.RateLimit = event.RateLimit{
		Limit:  cc.RateLimit.Limit,
		Period: cc.RateLimit.Period.Std(),
	}

	if cc.LabelSelector != "" {
		selector, err := labels.Parse(cc.LabelSelector)
		if err != nil {
			return opts, fmt.Errorf("invalid label selector %q: %w", cc.LabelSelector, err)
		}
		opts.LabelSelector = selector
	}

	if cc.Retry.Disabled {
		opts.Retry = nil
	} else {
		opts.Retry = &retry.Policy{
			MaxAttempts:     cc.Retry.MaxAttempts,
			InitialInterval: cc.Retry.InitialInterval.Std(),
			Multiplier:      cc.Retry.Multiplier,
			MaxInterval:     cc.Retry.MaxInterval.Std(),
		}
	}

	switch cc.VersionComparison {
	case VersionComparisonLexical:
		opts.Versions = resource.LexicalVersions
	default:
		opts.Versions = resource.NumericVersions
	}
	return opts, nil
}

// ManagerConfig converts c into the manager configuration.
func (c Config) ManagerConfig() controller.ManagerConfig {
	return controller.ManagerConfig{
		ReconcileWorkers: c.Workers.Reconcile,
		WorkflowWorkers:  c.Workers.Workflow,
		ShutdownTimeout:  c.ShutdownTimeout.Std(),
	}
}
