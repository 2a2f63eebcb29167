package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for converge.
type Config struct {
	// Mode selects the store backing every controller.
	Mode Mode `yaml:"mode,omitempty"`

	// FilesystemPath is the root directory of the filesystem store.
	FilesystemPath string `yaml:"filesystemPath,omitempty"`

	// MetricsAddress is where /metrics is served. Empty disables the endpoint.
	MetricsAddress string `yaml:"metricsAddress,omitempty"`

	Workers WorkersConfig `yaml:"workers,omitempty"`

	ShutdownTimeout Duration `yaml:"shutdownTimeout,omitempty"`

	// Controllers holds per-controller settings keyed by controller name.
	Controllers map[string]ControllerConfig `yaml:"controllers,omitempty"`
}

// Mode defines where resources are stored.
type Mode string

const (
	// ModeAuto uses Kubernetes when a cluster is reachable and the filesystem otherwise.
	ModeAuto Mode = "auto"
	// ModeKubernetes stores resources in a Kubernetes API server.
	ModeKubernetes Mode = "kubernetes"
	// ModeFilesystem stores resources as YAML files.
	ModeFilesystem Mode = "filesystem"
)

// WorkersConfig sizes the manager's executor pools.
type WorkersConfig struct {
	Reconcile int `yaml:"reconcile,omitempty"`
	Workflow  int `yaml:"workflow,omitempty"`
}

// ControllerConfig configures a single controller.
type ControllerConfig struct {
	// Finalizer overrides the default finalizer. "-" disables finalizer handling.
	Finalizer string `yaml:"finalizer,omitempty"`

	Namespaces    []string `yaml:"namespaces,omitempty"`
	LabelSelector string   `yaml:"labelSelector,omitempty"`

	Retry *RetryConfig `yaml:"retry,omitempty"`

	RateLimit RateLimitConfig `yaml:"rateLimit,omitempty"`

	MaxReconciliationInterval *Duration `yaml:"maxReconciliationInterval,omitempty"`
	CacheSyncTimeout          Duration  `yaml:"cacheSyncTimeout,omitempty"`

	// ThrowWorkflowErrors fails the reconciliation when a workflow node fails.
	ThrowWorkflowErrors *bool `yaml:"throwWorkflowErrors,omitempty"`

	// VersionComparison is "numeric" or "lexical".
	VersionComparison string `yaml:"versionComparison,omitempty"`

	GenerationAware *bool `yaml:"generationAware,omitempty"`
}

// RetryConfig configures retries of failed reconciliations.
type RetryConfig struct {
	// Disabled turns retries off entirely.
	Disabled        bool     `yaml:"disabled,omitempty"`
	MaxAttempts     int      `yaml:"maxAttempts,omitempty"`
	InitialInterval Duration `yaml:"initialInterval,omitempty"`
	Multiplier      float64  `yaml:"multiplier,omitempty"`
	MaxInterval     Duration `yaml:"maxInterval,omitempty"`
}

// RateLimitConfig limits reconciliations per resource.
type RateLimitConfig struct {
	Limit  int      `yaml:"limit,omitempty"`
	Period Duration `yaml:"period,omitempty"`
}

// Duration is a time.Duration written as a string like "2s" or "10h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string like \"30s\"", value.Line)
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", value.Line, value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// IsZero reports whether d is unset. It lets omitempty drop zero durations.
func (d Duration) IsZero() bool {
	return d == 0
}
