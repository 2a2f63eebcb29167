package config

import (
	"time"

	"converge/internal/controller"
	"converge/internal/retry"
)

const (
	DefaultMode            = ModeAuto
	DefaultFilesystemPath  = "resources"
	DefaultMetricsAddress  = ":8080"
	DefaultShutdownTimeout = 30 * time.Second

	VersionComparisonNumeric = "numeric"
	VersionComparisonLexical = "lexical"
)

// GetDefaultConfig returns the configuration used when no config.yaml exists.
func GetDefaultConfig() Config {
	return Config{
		Mode:           DefaultMode,
		FilesystemPath: DefaultFilesystemPath,
		MetricsAddress: DefaultMetricsAddress,
		Workers: WorkersConfig{
			Reconcile: controller.DefaultReconcileWorkers,
			Workflow:  controller.DefaultWorkflowWorkers,
		},
		ShutdownTimeout: Duration(DefaultShutdownTimeout),
	}
}

// GetDefaultControllerConfig returns the settings of a controller that is
// not mentioned in config.yaml.
func GetDefaultControllerConfig() ControllerConfig {
	var cc ControllerConfig
	cc.applyDefaults()
	return cc
}

func (cc *ControllerConfig) applyDefaults() {
	if cc.Retry == nil {
		cc.Retry = &RetryConfig{}
	}
	if !cc.Retry.Disabled {
		if cc.Retry.MaxAttempts == 0 {
			cc.Retry.MaxAttempts = retry.DefaultMaxAttempts
		}
		if cc.Retry.InitialInterval == 0 {
			cc.Retry.InitialInterval = Duration(retry.DefaultInitialInterval)
		}
		if cc.Retry.Multiplier == 0 {
			cc.Retry.Multiplier = retry.DefaultMultiplier
		}
	}
	if cc.MaxReconciliationInterval == nil {
		d := Duration(controller.DefaultMaxReconciliationInterval)
		cc.MaxReconciliationInterval = &d
	}
	if cc.VersionComparison == "" {
		cc.VersionComparison = VersionComparisonNumeric
	}
	if cc.GenerationAware == nil {
		cc.GenerationAware = boolPtr(true)
	}
	if cc.ThrowWorkflowErrors == nil {
		cc.ThrowWorkflowErrors = boolPtr(true)
	}
}

// applyDefaults fills every unset field of c.
func (c *Config) applyDefaults() {
	defaults := GetDefaultConfig()
	if c.Mode == "" {
		c.Mode = defaults.Mode
	}
	if c.FilesystemPath == "" {
		c.FilesystemPath = defaults.FilesystemPath
	}
	if c.Workers.Reconcile == 0 {
		c.Workers.Reconcile = defaults.Workers.Reconcile
	}
	if c.Workers.Workflow == 0 {
		c.Workers.Workflow = defaults.Workers.Workflow
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	for name, cc := range c.Controllers {
		cc.applyDefaults()
		c.Controllers[name] = cc
	}
}

// Controller returns the settings of the named controller with defaults applied.
func (c Config) Controller(name string) ControllerConfig {
	if cc, ok := c.Controllers[name]; ok {
		cc.applyDefaults()
		return cc
	}
	return GetDefaultControllerConfig()
}

func boolPtr(b bool) *bool {
	return &b
}
