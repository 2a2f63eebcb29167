package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"

	"converge/internal/controller"
	"converge/internal/retry"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0644))
	return dir
}

func TestLoadConfig_DefaultOnly(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ModeAuto, cfg.Mode)
	assert.Equal(t, DefaultFilesystemPath, cfg.FilesystemPath)
	assert.Equal(t, DefaultMetricsAddress, cfg.MetricsAddress)
	assert.Equal(t, controller.DefaultReconcileWorkers, cfg.Workers.Reconcile)
	assert.Equal(t, controller.DefaultWorkflowWorkers, cfg.Workers.Workflow)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout.Std())
	assert.Empty(t, cfg.Controllers)
}

func TestLoadConfig_File(t *testing.T) {
	dir := writeConfig(t, `
mode: filesystem
filesystemPath: /var/lib/converge
metricsAddress: ""
workers:
  reconcile: 4
controllers:
  webpages:
    finalizer: webpages.example.com/cleanup
    namespaces: [default, staging]
    labelSelector: "tier in (frontend)"
    retry:
      maxAttempts: 3
      initialInterval: 500ms
    rateLimit:
      limit: 2
      period: 1s
    maxReconciliationInterval: 1h
    generationAware: false
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, ModeFilesystem, cfg.Mode)
	assert.Equal(t, "/var/lib/converge", cfg.FilesystemPath)
	assert.Empty(t, cfg.MetricsAddress, "explicit empty disables metrics")
	assert.Equal(t, 4, cfg.Workers.Reconcile)
	assert.Equal(t, controller.DefaultWorkflowWorkers, cfg.Workers.Workflow)

	cc := cfg.Controller("webpages")
	assert.Equal(t, "webpages.example.com/cleanup", cc.Finalizer)
	assert.Equal(t, []string{"default", "staging"}, cc.Namespaces)
	assert.Equal(t, 3, cc.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cc.Retry.InitialInterval.Std())
	assert.Equal(t, retry.DefaultMultiplier, cc.Retry.Multiplier, "unset retry fields get defaults")
	assert.Equal(t, time.Hour, cc.MaxReconciliationInterval.Std())
	assert.False(t, *cc.GenerationAware)
	assert.True(t, *cc.ThrowWorkflowErrors)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		errorType string
		contains  string
	}{
		{
			name:      "malformed yaml",
			content:   "mode: [",
			errorType: "parse",
		},
		{
			name:      "bad duration",
			content:   "shutdownTimeout: soon",
			errorType: "parse",
			contains:  "invalid duration",
		},
		{
			name:      "unknown mode",
			content:   "mode: cloud",
			errorType: "validation",
			contains:  "must be one of",
		},
		{
			name: "several invalid fields",
			content: `
controllers:
  webpages:
    finalizer: nodomain
    labelSelector: "a in (("
    retry:
      multiplier: 0.5
`,
			errorType: "validation",
			contains:  "3 invalid fields",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)

			var ce ConfigurationError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.errorType, ce.ErrorType)
			assert.Equal(t, configFileName, ce.FileName)
			if tt.contains != "" {
				assert.Contains(t, ce.Message, tt.contains)
			}
			assert.Contains(t, ce.DetailedError(), "Configuration Error in config.yaml")
		})
	}
}

func TestLoadConfig_ValidationErrorsUnwrap(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "workers:\n  reconcile: -1\n"))
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 1)
	assert.Equal(t, "workers.reconcile", verrs[0].Field)
}

func TestValidateFinalizer(t *testing.T) {
	tests := []struct {
		finalizer string
		valid     bool
	}{
		{"", true},
		{controller.DisabledFinalizer, true},
		{"webpages.converge.io/finalizer", true},
		{"finalizer", false},
		{"example.com/", false},
		{"Example_.com/bad name", false},
	}
	for _, tt := range tests {
		t.Run(tt.finalizer, func(t *testing.T) {
			err := ValidateFinalizer("finalizer", tt.finalizer)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestControllerOptions(t *testing.T) {
	type object = *corev1.ConfigMap

	opts, err := ControllerOptions[object](GetDefaultControllerConfig())
	require.NoError(t, err)
	require.NotNil(t, opts.Retry)
	assert.Equal(t, retry.DefaultPolicy(), *opts.Retry)
	assert.Equal(t, controller.DefaultMaxReconciliationInterval, opts.MaxReconciliationInterval)
	assert.True(t, opts.GenerationAware)
	assert.Nil(t, opts.LabelSelector)

	cc := ControllerConfig{
		Finalizer:         controller.DisabledFinalizer,
		LabelSelector:     "tier=frontend",
		Retry:             &RetryConfig{Disabled: true},
		VersionComparison: VersionComparisonLexical,
		RateLimit:         RateLimitConfig{Limit: 3, Period: Duration(time.Second)},
	}
	opts, err = ControllerOptions[object](cc)
	require.NoError(t, err)
	assert.Nil(t, opts.Retry)
	assert.Equal(t, controller.DisabledFinalizer, opts.Finalizer)
	assert.Equal(t, "tier=frontend", opts.LabelSelector.String())
	assert.Equal(t, 3, opts.RateLimit.Limit)
	assert.Equal(t, time.Second, opts.RateLimit.Period)

	cmp, ok := opts.Versions.Compare("9", "10")
	assert.True(t, ok)
	assert.Equal(t, 1, cmp, "lexical comparison orders \"9\" after \"10\"")
}

func TestConfig_ManagerConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Workers.Workflow = 3

	mc := cfg.ManagerConfig()
	assert.Equal(t, controller.DefaultReconcileWorkers, mc.ReconcileWorkers)
	assert.Equal(t, 3, mc.WorkflowWorkers)
	assert.Equal(t, DefaultShutdownTimeout, mc.ShutdownTimeout)
}
