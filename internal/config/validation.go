package config

import (
	"fmt"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/validation"

	"converge/internal/controller"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateFinalizer checks that a finalizer is a qualified name with a domain
// prefix, as required for Kubernetes finalizers. Empty and "-" are accepted.
func ValidateFinalizer(field, finalizer string) error {
	if finalizer == "" || finalizer == controller.DisabledFinalizer {
		return nil
	}
	if !strings.Contains(finalizer, "/") {
		return ValidationError{
			Field:   field,
			Value:   finalizer,
			Message: "must have a domain prefix, e.g. example.com/finalizer",
		}
	}
	if errs := validation.IsQualifiedName(finalizer); len(errs) > 0 {
		return ValidationError{
			Field:   field,
			Value:   finalizer,
			Message: strings.Join(errs, ", "),
		}
	}
	return nil
}

// Validate checks a loaded configuration. Defaults must have been applied.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if err := ValidateOneOf("mode", string(cfg.Mode),
		[]string{string(ModeAuto), string(ModeKubernetes), string(ModeFilesystem)}); err != nil {
		errs = append(errs, err.(ValidationError))
	}
	if cfg.Mode == ModeFilesystem && strings.TrimSpace(cfg.FilesystemPath) == "" {
		errs.Add("filesystemPath", "is required in filesystem mode")
	}
	if cfg.Workers.Reconcile < 0 {
		errs.Add("workers.reconcile", "must not be negative", cfg.Workers.Reconcile)
	}
	if cfg.Workers.Workflow < 0 {
		errs.Add("workers.workflow", "must not be negative", cfg.Workers.Workflow)
	}

	names := make([]string, 0, len(cfg.Controllers))
	for name := range cfg.Controllers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		validateController(&errs, "controllers."+name, cfg.Controllers[name])
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateController(errs *ValidationErrors, prefix string, cc ControllerConfig) {
	if err := ValidateFinalizer(prefix+".finalizer", cc.Finalizer); err != nil {
		*errs = append(*errs, err.(ValidationError))
	}
	if cc.LabelSelector != "" {
		if _, err := labels.Parse(cc.LabelSelector); err != nil {
			errs.Add(prefix+".labelSelector", err.Error(), cc.LabelSelector)
		}
	}
	for i, ns := range cc.Namespaces {
		if msgs := validation.IsDNS1123Label(ns); len(msgs) > 0 {
			errs.Add(fmt.Sprintf("%s.namespaces[%d]", prefix, i), strings.Join(msgs, ", "), ns)
		}
	}
	if r := cc.Retry; r != nil && !r.Disabled {
		if r.MaxAttempts < 1 {
			errs.Add(prefix+".retry.maxAttempts", "must be at least 1", r.MaxAttempts)
		}
		if r.InitialInterval <= 0 {
			errs.Add(prefix+".retry.initialInterval", "must be positive", r.InitialInterval.Std().String())
		}
		if r.Multiplier < 1 {
			errs.Add(prefix+".retry.multiplier", "must be at least 1", r.Multiplier)
		}
		if r.MaxInterval < 0 {
			errs.Add(prefix+".retry.maxInterval", "must not be negative", r.MaxInterval.Std().String())
		}
	}
	if cc.RateLimit.Limit < 0 || cc.RateLimit.Period < 0 {
		errs.Add(prefix+".rateLimit", "limit and period must not be negative")
	}
	if (cc.RateLimit.Limit > 0) != (cc.RateLimit.Period > 0) {
		errs.Add(prefix+".rateLimit", "limit and period must be set together")
	}
	if cc.MaxReconciliationInterval != nil && *cc.MaxReconciliationInterval < 0 {
		errs.Add(prefix+".maxReconciliationInterval", "must not be negative")
	}
	if cc.VersionComparison != "" {
		if err := ValidateOneOf(prefix+".versionComparison", cc.VersionComparison,
			[]string{VersionComparisonNumeric, VersionComparisonLexical}); err != nil {
			*errs = append(*errs, err.(ValidationError))
		}
	}
}

// FormatValidationError creates a consistent validation error message
func FormatValidationError(entityType, entityName string, err error) error {
	if err == nil {
		return nil
	}

	if entityName != "" {
		return fmt.Errorf("validation failed for %s '%s': %w", entityType, entityName, err)
	}
	return fmt.Errorf("validation failed for %s: %w", entityType, err)
}
