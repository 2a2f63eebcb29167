// Package logging provides the structured, subsystem-tagged logger used
// throughout converge.
//
// This package is a thin layer over Go's standard slog package. Every entry
// carries a subsystem attribute so the output of the event processor, the
// dispatcher and the workflow engine can be told apart and filtered.
//
// # Usage
//
//	logging.Init(logging.FormatJSON, logging.LevelInfo, os.Stderr)
//
//	logging.Info("EventProcessor", "Submitting %s for reconciliation", id)
//	logging.Debug("Informer", "Relisting %s after watch closed", kind)
//	logging.Warn("Workflow", "Node %s is not ready", name)
//	logging.Error("Dispatcher", err, "Failed to update status of %s", id)
//
// # Subsystems
//
//   - EventProcessor: event handling, retries and timers
//   - Dispatcher: finalizers and calls into user reconcilers
//   - Workflow: dependent resource graph execution
//   - Informer, Cache: list/watch of the remote store and the resource cache
//   - Dependent: creation, update and deletion of secondary resources
//   - Executor: worker pools
//   - Controller, Manager: lifecycle
//   - ConfigLoader: configuration loading and validation
//   - FilesystemStore: the YAML manifest store
//   - WebPage: the sample controller
//   - Bootstrap: application startup
//
// # Controller-Runtime Integration
//
// Init also installs a logr bridge (logr.FromSlogHandler) as the
// controller-runtime logger, so the Kubernetes client libraries log through
// the same handler without warnings about an uninitialized logger.
package logging
