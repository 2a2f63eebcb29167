// Package app provides application bootstrap and lifecycle management for converge.
//
// # Bootstrap
//
// NewApplication performs the complete initialization sequence:
//
//  1. Configures logging from the command line flags
//  2. Loads config.yaml from the configuration directory
//  3. Picks the store backend (Kubernetes, filesystem, or auto detection)
//  4. Creates the Prometheus registry and processor metrics
//  5. Creates the manager and registers the WebPage controller
//
// In auto mode the Kubernetes cluster found by controller-runtime's standard
// config detection is used when the WebPage resources are served; otherwise
// resources are kept as YAML files below filesystemPath. Only the Kubernetes
// backend garbage collects owned resources, so in filesystem mode the
// workflow deletes dependents itself and WebPages get a finalizer.
//
// # Execution
//
// Run starts the manager and the /metrics endpoint and blocks until the
// context is cancelled. While caches sync a spinner is shown on a terminal.
package app
