// Package workflow runs the dependent resources of a primary resource as a
// directed acyclic graph.
//
// # Graph Construction
//
// Nodes are added to a Builder with the dependents they run and the names of
// the nodes they depend on. Build validates the graph before anything runs:
// duplicate names, dependencies on unknown nodes and cycles are all rejected.
// The topological order is computed once with Kahn's algorithm.
//
// # Reconcile
//
// Reconcile starts with the nodes that have no dependencies. Each node runs on
// the workflow's executor:
//
//   - an unmet activation condition or reconcile precondition routes the node
//     and everything depending on it to the delete path, most dependent first
//   - otherwise the dependent is reconciled and its ready postcondition is
//     evaluated
//   - a node runs only once all of its dependencies are reconciled and ready
//   - a failed node blocks its dependents, which are recorded as skipped
//
// Sibling branches run concurrently. The calling goroutine waits on a
// condition variable until no node operation is in flight.
//
// # Cleanup
//
// Cleanup walks the graph in reverse. A node is deleted once every node that
// depends on it is deleted and its own delete postcondition holds. Garbage
// collected dependents rely on owner references and are not deleted explicitly.
//
// # Errors
//
// Node failures never interrupt other branches. They are collected in the
// Result and, unless disabled with WithThrowErrors(false), returned as a single
// *AggregatedError once the whole graph has finished.
//
// # Conditions
//
// Conditions are plain functions of the primary resource. CELCondition builds
// one from a CEL expression over the primary, bound to the variable "self".
//
// Every invocation and every node operation is traced with OpenTelemetry.
package workflow
