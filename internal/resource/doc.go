// Package resource holds the identity and notification types shared by every
// part of the reconciliation runtime.
//
// An ID is the map key for all per-resource state. An Event tags an ID with the
// kind of change the watch observed. A VersionComparator orders two
// metadata.resourceVersion values so the runtime can tell whether its cache has
// caught up with a write it performed.
package resource
