package resource

import (
	"strconv"
	"strings"
)

// VersionComparator orders resource versions.
//
// Compare returns -1, 0 or 1 like strings.Compare. The boolean is false when
// the two versions cannot be ordered, in which case callers must not assume
// anything about freshness.
type VersionComparator interface {
	Compare(a, b string) (int, bool)
}

// VersionComparatorFunc adapts a function to VersionComparator.
type VersionComparatorFunc func(a, b string) (int, bool)

// Compare implements VersionComparator.
func (f VersionComparatorFunc) Compare(a, b string) (int, bool) {
	return f(a, b)
}

// NumericVersions compares versions as unsigned decimal integers, which is how
// the Kubernetes API server issues them in practice. Identical strings are
// equal even if they are not numeric; any other non-numeric pair is
// incomparable. An empty version is incomparable.
var NumericVersions VersionComparator = VersionComparatorFunc(compareNumeric)

// LexicalVersions compares versions as plain strings. Empty versions are
// incomparable.
var LexicalVersions VersionComparator = VersionComparatorFunc(func(a, b string) (int, bool) {
	if a == "" || b == "" {
		return 0, false
	}
	return strings.Compare(a, b), true
})

func compareNumeric(a, b string) (int, bool) {
	if a == "" || b == "" {
		return 0, false
	}
	if a == b {
		return 0, true
	}
	av, errA := strconv.ParseUint(a, 10, 64)
	bv, errB := strconv.ParseUint(b, 10, 64)
	if errA != nil || errB != nil {
		return 0, false
	}
	switch {
	case av < bv:
		return -1, true
	case av > bv:
		return 1, true
	default:
		return 0, true
	}
}

// ComparatorByName returns the comparator registered under name.
// An empty name selects NumericVersions.
func ComparatorByName(name string) (VersionComparator, bool) {
	switch name {
	case "", "numeric":
		return NumericVersions, true
	case "lexical":
		return LexicalVersions, true
	default:
		return nil, false
	}
}
