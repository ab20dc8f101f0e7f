// Package scope defines scope keys, the specificity partial order over
// them, and the registry of concrete dimension values observed per factor.
//
// A scope narrows a factor to a context by pinning some of the factor's
// declared dimensions to concrete values (e.g. domain=sales, system=crm).
// Dimensions left unset are "generic": the assertion applies at that level
// of generality. Two keys for the same factor are either equal, ordered by
// specificity (one pins a strict superset of the other's dimensions with
// equal values on the shared ones), or incomparable.
package scope

import (
	"sort"
	"strings"
)

// Generic is the canonical form of a key with no dimension pinned.
const Generic = "*"

// Key assigns declared dimensions to concrete values. A dimension that is
// absent (or mapped to the empty string) is unspecified. The zero value is
// the fully generic key.
type Key map[string]string

// Relation is the outcome of comparing two keys under the specificity order.
type Relation int

const (
	// Equal means both keys pin the same dimensions to the same values.
	Equal Relation = iota

	// MoreSpecific means the first key pins a strict superset of the
	// second's dimensions, agreeing on the shared ones.
	MoreSpecific

	// LessSpecific is the inverse of MoreSpecific.
	LessSpecific

	// Incomparable means the keys conflict on a shared dimension or each
	// pins a dimension the other does not.
	Incomparable
)

// Value returns the concrete value for a dimension, or "" if unspecified.
func (k Key) Value(dim string) string {
	return k[dim]
}

// Has reports whether the dimension is pinned to a concrete value.
func (k Key) Has(dim string) bool {
	return k[dim] != ""
}

// Specified returns the pinned dimension names in sorted order.
func (k Key) Specified() []string {
	dims := make([]string, 0, len(k))
	for dim, val := range k {
		if val != "" {
			dims = append(dims, dim)
		}
	}
	sort.Strings(dims)
	return dims
}

// IsGeneric reports whether no dimension is pinned.
func (k Key) IsGeneric() bool {
	for _, val := range k {
		if val != "" {
			return false
		}
	}
	return true
}

// Clone returns an independent copy with unspecified entries dropped.
func (k Key) Clone() Key {
	out := make(Key, len(k))
	for dim, val := range k {
		if val != "" {
			out[dim] = val
		}
	}
	return out
}

// Canonical returns a stable string form: pinned dimensions sorted by name
// and joined as "dim=value" pairs with "|". The fully generic key renders
// as Generic. Used as a store key and for deterministic ordering, so it
// must not depend on map iteration order.
func (k Key) Canonical() string {
	dims := k.Specified()
	if len(dims) == 0 {
		return Generic
	}
	parts := make([]string, len(dims))
	for i, dim := range dims {
		parts[i] = dim + "=" + k[dim]
	}
	return strings.Join(parts, "|")
}

// Compare places a relative to b in the specificity order.
func Compare(a, b Key) Relation {
	aOnly, bOnly := 0, 0
	for dim, av := range a {
		if av == "" {
			continue
		}
		bv := b[dim]
		switch {
		case bv == "":
			aOnly++
		case bv != av:
			return Incomparable
		}
	}
	for dim, bv := range b {
		if bv != "" && a[dim] == "" {
			bOnly++
		}
	}
	switch {
	case aOnly == 0 && bOnly == 0:
		return Equal
	case aOnly > 0 && bOnly == 0:
		return MoreSpecific
	case aOnly == 0 && bOnly > 0:
		return LessSpecific
	default:
		return Incomparable
	}
}

// ImmediateParents returns every key obtained by unpinning exactly one
// dimension of k, in sorted dimension order. A key with fewer than one
// pinned dimension has no parents.
func ImmediateParents(k Key) []Key {
	dims := k.Specified()
	if len(dims) == 0 {
		return nil
	}
	parents := make([]Key, 0, len(dims))
	for _, drop := range dims {
		parent := k.Clone()
		delete(parent, drop)
		parents = append(parents, parent)
	}
	return parents
}
