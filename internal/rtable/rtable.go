// Package rtable provides the prefix-keyed table behind the BGP stores
// the spec defines as "keyed by prefix": Adj-RIB-In, Loc-RIB and
// Adj-RIB-Out (internal/bgp). The installer's RouteSink
// (internal/install) is a plain map and does not use it. The BGP
// stores are exact-match tables over a
// bart.Table[V], which gives us compact storage and O(1)-ish lookup
// without writing and maintaining a bespoke trie.
package rtable

import (
	"net/netip"

	"github.com/gaissmai/bart"
)

// Table is an exact-match prefix table: one entry per distinct
// (address, length) pair. bart.Table is natively a longest-prefix-match
// structure; every lookup here goes through the exact-match entry
// points (Get/Delete) so the semantics stay "one entry per prefix", as
// every RIB in the spec requires.
type Table[V any] struct {
	t bart.Table[V]
}

// New creates an empty table.
func New[V any]() *Table[V] {
	return &Table[V]{}
}

// Set inserts or replaces the value stored for pfx.
func (t *Table[V]) Set(pfx netip.Prefix, v V) {
	t.t.Insert(pfx, v)
}

// Get returns the value stored for pfx and whether it was present.
func (t *Table[V]) Get(pfx netip.Prefix) (V, bool) {
	return t.t.Get(pfx)
}

// Delete removes pfx, if present.
func (t *Table[V]) Delete(pfx netip.Prefix) {
	t.t.Delete(pfx)
}

// Len returns the number of distinct prefixes stored.
func (t *Table[V]) Len() int {
	return t.t.Size()
}

// All iterates every (prefix, value) pair. Order is unspecified.
func (t *Table[V]) All(fn func(netip.Prefix, V) bool) {
	for pfx, v := range t.t.All() {
		if !fn(pfx, v) {
			return
		}
	}
}

// Snapshot copies out every (prefix, value) pair, for use by the
// read-only observable-state interface (spec §6) which must never hand
// out a live reference into scheduler-owned state.
func (t *Table[V]) Snapshot() map[netip.Prefix]V {
	out := make(map[netip.Prefix]V, t.Len())
	t.All(func(p netip.Prefix, v V) bool {
		out[p] = v
		return true
	})
	return out
}
