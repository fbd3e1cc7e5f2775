// Package bgp implements the BGP-4 speaker: per-peer sessions and FSMs,
// the three-stage RIB, the best-path decision process, import/export
// policy and route reflection (spec §4.3-§4.7).
package bgp

import (
	"net/netip"
	"time"

	"github.com/nextpath/routed/internal/bgpwire"
)

// ValidationState is the RPKI origin-validation outcome recorded on a
// route, per spec §3's BgpRoute entity. Unverified is the state every
// route starts in when RPKI validation (internal/bgp/advanced) is
// disabled.
type ValidationState uint8

const (
	ValidationUnverified ValidationState = iota
	ValidationValid
	ValidationInvalid
	ValidationNotFound
)

// Route is spec §3's BgpRoute: a candidate path to a prefix, owned by
// exactly one RIB at a time (a pointer copy lives in Loc-RIB when the
// route is selected best, rather than a second allocation).
type Route struct {
	Prefix     netip.Prefix
	Attributes bgpwire.PathAttributeSet

	PeerID bgpwire.Identifier
	PeerIP netip.Addr

	ReceiveTime time.Time

	Validation ValidationState
	Stale      bool
	Best       bool
}

// Clone makes a shallow copy suitable for handing to another RIB
// (e.g. Adj-RIB-Out) without aliasing the Best/Stale flags of the
// original.
func (r *Route) Clone() *Route {
	cp := *r
	return &cp
}
