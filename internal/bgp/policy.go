package bgp

import (
	"net/netip"
	"regexp"

	"github.com/nextpath/routed/internal/bgpwire"
)

// Decision is a policy's terminal verdict for a route.
type Decision uint8

const (
	Accept Decision = iota
	Reject
)

// Matcher is one of a Rule's conjoined match conditions, spec §4.6.
type Matcher interface {
	Match(*Route) bool
}

// PrefixMatch matches an exact prefix or a prefix whose length falls in
// [MinLen, MaxLen] and which Within covers (longest-match containment).
type PrefixMatch struct {
	Within       netip.Prefix
	Exact        bool
	MinLen       int
	MaxLen       int
}

func (m PrefixMatch) Match(r *Route) bool {
	if m.Exact {
		return r.Prefix == m.Within
	}
	if !m.Within.Overlaps(r.Prefix) || !m.Within.Contains(r.Prefix.Addr()) {
		return false
	}
	l := r.Prefix.Bits()
	return l >= m.MinLen && l <= m.MaxLen
}

// ASPathRegexMatch matches the AS_PATH rendered as a space-separated
// decimal string against a regular expression, the common
// router-config idiom for AS-path filters.
type ASPathRegexMatch struct {
	Re *regexp.Regexp
}

func (m ASPathRegexMatch) Match(r *Route) bool {
	return m.Re.MatchString(asPathString(r.Attributes.ASPath))
}

// ASPathLengthMatch matches on the tie-break-equivalent AS_PATH length
// (spec §4.5 step (b) semantics: a set counts as 1).
type ASPathLengthMatch struct {
	Max int
}

func (m ASPathLengthMatch) Match(r *Route) bool {
	return r.Attributes.ASPath.Length() <= m.Max
}

// CommunityMatch matches an exact community value, or any community
// when Wildcard is set (used to test "has any community at all").
type CommunityMatch struct {
	Value    uint32
	Wildcard bool
}

func (m CommunityMatch) Match(r *Route) bool {
	if m.Wildcard {
		return len(r.Attributes.Communities) > 0
	}
	for _, c := range r.Attributes.Communities {
		if c == m.Value {
			return true
		}
	}
	return false
}

// NextHopMatch matches an exact NEXT_HOP address.
type NextHopMatch struct {
	Addr netip.Addr
}

func (m NextHopMatch) Match(r *Route) bool {
	return r.Attributes.NextHop == m.Addr
}

// Cmp is a generic comparator used by LocalPrefMatch/MEDMatch.
type Cmp uint8

const (
	CmpEQ Cmp = iota
	CmpLT
	CmpGT
)

type LocalPrefMatch struct {
	Op    Cmp
	Value uint32
}

func (m LocalPrefMatch) Match(r *Route) bool {
	if r.Attributes.LocalPref == nil {
		return false
	}
	return compareU32(m.Op, *r.Attributes.LocalPref, m.Value)
}

type MEDMatch struct {
	Op    Cmp
	Value uint32
}

func (m MEDMatch) Match(r *Route) bool {
	if r.Attributes.MED == nil {
		return false
	}
	return compareU32(m.Op, *r.Attributes.MED, m.Value)
}

func compareU32(op Cmp, a, b uint32) bool {
	switch op {
	case CmpLT:
		return a < b
	case CmpGT:
		return a > b
	default:
		return a == b
	}
}

type OriginMatch struct {
	Origin bgpwire.Origin
}

func (m OriginMatch) Match(r *Route) bool {
	return r.Attributes.Origin == m.Origin
}

// ActionKind enumerates spec §4.6's action vocabulary.
type ActionKind uint8

const (
	ActSetLocalPref ActionKind = iota
	ActSetMED
	ActSetNextHop
	ActPrependASPath
	ActAddCommunity
	ActRemoveCommunity
	ActSetCommunity
)

type Action struct {
	Kind ActionKind

	U32       uint32         // SetLocalPref, SetMED
	Addr      netip.Addr     // SetNextHop
	ASN       bgpwire.ASN    // PrependASPath
	Count     int            // PrependASPath
	Community uint32         // AddCommunity, RemoveCommunity
	Communities []uint32     // SetCommunity
}

// Apply mutates route's attributes in place per the action.
func (a Action) Apply(route *Route) {
	switch a.Kind {
	case ActSetLocalPref:
		v := a.U32
		route.Attributes.LocalPref = &v
	case ActSetMED:
		v := a.U32
		route.Attributes.MED = &v
	case ActSetNextHop:
		route.Attributes.NextHop = a.Addr
	case ActPrependASPath:
		prepend := make([]bgpwire.ASN, a.Count)
		for i := range prepend {
			prepend[i] = a.ASN
		}
		seg := bgpwire.ASPathSegment{Type: bgpwire.ASSequence, ASNs: prepend}
		route.Attributes.ASPath = append(bgpwire.ASPath{seg}, route.Attributes.ASPath...)
	case ActAddCommunity:
		comms := append([]uint32(nil), route.Attributes.Communities...)
		route.Attributes.Communities = append(comms, a.Community)
	case ActRemoveCommunity:
		var out []uint32
		for _, c := range route.Attributes.Communities {
			if c != a.Community {
				out = append(out, c)
			}
		}
		route.Attributes.Communities = out
	case ActSetCommunity:
		route.Attributes.Communities = a.Communities
	}
}

// Rule is spec §4.6's match-conjunction + action-sequence + terminal
// verdict. Terminal is the rule's own accept/reject outcome, applied
// after its (non-terminal) Actions run.
type Rule struct {
	Matches  []Matcher
	Actions  []Action
	Terminal Decision
}

func (ru Rule) matches(r *Route) bool {
	for _, m := range ru.Matches {
		if !m.Match(r) {
			return false
		}
	}
	return true
}

// Policy is an ordered rule list plus a default verdict, spec §4.6.
// Policies are applied at exactly two points: import (before
// Adj-RIB-In insertion) and export (after Loc-RIB selection, before
// Adj-RIB-Out write) — never anywhere else.
type Policy struct {
	Rules   []Rule
	Default Decision
}

// DefaultPolicy accepts everything, used for peers with no configured
// import/export policy.
func DefaultPolicy() *Policy {
	return &Policy{Default: Accept}
}

// Evaluate runs the policy against route, returning the (possibly
// action-modified) route and whether it survives. route is cloned
// before any action mutates it, so the caller's original is untouched
// on rejection.
func (p *Policy) Evaluate(route *Route) (*Route, bool) {
	if p == nil {
		return route, true
	}
	out := route.Clone()
	for _, rule := range p.Rules {
		if !rule.matches(out) {
			continue
		}
		for _, act := range rule.Actions {
			act.Apply(out)
		}
		return out, rule.Terminal == Accept
	}
	return out, p.Default == Accept
}

// EvaluateLayered implements spec.md's Open-Question resolution:
// per-peer policy runs first; the per-peer policy's own Default decides
// when none of its rules match. A nil per-peer policy defers entirely
// to global.
func EvaluateLayered(global, perPeer *Policy, route *Route) (*Route, bool) {
	if perPeer == nil {
		return global.Evaluate(route)
	}
	return perPeer.Evaluate(route)
}

func asPathString(path bgpwire.ASPath) string {
	var b []byte
	for _, seg := range path {
		for _, asn := range seg.ASNs {
			if len(b) > 0 {
				b = append(b, ' ')
			}
			b = appendUint(b, uint64(asn))
		}
	}
	return string(b)
}

func appendUint(b []byte, v uint64) []byte {
	if v == 0 {
		return append(b, '0')
	}
	start := len(b)
	for v > 0 {
		b = append(b, byte('0'+v%10))
		v /= 10
	}
	// reverse the digits just appended
	for i, j := start, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b
}
