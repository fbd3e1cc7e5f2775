package bgp

import (
	"net/netip"
	"time"
)

// NextHopResolver answers whether a NEXT_HOP is currently reachable in
// the host's routing view, and its IGP cost if known. The OSPF SPF
// table (internal/ospf) implements this in cmd/routed's wiring; when no
// resolver is set (standalone BGP, most tests) the decision process
// falls back to alwaysResolvable, which treats every next hop as
// reachable with an unknown (tied) cost, per spec §4.5 step (f).
type NextHopResolver interface {
	Resolvable(addr netip.Addr) bool
	Cost(addr netip.Addr) (cost uint32, known bool)
}

type alwaysResolvable struct{}

func (alwaysResolvable) Resolvable(netip.Addr) bool             { return true }
func (alwaysResolvable) Cost(netip.Addr) (uint32, bool)          { return 0, false }

// LocRIBChange is emitted by the decision process whenever a prefix's
// Loc-RIB winner changes (including to/from absent), so
// internal/install's cross-protocol selection can react (spec §4.11).
type LocRIBChange struct {
	Prefix netip.Prefix
	Route  *Route // nil means the prefix has no BGP route anymore
}

// notifyDecision marks prefixes dirty and arms the debounce timer; the
// actual recompute happens in runDecision once the debounce window
// closes, coalescing bursty UPDATE churn into one pass (spec §4.5).
func (s *Speaker) notifyDecision(prefixes []netip.Prefix) {
	s.mu.Lock()
	for _, p := range prefixes {
		s.dirty[p] = true
	}
	s.mu.Unlock()
	s.debouncer.Trigger()
}

// runDecision is the nine-step best-path selection of spec §4.5,
// applied independently to every prefix marked dirty since the last
// run. It is the sole mutator of Loc-RIB (spec §5).
func (s *Speaker) runDecision() {
	s.mu.Lock()
	dirty := s.dirty
	s.dirty = map[netip.Prefix]bool{}
	peers := make([]*PeerSession, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for prefix := range dirty {
		s.decideOne(prefix, peers)
	}
}

func (s *Speaker) decideOne(prefix netip.Prefix, peers []*PeerSession) {
	// Step 1: gather candidates from every peer's Adj-RIB-In, applying
	// per-peer import policy (already applied at ingest time in
	// handleUpdate, so AdjIn already holds only accepted routes).
	var candidates []*Route
	for _, peer := range peers {
		if r, ok := peer.AdjIn.Get(prefix); ok {
			candidates = append(candidates, r)
		}
	}
	if local, ok := s.localRoutes[prefix]; ok {
		candidates = append(candidates, local)
	}

	// Step 2: discard candidates whose NEXT_HOP is unresolvable.
	resolver := s.nextHop
	if resolver == nil {
		resolver = alwaysResolvable{}
	}
	filtered := candidates[:0]
	for _, c := range candidates {
		if resolver.Resolvable(c.Attributes.NextHop) {
			filtered = append(filtered, c)
		}
	}
	candidates = filtered

	if len(candidates) == 0 {
		if _, had := s.LocRIB.Get(prefix); had {
			s.LocRIB.remove(prefix)
			s.obs.OnLocRIBChange(prefix, nil)
			s.emitChange(LocRIBChange{Prefix: prefix, Route: nil})
			s.advertiseAll(prefix, nil)
		}
		return
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if s.better(c, best, resolver) {
			best = c
		}
	}

	prev, hadPrev := s.LocRIB.Get(prefix)
	changed := !hadPrev || prev != best
	for _, c := range candidates {
		c.Best = c == best
	}
	s.LocRIB.set(prefix, best)
	if changed {
		s.obs.OnLocRIBChange(prefix, best)
		s.emitChange(LocRIBChange{Prefix: prefix, Route: best})
		s.advertiseAll(prefix, best)
	}
}

// better implements spec §4.5 step 3's total order: the first
// tie-break that differs decides. Returns true if a beats b.
func (s *Speaker) better(a, b *Route, resolver NextHopResolver) bool {
	// (a) higher LOCAL_PREF wins.
	al, bl := localPrefOf(a), localPrefOf(b)
	if al != bl {
		return al > bl
	}
	// (b) shorter AS_PATH wins.
	if la, lb := a.Attributes.ASPath.Length(), b.Attributes.ASPath.Length(); la != lb {
		return la < lb
	}
	// (c) lower ORIGIN wins (IGP < EGP < INCOMPLETE).
	if a.Attributes.Origin != b.Attributes.Origin {
		return a.Attributes.Origin < b.Attributes.Origin
	}
	// (d) same neighboring AS: lower MED wins.
	if neighborAS(a) == neighborAS(b) {
		am, bm := medOf(a), medOf(b)
		if am != bm {
			return am < bm
		}
	}
	// (e) eBGP beats iBGP.
	aE, bE := isEBGP(a, s), isEBGP(b, s)
	if aE != bE {
		return aE
	}
	// (f) lower IGP cost to NEXT_HOP wins; unknown costs tie.
	ac, aok := resolver.Cost(a.Attributes.NextHop)
	bc, bok := resolver.Cost(b.Attributes.NextHop)
	if aok && bok && ac != bc {
		return ac < bc
	}
	// (g) oldest route wins.
	if !a.ReceiveTime.Equal(b.ReceiveTime) {
		return a.ReceiveTime.Before(b.ReceiveTime)
	}
	// (h) lower BGP-Identifier wins.
	if a.PeerID != b.PeerID {
		return a.PeerID < b.PeerID
	}
	// (i) lower peer-IP wins.
	return a.PeerIP.Compare(b.PeerIP) < 0
}

func localPrefOf(r *Route) uint32 {
	if r.Attributes.LocalPref != nil {
		return *r.Attributes.LocalPref
	}
	return 100 // RFC 4271 default
}

func medOf(r *Route) uint32 {
	if r.Attributes.MED != nil {
		return *r.Attributes.MED
	}
	return 0
}

func neighborAS(r *Route) uint32 {
	if len(r.Attributes.ASPath) == 0 || len(r.Attributes.ASPath[0].ASNs) == 0 {
		return 0
	}
	return uint32(r.Attributes.ASPath[0].ASNs[0])
}

func isEBGP(r *Route, s *Speaker) bool {
	p, ok := s.peerFor(r.PeerIP)
	if !ok {
		return false // locally originated, treated as iBGP-equivalent preference
	}
	return p.cfg.Role == RoleEBGP
}

func (s *Speaker) peerFor(ip netip.Addr) (*PeerSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[ip]
	return p, ok
}

func (s *Speaker) emitChange(c LocRIBChange) {
	select {
	case s.Changes <- c:
	case <-time.After(time.Second):
		s.log.Warnw("dropped LocRIBChange, installer not draining", "prefix", c.Prefix)
	}
}
