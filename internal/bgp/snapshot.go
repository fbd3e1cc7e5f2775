package bgp

import "net/netip"

// PeerSnapshot is a read-only view of one peer's session state for the
// observable-state interface (spec §6). It never aliases live maps.
type PeerSnapshot struct {
	PeerIP      netip.Addr
	PeerASN     uint32
	State       string
	Role        Role
	Stats       Stats
	AdjInCount  int
	AdjOutCount int
}

// Snapshot returns a point-in-time copy of this peer's externally
// visible state.
func (p *PeerSession) Snapshot() PeerSnapshot {
	return PeerSnapshot{
		PeerIP:      p.cfg.PeerIP,
		PeerASN:     uint32(p.cfg.PeerASN),
		State:       p.state.String(),
		Role:        p.cfg.Role,
		Stats:       p.stats,
		AdjInCount:  p.AdjIn.Len(),
		AdjOutCount: len(p.AdjOut.Snapshot()),
	}
}

// SpeakerSnapshot is the BGP half of spec §6's observable-state record.
type SpeakerSnapshot struct {
	Peers     []PeerSnapshot
	LocRIBLen int
}

// Snapshot walks every peer and the Loc-RIB under a consistent,
// non-blocking read. It is safe to call from the metrics-scrape
// goroutine or a CLI/status endpoint concurrently with normal
// operation.
func (s *Speaker) Snapshot() SpeakerSnapshot {
	s.mu.Lock()
	peers := make([]*PeerSession, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	out := SpeakerSnapshot{LocRIBLen: s.LocRIB.Len()}
	for _, p := range peers {
		out.Peers = append(out.Peers, p.Snapshot())
	}
	return out
}
