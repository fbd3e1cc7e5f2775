package bgp

import (
	"net/netip"
	"testing"
	"time"

	"github.com/nextpath/routed/internal/bgpwire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSpeaker(t *testing.T) *Speaker {
	t.Helper()
	s := NewSpeaker(65000, 0x0a000001)
	t.Cleanup(func() {
		close(s.decisionC)
	})
	return s
}

func addPeer(t *testing.T, s *Speaker, ip string, role Role) *PeerSession {
	t.Helper()
	p := s.AddPeer(Config{
		PeerIP:       netip.MustParseAddr(ip),
		PeerASN:      65001,
		LocalASN:     65000,
		HoldTime:     90 * time.Second,
		ConnectRetry: 30 * time.Second,
		Passive:      true,
		Role:         role,
	})
	t.Cleanup(func() {
		s.RemovePeer(netip.MustParseAddr(ip))
	})
	return p
}

func lp(v uint32) *uint32  { return &v }
func med(v uint32) *uint32 { return &v }

func TestDecisionPrefersHigherLocalPref(t *testing.T) {
	s := newTestSpeaker(t)
	p1 := addPeer(t, s, "192.0.2.1", RoleIBGPNonClient)
	p2 := addPeer(t, s, "192.0.2.2", RoleIBGPNonClient)
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	p1.AdjIn.Add(prefix, &Route{Prefix: prefix, PeerIP: p1.cfg.PeerIP,
		Attributes: bgpwire.PathAttributeSet{LocalPref: lp(100), NextHop: netip.MustParseAddr("198.51.100.1")}})
	p2.AdjIn.Add(prefix, &Route{Prefix: prefix, PeerIP: p2.cfg.PeerIP,
		Attributes: bgpwire.PathAttributeSet{LocalPref: lp(200), NextHop: netip.MustParseAddr("198.51.100.2")}})

	s.decideOne(prefix, []*PeerSession{p1, p2})
	best, ok := s.LocRIB.Get(prefix)
	require.True(t, ok)
	assert.Equal(t, p2.cfg.PeerIP, best.PeerIP)
}

func TestDecisionPrefersShorterASPath(t *testing.T) {
	s := newTestSpeaker(t)
	p1 := addPeer(t, s, "192.0.2.1", RoleEBGP)
	p2 := addPeer(t, s, "192.0.2.2", RoleEBGP)
	prefix := netip.MustParsePrefix("10.0.1.0/24")

	p1.AdjIn.Add(prefix, &Route{Prefix: prefix, PeerIP: p1.cfg.PeerIP, Attributes: bgpwire.PathAttributeSet{
		ASPath:  bgpwire.ASPath{{Type: bgpwire.ASSequence, ASNs: []bgpwire.ASN{65010, 65020}}},
		NextHop: netip.MustParseAddr("198.51.100.1"),
	}})
	p2.AdjIn.Add(prefix, &Route{Prefix: prefix, PeerIP: p2.cfg.PeerIP, Attributes: bgpwire.PathAttributeSet{
		ASPath:  bgpwire.ASPath{{Type: bgpwire.ASSequence, ASNs: []bgpwire.ASN{65030}}},
		NextHop: netip.MustParseAddr("198.51.100.2"),
	}})

	s.decideOne(prefix, []*PeerSession{p1, p2})
	best, ok := s.LocRIB.Get(prefix)
	require.True(t, ok)
	assert.Equal(t, p2.cfg.PeerIP, best.PeerIP)
}

func TestDecisionPrefersLowerMEDFromSameNeighborAS(t *testing.T) {
	s := newTestSpeaker(t)
	p1 := addPeer(t, s, "192.0.2.1", RoleEBGP)
	p2 := addPeer(t, s, "192.0.2.2", RoleEBGP)
	prefix := netip.MustParsePrefix("10.0.2.0/24")
	asPath := bgpwire.ASPath{{Type: bgpwire.ASSequence, ASNs: []bgpwire.ASN{65010}}}

	p1.AdjIn.Add(prefix, &Route{Prefix: prefix, PeerIP: p1.cfg.PeerIP, Attributes: bgpwire.PathAttributeSet{
		ASPath: asPath, MED: med(50), NextHop: netip.MustParseAddr("198.51.100.1"),
	}})
	p2.AdjIn.Add(prefix, &Route{Prefix: prefix, PeerIP: p2.cfg.PeerIP, Attributes: bgpwire.PathAttributeSet{
		ASPath: asPath, MED: med(10), NextHop: netip.MustParseAddr("198.51.100.2"),
	}})

	s.decideOne(prefix, []*PeerSession{p1, p2})
	best, ok := s.LocRIB.Get(prefix)
	require.True(t, ok)
	assert.Equal(t, p2.cfg.PeerIP, best.PeerIP)
}

func TestDecisionPrefersEBGPOverIBGP(t *testing.T) {
	s := newTestSpeaker(t)
	pIBGP := addPeer(t, s, "192.0.2.1", RoleIBGPNonClient)
	pEBGP := addPeer(t, s, "192.0.2.2", RoleEBGP)
	prefix := netip.MustParsePrefix("10.0.3.0/24")

	pIBGP.AdjIn.Add(prefix, &Route{Prefix: prefix, PeerIP: pIBGP.cfg.PeerIP,
		Attributes: bgpwire.PathAttributeSet{NextHop: netip.MustParseAddr("198.51.100.1")}})
	pEBGP.AdjIn.Add(prefix, &Route{Prefix: prefix, PeerIP: pEBGP.cfg.PeerIP,
		Attributes: bgpwire.PathAttributeSet{NextHop: netip.MustParseAddr("198.51.100.2")}})

	s.decideOne(prefix, []*PeerSession{pIBGP, pEBGP})
	best, ok := s.LocRIB.Get(prefix)
	require.True(t, ok)
	assert.Equal(t, pEBGP.cfg.PeerIP, best.PeerIP)
}

func TestDecisionWithdrawsWhenAllCandidatesGone(t *testing.T) {
	s := newTestSpeaker(t)
	p1 := addPeer(t, s, "192.0.2.1", RoleEBGP)
	prefix := netip.MustParsePrefix("10.0.4.0/24")

	p1.AdjIn.Add(prefix, &Route{Prefix: prefix, PeerIP: p1.cfg.PeerIP,
		Attributes: bgpwire.PathAttributeSet{NextHop: netip.MustParseAddr("198.51.100.1")}})
	s.decideOne(prefix, []*PeerSession{p1})
	_, ok := s.LocRIB.Get(prefix)
	require.True(t, ok)

	p1.AdjIn.Remove(prefix)
	s.decideOne(prefix, []*PeerSession{p1})
	_, ok = s.LocRIB.Get(prefix)
	assert.False(t, ok)
}

type unreachableResolver struct{ unreachable netip.Addr }

func (r unreachableResolver) Resolvable(a netip.Addr) bool { return a != r.unreachable }
func (r unreachableResolver) Cost(netip.Addr) (uint32, bool) { return 0, false }

func TestDecisionDiscardsUnresolvableNextHop(t *testing.T) {
	s := newTestSpeaker(t)
	p1 := addPeer(t, s, "192.0.2.1", RoleEBGP)
	p2 := addPeer(t, s, "192.0.2.2", RoleEBGP)
	prefix := netip.MustParsePrefix("10.0.5.0/24")
	unreachableNH := netip.MustParseAddr("198.51.100.1")
	s.SetNextHopResolver(unreachableResolver{unreachable: unreachableNH})

	p1.AdjIn.Add(prefix, &Route{Prefix: prefix, PeerIP: p1.cfg.PeerIP, Attributes: bgpwire.PathAttributeSet{
		LocalPref: lp(500), NextHop: unreachableNH,
	}})
	p2.AdjIn.Add(prefix, &Route{Prefix: prefix, PeerIP: p2.cfg.PeerIP, Attributes: bgpwire.PathAttributeSet{
		NextHop: netip.MustParseAddr("198.51.100.2"),
	}})

	s.decideOne(prefix, []*PeerSession{p1, p2})
	best, ok := s.LocRIB.Get(prefix)
	require.True(t, ok, "the resolvable candidate should still win despite a higher-LocalPref unresolvable one")
	assert.Equal(t, p2.cfg.PeerIP, best.PeerIP)
}
