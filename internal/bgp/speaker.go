package bgp

import (
	"net/netip"
	"sync"
	"time"

	"github.com/nextpath/routed/internal/bgp/advanced"
	"github.com/nextpath/routed/internal/bgpwire"
	"github.com/nextpath/routed/internal/rlog"
	"github.com/nextpath/routed/internal/sched"
	"go.uber.org/zap"
)

// Observer receives FSM and Loc-RIB events for the observable-state
// interface and metrics (spec §6); internal/obs implements it.
type Observer interface {
	OnFSMTransition(peer netip.Addr, from, to State)
	OnLocRIBChange(prefix netip.Prefix, best *Route)
}

type noopObserver struct{}

func (noopObserver) OnFSMTransition(netip.Addr, State, State) {}
func (noopObserver) OnLocRIBChange(netip.Prefix, *Route)      {}

// ReflectorConfig activates route reflection (spec §4.7) when set.
type ReflectorConfig struct {
	Enabled   bool
	ClusterID uint32
}

// Speaker is the top-level BGP-4 process: the peer set, the shared
// Loc-RIB, the decision process, and the route-reflection/origination
// glue. One Speaker exists per agent process (spec §2).
type Speaker struct {
	mu    sync.Mutex
	peers map[netip.Addr]*PeerSession

	LocRIB *LocRIB

	localASN  bgpwire.ASN
	routerID  bgpwire.Identifier
	reflector ReflectorConfig

	localRoutes map[netip.Prefix]*Route

	dirty     map[netip.Prefix]bool
	debouncer *sched.Debouncer
	decisionC chan sched.Event

	nextHop NextHopResolver
	obs     Observer

	flap advanced.FlapDamper
	rpki advanced.RPKIValidator
	gr   advanced.GracefulRestartTracker

	// Changes is the Loc-RIB change feed internal/install subscribes to.
	Changes chan LocRIBChange

	log *zap.SugaredLogger
}

// NewSpeaker creates a Speaker with empty RIBs and no peers.
func NewSpeaker(asn bgpwire.ASN, routerID bgpwire.Identifier) *Speaker {
	s := &Speaker{
		peers:       map[netip.Addr]*PeerSession{},
		LocRIB:      NewLocRIB(),
		localASN:    asn,
		routerID:    routerID,
		localRoutes: map[netip.Prefix]*Route{},
		dirty:       map[netip.Prefix]bool{},
		decisionC:   make(chan sched.Event, 1),
		obs:         noopObserver{},
		flap:        advanced.NoFlapDamping(),
		rpki:        advanced.NoRPKIValidation(),
		gr:          advanced.NoGracefulRestart(),
		Changes:     make(chan LocRIBChange, 1024),
		log:         rlog.Named("bgp.speaker"),
	}
	s.debouncer = sched.NewDebouncer("decision", 300*time.Millisecond, s.decisionC)
	go func() {
		for range s.decisionC {
			s.runDecision()
		}
	}()
	return s
}

// SetObserver installs the metrics/snapshot observer.
func (s *Speaker) SetObserver(o Observer) { s.obs = o }

// SetNextHopResolver installs the IGP-cost lookup used by decision
// step (f); typically backed by internal/ospf's SPF table.
func (s *Speaker) SetNextHopResolver(r NextHopResolver) { s.nextHop = r }

// SetFlapDamper, SetRPKIValidator and SetGracefulRestart install the
// advanced-feature managers (spec §9); each defaults to a no-op, so a
// speaker that never calls these still behaves correctly.
func (s *Speaker) SetFlapDamper(d advanced.FlapDamper)            { s.flap = d }
func (s *Speaker) SetRPKIValidator(v advanced.RPKIValidator)      { s.rpki = v }
func (s *Speaker) SetGracefulRestart(g advanced.GracefulRestartTracker) { s.gr = g }

// EnableReflection turns this speaker into a route reflector, spec §4.7.
func (s *Speaker) EnableReflection(clusterID uint32) {
	s.reflector = ReflectorConfig{Enabled: true, ClusterID: clusterID}
}

// AddPeer registers and starts a new peer session.
func (s *Speaker) AddPeer(cfg Config) *PeerSession {
	p := NewPeerSession(s, cfg)
	s.mu.Lock()
	s.peers[cfg.PeerIP] = p
	s.mu.Unlock()
	go p.Run()
	return p
}

// RemovePeer stops and forgets a peer, per spec §3's PeerSession
// destruction at process shutdown (or reconfiguration).
func (s *Speaker) RemovePeer(ip netip.Addr) {
	s.mu.Lock()
	p, ok := s.peers[ip]
	delete(s.peers, ip)
	s.mu.Unlock()
	if ok {
		p.Stop()
	}
}

// Originate installs a locally-sourced route (e.g. a connected/static
// redistribution) directly into the decision process's candidate set,
// bypassing any peer's Adj-RIB-In.
func (s *Speaker) Originate(prefix netip.Prefix, attrs bgpwire.PathAttributeSet) {
	route := &Route{
		Prefix:      prefix,
		Attributes:  attrs,
		PeerID:      s.routerID,
		ReceiveTime: time.Now(),
	}
	s.mu.Lock()
	s.localRoutes[prefix] = route
	s.mu.Unlock()
	s.notifyDecision([]netip.Prefix{prefix})
}

// Withdraw removes a local origination.
func (s *Speaker) Withdraw(prefix netip.Prefix) {
	s.mu.Lock()
	delete(s.localRoutes, prefix)
	s.mu.Unlock()
	s.notifyDecision([]netip.Prefix{prefix})
}

// handleUpdate applies import policy and writes the result into the
// peer's Adj-RIB-In (spec §4.5), then arms the decision process for
// every affected prefix.
func (p *PeerSession) handleUpdate(u bgpwire.UpdateMessage) {
	var affected []netip.Prefix

	for _, w := range u.WithdrawnRoutes {
		p.speaker.flap.OnUpdate(w, true)
		p.AdjIn.Remove(w)
		affected = append(affected, w)
	}
	if u.Attributes.MPUnreach != nil {
		for _, w := range u.Attributes.MPUnreach.Withdrawn {
			p.speaker.flap.OnUpdate(w, true)
			p.AdjIn.Remove(w)
			affected = append(affected, w)
		}
	}

	nlris := append([]netip.Prefix(nil), u.NLRI...)
	attrs := u.Attributes
	if u.Attributes.MPReach != nil && len(u.Attributes.MPReach.NextHop) > 0 {
		mp := u.Attributes.MPReach
		attrs.NextHop = mp.NextHop[0]
		nlris = append(nlris, mp.NLRI...)
	}

	if !attrs.HasWellKnownMandatory() && len(nlris) > 0 {
		nlris = nil
	}

	// Loop prevention for reflected routes (spec §4.7): discard a route
	// whose ORIGINATOR_ID is this speaker, or whose CLUSTER_LIST already
	// carries this speaker's cluster-id. Discarding drops only the
	// announced NLRI; the withdrawals above still reach the decision
	// process.
	if attrs.OriginatorID != nil && *attrs.OriginatorID == p.speaker.routerID {
		nlris = nil
	}
	if p.speaker.reflector.Enabled {
		for _, c := range attrs.ClusterList {
			if c == p.speaker.reflector.ClusterID {
				nlris = nil
			}
		}
	}

	// RPKI checks the origin AS, the last AS of a trailing AS_SEQUENCE
	// (RFC 6811); a path ending in an AS_SET is checked as AS 0.
	var originAS uint32
	if n := len(attrs.ASPath); n > 0 {
		if last := attrs.ASPath[n-1]; last.Type == bgpwire.ASSequence && len(last.ASNs) > 0 {
			originAS = uint32(last.ASNs[len(last.ASNs)-1])
		}
	}

	for _, nlri := range nlris {
		if p.speaker.flap.OnUpdate(nlri, false) == advanced.VerdictSuppress {
			p.AdjIn.Remove(nlri)
			affected = append(affected, nlri)
			continue
		}

		route := &Route{
			Prefix:      nlri,
			Attributes:  attrs,
			PeerID:      p.learnedID,
			PeerIP:      p.cfg.PeerIP,
			ReceiveTime: time.Now(),
			Validation:  mapRPKIState(p.speaker.rpki.Validate(nlri, originAS)),
		}
		if p.speaker.rpki.OnUpdate(nlri, originAS) == advanced.VerdictSuppress {
			p.AdjIn.Remove(nlri)
			affected = append(affected, nlri)
			continue
		}

		accepted, ok := EvaluateLayered(nil, p.cfg.Import, route)
		if !ok {
			p.AdjIn.Remove(nlri)
		} else {
			p.AdjIn.Add(nlri, accepted)
		}
		affected = append(affected, nlri)
	}

	if len(affected) > 0 && p.speaker != nil {
		p.speaker.notifyDecision(affected)
	}
}

// withdrawUpdateNLRI retracts every prefix an UPDATE carried without
// ever installing them, used for RFC 7606 treat-as-withdraw decode
// errors (spec §4.4): the attribute set that travelled with these
// NLRI failed to decode, so they're removed from Adj-RIB-In exactly as
// an explicit withdrawal would, and the session is kept.
func (p *PeerSession) withdrawUpdateNLRI(u bgpwire.UpdateMessage) {
	var affected []netip.Prefix
	for _, w := range u.WithdrawnRoutes {
		p.speaker.flap.OnUpdate(w, true)
		p.AdjIn.Remove(w)
		affected = append(affected, w)
	}
	for _, w := range u.NLRI {
		p.speaker.flap.OnUpdate(w, true)
		p.AdjIn.Remove(w)
		affected = append(affected, w)
	}
	if u.Attributes.MPReach != nil {
		for _, w := range u.Attributes.MPReach.NLRI {
			p.speaker.flap.OnUpdate(w, true)
			p.AdjIn.Remove(w)
			affected = append(affected, w)
		}
	}
	if u.Attributes.MPUnreach != nil {
		for _, w := range u.Attributes.MPUnreach.Withdrawn {
			p.speaker.flap.OnUpdate(w, true)
			p.AdjIn.Remove(w)
			affected = append(affected, w)
		}
	}
	if len(affected) > 0 && p.speaker != nil {
		p.speaker.notifyDecision(affected)
	}
}

// onPeerEstablished walks the Loc-RIB and emits initial advertisements
// to the newly-Established peer, subject to export policy (spec §4.4).
func (s *Speaker) onPeerEstablished(p *PeerSession) {
	s.sendInitialAdvertisement(p)
}

func (s *Speaker) sendInitialAdvertisement(p *PeerSession) {
	s.LocRIB.All(func(prefix netip.Prefix, best *Route) bool {
		s.advertiseToPeer(p, prefix, best)
		return true
	})
}

// advertiseAll disseminates a Loc-RIB change to every peer, applying
// reflection rules (spec §4.7), export policy, iBGP split horizon, and
// the withdraw-construction step of Adj-RIB-Out bookkeeping.
func (s *Speaker) advertiseAll(prefix netip.Prefix, best *Route) {
	s.mu.Lock()
	peers := make([]*PeerSession, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		if p.state != StateEstablished {
			continue
		}
		s.advertiseToPeer(p, prefix, best)
	}
}

func (s *Speaker) advertiseToPeer(p *PeerSession, prefix netip.Prefix, best *Route) {
	if best == nil {
		if _, had := p.AdjOut.Get(prefix); had {
			p.AdjOut.Remove(prefix)
			p.sendUpdate(bgpwire.UpdateMessage{WithdrawnRoutes: []netip.Prefix{prefix}})
		}
		return
	}

	if !s.reflectionAllows(p, best) {
		if _, had := p.AdjOut.Get(prefix); had {
			p.AdjOut.Remove(prefix)
			p.sendUpdate(bgpwire.UpdateMessage{WithdrawnRoutes: []netip.Prefix{prefix}})
		}
		return
	}

	out := best.Clone()
	s.applyReflectionAttrs(p, out)

	candidate, ok := EvaluateLayered(nil, p.cfg.Export, out)
	if !ok {
		if _, had := p.AdjOut.Get(prefix); had {
			p.AdjOut.Remove(prefix)
			p.sendUpdate(bgpwire.UpdateMessage{WithdrawnRoutes: []netip.Prefix{prefix}})
		}
		return
	}

	// NEXT_HOP rewriting (spec §4.5): eBGP-out overwrites with the local
	// peering address; iBGP-out preserves the original NEXT_HOP.
	if p.cfg.Role == RoleEBGP {
		candidate.Attributes.NextHop = p.cfg.LocalAddr
	}

	p.AdjOut.Set(prefix, candidate)
	p.sendUpdate(bgpwire.UpdateMessage{
		NLRI:       []netip.Prefix{prefix},
		Attributes: candidate.Attributes,
	})
}

func (s *Speaker) isIBGP(p *PeerSession) bool { return p.cfg.Role != RoleEBGP }

func mapRPKIState(st advanced.RPKIState) ValidationState {
	switch st {
	case advanced.RPKIValid:
		return ValidationValid
	case advanced.RPKIInvalid:
		return ValidationInvalid
	case advanced.RPKINotFound:
		return ValidationNotFound
	default:
		return ValidationUnverified
	}
}
