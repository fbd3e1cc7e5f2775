package ospf

import (
	"net/netip"
	"sync"
	"time"

	"github.com/nextpath/routed/internal/ospfwire"
	"github.com/nextpath/routed/internal/rlog"
	"github.com/nextpath/routed/internal/sched"
	"go.uber.org/zap"
)

// Speaker is the top-level OSPFv2 process: the shared LSDB, the set of
// OSPF-enabled interfaces, self-origination of this router's own
// Router-LSA, and the SPF routing table it produces (spec §4.8-§4.10).
// Non-goal: multi-area — every Interface shares the one AreaID a
// Speaker is constructed with (single-area scope, spec's Non-goals).
type Speaker struct {
	mu       sync.Mutex
	RouterID netip.Addr
	AreaID   netip.Addr

	LSDB       *LSDB
	interfaces map[string]*Interface

	routeTable []RouteEntry
	tableMu    sync.RWMutex

	spfDebouncer *sched.Debouncer
	spfC         chan sched.Event

	Changes chan []RouteEntry

	seq uint32

	log *zap.SugaredLogger
}

// NewSpeaker constructs an OSPF speaker with an empty LSDB and no
// interfaces; AddInterface wires up each OSPF-enabled link.
func NewSpeaker(routerID, areaID netip.Addr) *Speaker {
	s := &Speaker{
		RouterID:   routerID,
		AreaID:     areaID,
		LSDB:       NewLSDB(),
		interfaces: map[string]*Interface{},
		spfC:       make(chan sched.Event, 1),
		Changes:    make(chan []RouteEntry, 16),
		seq:        0x80000001, // RFC 2328 §12.1.6 initial sequence number
		log:        rlog.Named("ospf.speaker"),
	}
	s.spfDebouncer = sched.NewDebouncer("spf", 300*time.Millisecond, s.spfC)
	go func() {
		for range s.spfC {
			s.runSPF()
		}
	}()

	agingTick := time.NewTicker(time.Second)
	go func() {
		for range agingTick.C {
			s.LSDB.Age(s.onAgeOut)
		}
	}()

	refreshTick := time.NewTicker(ospfwire.LSRefreshTime * time.Second)
	go func() {
		for range refreshTick.C {
			s.refreshRouterLSA()
		}
	}()

	return s
}

// AddInterface creates, starts and registers an OSPF interface.
func (s *Speaker) AddInterface(cfg Config, transport Transport) *Interface {
	hooks := &ospfSpeakerHooks{
		onLSDBChange:     func() { s.spfDebouncer.Trigger() },
		refreshRouterLSA: s.refreshRouterLSA,
	}
	ifc := newInterface(cfg, s.RouterID, transport, s.LSDB, hooks)
	s.mu.Lock()
	s.interfaces[cfg.Name] = ifc
	s.mu.Unlock()
	go ifc.Run()
	return ifc
}

func (s *Speaker) onAgeOut(l ospfwire.RawLSA) {
	s.mu.Lock()
	ifaces := make([]*Interface, 0, len(s.interfaces))
	for _, ifc := range s.interfaces {
		ifaces = append(ifaces, ifc)
	}
	s.mu.Unlock()
	for _, ifc := range ifaces {
		ifc.events <- Event{Kind: evAgeOutFlood, LSA: l}
	}
	s.spfDebouncer.Trigger()
}

// refreshRouterLSA re-originates this router's own Router-LSA with an
// incremented sequence number, listing a stub link for every OSPF
// interface's local /32 (loopback-style origination, spec scenario 4)
// and a point-to-point link for every Full neighbor — then floods it
// on every interface (spec §4.9 step 4's 1800s refresh cycle, also
// called on topology change).
func (s *Speaker) refreshRouterLSA() {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	ifaces := make([]*Interface, 0, len(s.interfaces))
	for _, ifc := range s.interfaces {
		ifaces = append(ifaces, ifc)
	}
	s.mu.Unlock()

	var links []ospfwire.RouterLink
	for _, ifc := range ifaces {
		links = append(links, ospfwire.RouterLink{
			LinkID:   ifc.cfg.LocalIP,
			LinkData: netip.MustParseAddr("255.255.255.255"),
			LinkType: 3,
			Metric:   ifc.cfg.Metric,
		})
		// fullNeighborRouterIDs asks each interface's own event loop
		// instead of reading ifc.neighbors here (spec §5).
		for _, rid := range ifc.fullNeighborRouterIDs() {
			links = append(links, ospfwire.RouterLink{
				LinkID:   rid,
				LinkData: ifc.cfg.LocalIP,
				LinkType: 1,
				Metric:   ifc.cfg.Metric,
			})
		}
	}

	rl := ospfwire.RouterLSA{
		Header: ospfwire.LSAHeader{
			Type:              ospfwire.LSTypeRouter,
			LinkStateID:       s.RouterID,
			AdvertisingRouter: s.RouterID,
			SequenceNumber:    seq,
		},
		Links: links,
	}
	raw := ospfwire.EncodeRouterLSA(rl)
	rawLSA := ospfwire.RawLSA{Header: ospfwire.DecodeLSAHeader(raw), Raw: raw}
	for _, ifc := range ifaces {
		ifc.events <- Event{Kind: evFloodSelf, LSA: rawLSA}
	}
	s.spfDebouncer.Trigger()
}

func (s *Speaker) runSPF() {
	s.mu.Lock()
	var anyIface string
	for name := range s.interfaces {
		anyIface = name
		break
	}
	s.mu.Unlock()

	table := RunSPF(s.LSDB, s.RouterID, anyIface)
	s.tableMu.Lock()
	s.routeTable = table
	s.tableMu.Unlock()

	select {
	case s.Changes <- table:
	default:
		s.log.Warnw("dropped SPF routing table, installer not draining")
	}
}

// RouteTable returns a snapshot of the last SPF computation.
func (s *Speaker) RouteTable() []RouteEntry {
	s.tableMu.RLock()
	defer s.tableMu.RUnlock()
	return append([]RouteEntry(nil), s.routeTable...)
}

// Resolvable and Cost implement bgp.NextHopResolver, so BGP's decision
// process (step f) can prefer the route with the lower IGP cost to its
// NEXT_HOP, per spec §4.5.
func (s *Speaker) Resolvable(addr netip.Addr) bool {
	_, ok := s.costTo(addr)
	return ok
}

func (s *Speaker) Cost(addr netip.Addr) (uint32, bool) {
	return s.costTo(addr)
}

func (s *Speaker) costTo(addr netip.Addr) (uint32, bool) {
	s.tableMu.RLock()
	defer s.tableMu.RUnlock()
	for _, r := range s.routeTable {
		if r.Prefix.Contains(addr) {
			return r.Cost, true
		}
	}
	return 0, false
}
