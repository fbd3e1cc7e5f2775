package ospf

import (
	"net/netip"
	"time"

	"github.com/nextpath/routed/internal/ospfwire"
	"github.com/nextpath/routed/internal/rlog"
	"go.uber.org/zap"
)

// NetworkType selects DR/BDR election (Broadcast) or direct
// always-adjacent behavior (PointToPoint), spec §4.8/§6.
type NetworkType uint8

const (
	NetworkPointToPoint NetworkType = iota
	NetworkBroadcast
)

const retransmitInterval = 5 * time.Second

// Interface-level event kinds posted by goroutines other than the
// interface's own event loop, so retransmit timers and the Speaker's
// aging/refresh tickers never touch neighbor or LSDB state directly
// (spec §5) — they ask the event loop to do it instead, the same way
// a neighbor's dead-timer already does for EvInactivityTimer.
const (
	evRetransmitTick    = "RetransmitTick"
	evAgeOutFlood       = "AgeOutFlood"
	evFloodSelf         = "FloodSelf"
	evFullNeighborQuery = "FullNeighborQuery"
)

// Config is one OSPF-enabled interface's configuration, matching spec
// §6's "OSPF area-id and interface name with hello/dead intervals and
// priority" record.
type Config struct {
	Name          string
	LocalIP       netip.Addr
	AreaID        netip.Addr
	HelloInterval time.Duration
	DeadInterval  time.Duration
	Priority      uint8
	NetworkType   NetworkType
	Metric        uint16
}

// Observer receives neighbor-FSM transitions for metrics/snapshot use.
type Observer interface {
	OnNeighborTransition(routerID netip.Addr, from, to NeighborState)
}

type noopObserver struct{}

func (noopObserver) OnNeighborTransition(netip.Addr, NeighborState, NeighborState) {}

// Interface runs one OSPF-enabled link: its neighbor table, Hello
// timer, and the event loop that is the sole mutator of that
// neighbor table and (via the Speaker) the shared LSDB.
type Interface struct {
	cfg      Config
	routerID netip.Addr

	neighbors map[netip.Addr]*Neighbor
	dr, bdr   netip.Addr

	transport Transport
	lsdb      *LSDB
	speaker   *ospfSpeakerHooks

	events chan Event
	done   chan struct{}

	obs Observer
	log *zap.SugaredLogger
}

// ospfSpeakerHooks is the narrow callback surface Interface needs from
// the owning Speaker: originating/refreshing this router's own LSAs
// and triggering an SPF recompute, kept separate from a direct
// *Speaker reference so Interface can be tested standalone.
type ospfSpeakerHooks struct {
	onLSDBChange    func()
	refreshRouterLSA func()
}

func newInterface(cfg Config, routerID netip.Addr, transport Transport, lsdb *LSDB, hooks *ospfSpeakerHooks) *Interface {
	return &Interface{
		cfg:       cfg,
		routerID:  routerID,
		neighbors: map[netip.Addr]*Neighbor{},
		transport: transport,
		lsdb:      lsdb,
		speaker:   hooks,
		events:    make(chan Event, 256),
		done:      make(chan struct{}),
		obs:       noopObserver{},
		log:       rlog.Named("ospf.iface").With("iface", cfg.Name),
	}
}

func (ifc *Interface) SetObserver(o Observer) { ifc.obs = o }

// Run is the interface's event loop: the sole goroutine that ever
// touches neighbor state (spec §5). Packet reception and the Hello
// ticker are fed in from other goroutines purely as Events.
func (ifc *Interface) Run() {
	helloTick := time.NewTicker(ifc.cfg.HelloInterval)
	defer helloTick.Stop()
	go ifc.recvLoop()

	for {
		select {
		case ev := <-ifc.events:
			ifc.handle(ev)
		case <-helloTick.C:
			ifc.sendHello()
		case <-ifc.done:
			return
		}
	}
}

func (ifc *Interface) Stop() { close(ifc.done) }

func (ifc *Interface) recvLoop() {
	for {
		raw, from, err := ifc.transport.Recv()
		if err != nil {
			return
		}
		ifc.events <- Event{Kind: "rx", From: from, Packet: raw}
	}
}

func (ifc *Interface) handle(ev Event) {
	switch ev.Kind {
	case "rx":
		ifc.handlePacket(ev.From, ev.Packet)
	case EvInactivityTimer:
		ev.Neighbor.handleEvent(EvInactivityTimer)
		delete(ifc.neighbors, ev.Neighbor.RouterID)
	case evRetransmitTick:
		ifc.retransmitTick(ev.Neighbor)
	case evAgeOutFlood:
		ifc.ageOutFlood(ev.LSA)
	case evFloodSelf:
		ifc.floodSelf(ev.LSA)
	case evFullNeighborQuery:
		ev.Reply <- ifc.collectFullNeighbors()
	default:
		if ev.Neighbor != nil {
			ev.Neighbor.handleEvent(ev.Kind)
		}
	}
}

// collectFullNeighbors runs on the interface's own event loop, answering
// an evFullNeighborQuery.
func (ifc *Interface) collectFullNeighbors() []netip.Addr {
	var ids []netip.Addr
	for _, n := range ifc.neighbors {
		if n.state == NbrFull {
			ids = append(ids, n.RouterID)
		}
	}
	return ids
}

// fullNeighborRouterIDs lets another goroutine (the Speaker's refresh
// tick) learn which neighbors are Full without reading ifc.neighbors
// itself: it posts a request and blocks for the event loop's answer.
func (ifc *Interface) fullNeighborRouterIDs() []netip.Addr {
	reply := make(chan []netip.Addr, 1)
	ifc.events <- Event{Kind: evFullNeighborQuery, Reply: reply}
	return <-reply
}

func (ifc *Interface) handlePacket(from netip.Addr, raw []byte) {
	hdr, body, err := ospfwire.DecodeHeader(raw)
	if err != nil {
		ifc.log.Debugw("bad ospf header", "err", err)
		return
	}
	if hdr.AreaID != ifc.cfg.AreaID {
		return
	}

	switch hdr.Type {
	case ospfwire.PacketHello:
		ifc.handleHello(hdr, from, body)
		return
	}

	n, ok := ifc.neighbors[hdr.RouterID]
	if !ok {
		return // packets other than Hello require an existing neighbor
	}

	switch hdr.Type {
	case ospfwire.PacketDatabaseDescription:
		ifc.handleDD(n, body)
	case ospfwire.PacketLSRequest:
		ifc.handleLSRequest(n, body)
	case ospfwire.PacketLSUpdate:
		ifc.handleLSUpdate(n, body)
	case ospfwire.PacketLSAck:
		ifc.handleLSAck(n, body)
	}
}

func (ifc *Interface) handleHello(hdr ospfwire.Header, from netip.Addr, body []byte) {
	h, err := ospfwire.DecodeHello(body)
	if err != nil {
		return
	}
	if time.Duration(h.HelloInterval)*time.Second != ifc.cfg.HelloInterval {
		return // Hello-parameter mismatch: reject silently (spec §7)
	}

	n, ok := ifc.neighbors[hdr.RouterID]
	if !ok {
		n = newNeighbor(ifc, hdr.RouterID, from, h.RouterPriority)
		ifc.neighbors[hdr.RouterID] = n
	}
	n.Priority = h.RouterPriority
	n.lastHelloTime = time.Now()
	n.handleEvent(EvHelloReceived)

	sawSelf := false
	for _, seen := range h.Neighbors {
		if seen == ifc.routerID {
			sawSelf = true
			break
		}
	}
	if sawSelf {
		n.handleEvent(Ev2WayReceived)
	} else if n.state > NbrInit {
		n.handleEvent(Ev1WayReceived)
	}

	if ifc.cfg.NetworkType == NetworkBroadcast {
		ifc.electDR()
	}
}

// shouldAdjacency implements spec §4.8's adjacency-eligibility rule:
// point-to-point links always form a full adjacency; on a broadcast
// network only the DR/BDR (or a neighbor that is the DR/BDR) does.
func (ifc *Interface) shouldAdjacency(n *Neighbor) bool {
	if ifc.cfg.NetworkType == NetworkPointToPoint {
		return true
	}
	return ifc.dr == ifc.routerID || ifc.bdr == ifc.routerID ||
		ifc.dr == n.RouterID || ifc.bdr == n.RouterID
}

// electDR runs RFC 2328 §9.4's election as a single non-incremental
// pass (acceptable at this scope's neighbor-count target): the
// highest-priority router among 2-Way-or-better neighbors (plus self)
// becomes DR, the runner-up BDR; priority 0 routers never serve.
func (ifc *Interface) electDR() {
	type cand struct {
		id       netip.Addr
		priority uint8
	}
	cands := []cand{{ifc.routerID, ifc.cfg.Priority}}
	for _, n := range ifc.neighbors {
		if n.state >= NbrTwoWay && n.Priority > 0 {
			cands = append(cands, cand{n.RouterID, n.Priority})
		}
	}
	best, second := cand{}, cand{}
	for _, c := range cands {
		if c.priority == 0 {
			continue
		}
		if c.priority > best.priority || (c.priority == best.priority && c.id.Compare(best.id) > 0) {
			second = best
			best = c
		} else if c.priority > second.priority || (c.priority == second.priority && c.id.Compare(second.id) > 0) {
			second = c
		}
	}
	ifc.dr, ifc.bdr = best.id, second.id
}

func (ifc *Interface) sendHello() {
	neighbors := make([]netip.Addr, 0, len(ifc.neighbors))
	for id := range ifc.neighbors {
		neighbors = append(neighbors, id)
	}
	h := ospfwire.HelloPacket{
		NetworkMask:        netip.MustParseAddr("255.255.255.255"),
		HelloInterval:      uint16(ifc.cfg.HelloInterval / time.Second),
		RouterPriority:     ifc.cfg.Priority,
		RouterDeadInterval: uint32(ifc.cfg.DeadInterval / time.Second),
		DesignatedRouter:       orZero(ifc.dr),
		BackupDesignatedRouter: orZero(ifc.bdr),
		Neighbors:          neighbors,
	}
	ifc.send(ospfwire.PacketHello, ospfwire.EncodeHello(h))
}

func orZero(a netip.Addr) netip.Addr {
	if !a.IsValid() {
		return netip.IPv4Unspecified()
	}
	return a
}

func (ifc *Interface) send(t ospfwire.PacketType, body []byte) {
	hdr := ospfwire.Header{RouterID: ifc.routerID, AreaID: ifc.cfg.AreaID}
	_ = ifc.transport.Send(ospfwire.EncodeHeader(hdr, t, body))
}
