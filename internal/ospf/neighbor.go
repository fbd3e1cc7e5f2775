// Package ospf implements the OSPFv2 speaker: the eight-state neighbor
// FSM, DD master/slave synchronization, reliable LSA flooding, the
// aging link-state database, and SPF, per spec §4.8-§4.10 (RFC 2328).
package ospf

import (
	"net/netip"
	"time"

	"github.com/nextpath/routed/internal/ospfwire"
)

// NeighborState is one of RFC 2328 §10.1's eight neighbor states.
type NeighborState uint8

const (
	NbrDown NeighborState = iota
	NbrAttempt
	NbrInit
	NbrTwoWay
	NbrExStart
	NbrExchange
	NbrLoading
	NbrFull
)

func (s NeighborState) String() string {
	switch s {
	case NbrDown:
		return "Down"
	case NbrAttempt:
		return "Attempt"
	case NbrInit:
		return "Init"
	case NbrTwoWay:
		return "TwoWay"
	case NbrExStart:
		return "ExStart"
	case NbrExchange:
		return "Exchange"
	case NbrLoading:
		return "Loading"
	case NbrFull:
		return "Full"
	default:
		return "Unknown"
	}
}

// Neighbor event kinds, spec §4.8.
const (
	EvHelloReceived      = "HelloReceived"
	EvStart               = "Start"
	Ev2WayReceived        = "2-WayReceived"
	EvNegotiationDone     = "NegotiationDone"
	EvExchangeDone        = "ExchangeDone"
	EvLoadingDone         = "LoadingDone"
	EvAdjOK               = "AdjOK?"
	EvSeqNumberMismatch   = "SeqNumberMismatch"
	EvBadLSReq            = "BadLSReq"
	EvKillNbr             = "KillNbr"
	EvInactivityTimer     = "InactivityTimer"
	Ev1WayReceived        = "1-WayReceived"
)

// lsaRecord is one entry of a db-summary or retransmission list: just
// enough to re-request or re-send the LSA without copying its body
// until it's actually needed.
type lsaRecord struct {
	header ospfwire.LSAHeader
	raw    []byte
}

// Neighbor is spec §3's OspfNeighbor entity, owned by its Interface.
type Neighbor struct {
	RouterID    netip.Addr
	InterfaceIP netip.Addr
	Priority    uint8

	state NeighborState

	ddSequence uint32
	master     bool

	dbSummary      []lsaRecord
	lsRequestList  map[ospfwire.Key]lsaRecord
	retransmission map[ospfwire.Key]lsaRecord

	lastHelloTime time.Time
	deadTimer     *time.Timer
	rxmtTimer     *time.Timer

	iface *Interface
}

func newNeighbor(iface *Interface, routerID, ifaceIP netip.Addr, priority uint8) *Neighbor {
	n := &Neighbor{
		RouterID:       routerID,
		InterfaceIP:    ifaceIP,
		Priority:       priority,
		state:          NbrDown,
		lsRequestList:  map[ospfwire.Key]lsaRecord{},
		retransmission: map[ospfwire.Key]lsaRecord{},
		iface:          iface,
	}
	n.resetDead()
	return n
}

// resetDead (re)arms the RouterDeadInterval inactivity timer, posting
// InactivityTimer back onto the owning Interface's event loop on
// expiry (spec §4.8).
func (n *Neighbor) resetDead() {
	if n.deadTimer != nil {
		n.deadTimer.Stop()
	}
	n.deadTimer = time.AfterFunc(n.iface.cfg.DeadInterval, func() {
		n.iface.events <- Event{Kind: EvInactivityTimer, Neighbor: n}
	})
}

func (n *Neighbor) State() NeighborState { return n.state }

// handleEvent is the neighbor FSM's single dispatch point, mirroring
// RFC 2328 §10.3's per-state transition table.
func (n *Neighbor) handleEvent(ev string) {
	switch ev {
	case EvHelloReceived:
		n.resetDead()
		if n.state == NbrDown {
			n.transition(NbrInit)
		}
	case Ev2WayReceived:
		if n.state == NbrInit {
			if n.iface.shouldAdjacency(n) {
				n.startExStart()
			} else {
				n.transition(NbrTwoWay)
			}
		}
	case EvNegotiationDone:
		if n.state == NbrExStart {
			n.transition(NbrExchange)
			n.iface.beginExchange(n)
		}
	case EvExchangeDone:
		if n.state == NbrExchange {
			if len(n.lsRequestList) == 0 {
				n.transition(NbrFull)
			} else {
				n.transition(NbrLoading)
				n.iface.sendLSRequest(n)
			}
		}
	case EvLoadingDone:
		if n.state == NbrLoading {
			n.transition(NbrFull)
		}
	case EvSeqNumberMismatch, EvBadLSReq:
		if n.state >= NbrExchange {
			n.startExStart()
		}
	case Ev1WayReceived:
		if n.state > NbrTwoWay {
			n.resetAdjacency()
		}
		n.transition(NbrInit)
	case EvKillNbr, EvInactivityTimer:
		n.resetAdjacency()
		n.transition(NbrDown)
	}
}

func (n *Neighbor) startExStart() {
	n.transition(NbrExStart)
	n.ddSequence++
	n.master = true // provisional; sendExStartDD resolves it by router-ID comparison
	n.iface.sendExStartDD(n)
}

func (n *Neighbor) resetAdjacency() {
	n.dbSummary = nil
	n.lsRequestList = map[ospfwire.Key]lsaRecord{}
	n.retransmission = map[ospfwire.Key]lsaRecord{}
	if n.rxmtTimer != nil {
		n.rxmtTimer.Stop()
		n.rxmtTimer = nil
	}
}

func (n *Neighbor) transition(s NeighborState) {
	from := n.state
	n.state = s
	n.iface.log.Infow("ospf neighbor transition", "neighbor", n.RouterID, "from", from.String(), "to", s.String())
	if n.iface.obs != nil {
		n.iface.obs.OnNeighborTransition(n.RouterID, from, s)
	}
	// Entering or leaving Full changes this router's own links. The
	// refresh queries this interface's event loop, so it runs on its
	// own goroutine.
	if (s == NbrFull) != (from == NbrFull) && n.iface.speaker != nil && n.iface.speaker.refreshRouterLSA != nil {
		go n.iface.speaker.refreshRouterLSA()
	}
}
