package ospf

import (
	"time"

	"github.com/nextpath/routed/internal/ospfwire"
)

// handleLSUpdate implements spec §4.9's reliable-flooding receive path:
// validate, compare newness against the LSDB, install-and-flood if
// strictly newer, push our copy back if older, drop silently if equal.
func (ifc *Interface) handleLSUpdate(n *Neighbor, body []byte) {
	lsas, err := ospfwire.DecodeLSUpdate(body)
	if err != nil {
		return
	}

	var toAck []ospfwire.LSAHeader
	for _, l := range lsas {
		if !ospfwire.VerifyLSAChecksum(l.Raw) {
			continue
		}
		toAck = append(toAck, l.Header)

		local, ok := ifc.lsdb.Get(l.Header.Key())
		switch {
		case !ok || l.Header.Newer(local.Header):
			ifc.lsdb.Install(l)
			delete(n.lsRequestList, l.Header.Key())
			ifc.floodExcept(n, l)
			if ifc.speaker.onLSDBChange != nil {
				ifc.speaker.onLSDBChange()
			}
		case local.Header.Equal(l.Header):
			delete(n.retransmission, l.Header.Key())
		default: // our copy is newer: push it back to the sender
			ifc.sendTo(n, ospfwire.PacketLSUpdate, ospfwire.EncodeLSUpdate([]ospfwire.RawLSA{local}))
		}
	}

	if len(toAck) > 0 {
		ifc.sendTo(n, ospfwire.PacketLSAck, ospfwire.EncodeLSAck(toAck))
	}
	if n.state == NbrLoading && len(n.lsRequestList) == 0 {
		n.handleEvent(EvLoadingDone)
	}
}

func (ifc *Interface) handleLSAck(n *Neighbor, body []byte) {
	headers, err := ospfwire.DecodeLSAck(body)
	if err != nil {
		return
	}
	for _, h := range headers {
		delete(n.retransmission, h.Key())
	}
}

// floodExcept reliably delivers l to every Full-state neighbor on this
// interface except sender, adding it to each recipient's retransmission
// list until acknowledged (spec §4.9 step 1).
func (ifc *Interface) floodExcept(sender *Neighbor, l ospfwire.RawLSA) {
	for _, n := range ifc.neighbors {
		if n == sender || n.state != NbrFull {
			continue
		}
		rec := lsaRecord{header: l.Header, raw: l.Raw}
		n.retransmission[l.Header.Key()] = rec
		ifc.sendTo(n, ospfwire.PacketLSUpdate, ospfwire.EncodeLSUpdate([]ospfwire.RawLSA{l}))
		ifc.armRetransmit(n)
	}
}

// armRetransmit starts (once) the per-neighbor 5s retransmit loop that
// resends every still-unacknowledged LSA until the neighbor leaves
// Full (spec §4.9 step 3). The timer callback runs on its own
// goroutine, so it only ever posts an event back onto ifc's event
// loop rather than touching n directly, the same pattern the
// dead-interval timer uses.
func (ifc *Interface) armRetransmit(n *Neighbor) {
	if n.rxmtTimer != nil {
		return
	}
	n.rxmtTimer = time.AfterFunc(retransmitInterval, func() {
		ifc.events <- Event{Kind: evRetransmitTick, Neighbor: n}
	})
}

// retransmitTick runs on ifc's own event loop: it resends every
// still-unacknowledged LSA for n and rearms itself, or clears the
// timer once n has left Full or has nothing left outstanding.
func (ifc *Interface) retransmitTick(n *Neighbor) {
	if n.state != NbrFull || len(n.retransmission) == 0 {
		n.rxmtTimer = nil
		return
	}
	var lsas []ospfwire.RawLSA
	for _, rec := range n.retransmission {
		lsas = append(lsas, ospfwire.RawLSA{Header: rec.header, Raw: rec.raw})
	}
	ifc.sendTo(n, ospfwire.PacketLSUpdate, ospfwire.EncodeLSUpdate(lsas))
	n.rxmtTimer = time.AfterFunc(retransmitInterval, func() {
		ifc.events <- Event{Kind: evRetransmitTick, Neighbor: n}
	})
}

// floodSelf installs l into the local LSDB and floods it to every Full
// neighbor, used for self-origination and the 1800s refresh cycle
// (spec §4.9 step 4).
func (ifc *Interface) floodSelf(l ospfwire.RawLSA) {
	ifc.lsdb.Install(l)
	ifc.floodExcept(nil, l)
}

// ageOutFlood is called once per LSA that reaches MaxAge: it is
// flooded one final time with age=MaxAge (already reflected in l) so
// neighbors remove it too, per spec §4.10.
func (ifc *Interface) ageOutFlood(l ospfwire.RawLSA) {
	ifc.floodExcept(nil, l)
}
