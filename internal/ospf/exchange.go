package ospf

import "github.com/nextpath/routed/internal/ospfwire"

// sendExStartDD sends the empty, negotiating DD packet for entry into
// ExStart (RFC 2328 §10.6): I and M set, no LSA headers, and MS set
// only when this router has the higher router ID and so is master.
// Master/slave is decided up front by comparing router IDs rather than
// through the full multi-round negotiation handshake RFC 2328 permits —
// a simplification recorded in DESIGN.md; the two-router point-to-point
// topologies this speaker targets make the result identical.
func (ifc *Interface) sendExStartDD(n *Neighbor) {
	n.master = ifc.routerID.Compare(n.RouterID) > 0
	flags := ospfwire.DDBitI | ospfwire.DDBitM
	if n.master {
		flags |= ospfwire.DDBitMS
	}
	dd := ospfwire.DatabaseDescriptionPacket{InterfaceMTU: 1500, Flags: uint8(flags), DDSequence: n.ddSequence}
	ifc.sendTo(n, ospfwire.PacketDatabaseDescription, ospfwire.EncodeDD(dd))
	n.handleEvent(EvNegotiationDone)
}

// beginExchange sends the real DD content: every LSA header currently
// in the LSDB, in a single packet (M=0) — again a simplification of
// RFC 2328's chunked exchange, reasonable at this scope's LSDB sizes.
func (ifc *Interface) beginExchange(n *Neighbor) {
	var headers []ospfwire.LSAHeader
	ifc.lsdb.All(func(l ospfwire.RawLSA) bool {
		headers = append(headers, l.Header)
		return true
	})
	flags := uint8(0)
	if n.master {
		flags |= ospfwire.DDBitMS
	}
	dd := ospfwire.DatabaseDescriptionPacket{InterfaceMTU: 1500, Flags: flags, DDSequence: n.ddSequence, LSAHeaders: headers}
	ifc.sendTo(n, ospfwire.PacketDatabaseDescription, ospfwire.EncodeDD(dd))
}

func (ifc *Interface) handleDD(n *Neighbor, body []byte) {
	dd, err := ospfwire.DecodeDD(body)
	if err != nil {
		return
	}

	switch n.state {
	case NbrExStart:
		if dd.Init() && dd.More() && len(dd.LSAHeaders) == 0 {
			// Peer is negotiating too; our master/slave determination from
			// sendExStartDD already stands, so Exchange begins directly.
			n.handleEvent(EvNegotiationDone)
		}
	case NbrExchange:
		// RFC 2328 §10.6: a DD carrying the Init bit, claiming the wrong
		// side of the master/slave relationship, or the wrong sequence
		// number restarts negotiation rather than being processed.
		if dd.Init() || dd.Master() == n.master || dd.DDSequence != n.ddSequence {
			n.handleEvent(EvSeqNumberMismatch)
			return
		}
		// Critical ordering (spec §4.8): the request list must be fully
		// populated from this DD before ExchangeDone fires.
		for _, h := range dd.LSAHeaders {
			local, ok := ifc.lsdb.Get(h.Key())
			if !ok || h.Newer(local.Header) {
				n.lsRequestList[h.Key()] = lsaRecord{header: h}
			}
		}
		if !dd.More() {
			n.handleEvent(EvExchangeDone)
		}
	}
}

func (ifc *Interface) sendLSRequest(n *Neighbor) {
	keys := make([]ospfwire.Key, 0, len(n.lsRequestList))
	for k := range n.lsRequestList {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return
	}
	ifc.sendTo(n, ospfwire.PacketLSRequest, ospfwire.EncodeLSRequest(keys))
}

func (ifc *Interface) handleLSRequest(n *Neighbor, body []byte) {
	keys, err := ospfwire.DecodeLSRequest(body)
	if err != nil {
		n.handleEvent(EvBadLSReq)
		return
	}
	var lsas []ospfwire.RawLSA
	for _, k := range keys {
		if l, ok := ifc.lsdb.Get(k); ok {
			lsas = append(lsas, l)
		} else {
			n.handleEvent(EvBadLSReq)
			return
		}
	}
	ifc.sendTo(n, ospfwire.PacketLSUpdate, ospfwire.EncodeLSUpdate(lsas))
}

func (ifc *Interface) sendTo(n *Neighbor, t ospfwire.PacketType, body []byte) {
	ifc.send(t, body) // single-peer transport (point-to-point/p2p-emulated broadcast): one socket per interface
}
