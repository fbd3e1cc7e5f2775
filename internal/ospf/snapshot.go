package ospf

import "net/netip"

// NeighborSnapshot is a read-only view of one neighbor's FSM state for
// the observable-state interface (spec §6).
type NeighborSnapshot struct {
	RouterID    netip.Addr
	InterfaceIP netip.Addr
	Priority    uint8
	State       string
}

func (n *Neighbor) Snapshot() NeighborSnapshot {
	return NeighborSnapshot{
		RouterID:    n.RouterID,
		InterfaceIP: n.InterfaceIP,
		Priority:    n.Priority,
		State:       n.state.String(),
	}
}

// InterfaceSnapshot is one OSPF-enabled interface's observable state:
// its DR/BDR and the FSM state of every neighbor on it.
type InterfaceSnapshot struct {
	Name      string
	LocalIP   netip.Addr
	DR, BDR   netip.Addr
	Neighbors []NeighborSnapshot
}

func (ifc *Interface) Snapshot() InterfaceSnapshot {
	out := InterfaceSnapshot{Name: ifc.cfg.Name, LocalIP: ifc.cfg.LocalIP, DR: ifc.dr, BDR: ifc.bdr}
	for _, n := range ifc.neighbors {
		out.Neighbors = append(out.Neighbors, n.Snapshot())
	}
	return out
}

// SpeakerSnapshot is the OSPF half of spec §6's observable-state
// record: every interface's neighbor table, the LSDB's size, and the
// last computed SPF routing table.
type SpeakerSnapshot struct {
	RouterID   netip.Addr
	Interfaces []InterfaceSnapshot
	LSDBSize   int
	Routes     []RouteEntry
}

func (s *Speaker) Snapshot() SpeakerSnapshot {
	s.mu.Lock()
	ifaces := make([]*Interface, 0, len(s.interfaces))
	for _, ifc := range s.interfaces {
		ifaces = append(ifaces, ifc)
	}
	s.mu.Unlock()

	out := SpeakerSnapshot{RouterID: s.RouterID, LSDBSize: s.LSDB.Len(), Routes: s.RouteTable()}
	for _, ifc := range ifaces {
		out.Interfaces = append(out.Interfaces, ifc.Snapshot())
	}
	return out
}
