package ospf

import (
	"net/netip"

	"github.com/nextpath/routed/internal/ospfwire"
)

// Event is the OSPF interface event loop's single event type: an
// inbound packet off the wire, a Hello-interval tick, a neighbor timer
// firing, or a request from another goroutine (a retransmit timer, the
// Speaker's aging or refresh tick) to touch interface or neighbor
// state. One Interface has exactly one goroutine consuming its event
// channel, so neighbor and LSDB state touched from that loop never
// needs a lock (spec §5) — every other goroutine reaches that state
// only by posting one of these, never by reading or writing a
// Neighbor or Interface field directly.
type Event struct {
	Kind     string
	Neighbor *Neighbor
	From     netip.Addr
	Packet   []byte
	LSA      ospfwire.RawLSA
	Reply    chan []netip.Addr
}
