package ospf

import (
	"net/netip"
	"testing"
	"time"

	"github.com/nextpath/routed/internal/ospfwire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	sent [][]byte
}

func (f *fakeTransport) Send(packet []byte) error {
	f.sent = append(f.sent, packet)
	return nil
}
func (f *fakeTransport) Recv() ([]byte, netip.Addr, error) {
	select {}
}
func (f *fakeTransport) Close() error { return nil }

func newTestInterface(t *testing.T, networkType NetworkType) (*Interface, *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{}
	cfg := Config{
		Name:          "eth0",
		LocalIP:       netip.MustParseAddr("10.0.1.1"),
		AreaID:        netip.IPv4Unspecified(),
		HelloInterval: 10 * time.Second,
		DeadInterval:  40 * time.Second,
		Priority:      1,
		NetworkType:   networkType,
	}
	ifc := newInterface(cfg, netip.MustParseAddr("10.0.0.1"), transport, NewLSDB(), &ospfSpeakerHooks{
		onLSDBChange:     func() {},
		refreshRouterLSA: func() {},
	})
	t.Cleanup(func() { close(ifc.done) })
	return ifc, transport
}

// TestNeighborPointToPointReachesFull drives a point-to-point neighbor
// through Down -> Init -> ExStart -> Exchange -> Full (a point-to-point
// neighbor always forms an adjacency, so 2-WayReceived takes it from
// Init straight to ExStart), mirroring scenario 4's single p2p link.
func TestNeighborPointToPointReachesFull(t *testing.T) {
	ifc, _ := newTestInterface(t, NetworkPointToPoint)
	peerID := netip.MustParseAddr("10.0.0.2")

	helloSeeingUs := ospfwire.EncodeHello(ospfwire.HelloPacket{
		NetworkMask:   netip.MustParseAddr("255.255.255.252"),
		HelloInterval: 10,
		Neighbors:     []netip.Addr{ifc.routerID},
	})
	hdr := ospfwire.Header{RouterID: peerID, AreaID: ifc.cfg.AreaID}
	ifc.handleHello(hdr, netip.MustParseAddr("10.0.1.2"), helloSeeingUs)

	n, ok := ifc.neighbors[peerID]
	require.True(t, ok)
	require.Equal(t, NbrExchange, n.State(), "ExStart's own negotiating DD resolves master/slave immediately, entering Exchange")

	// Peer's real DD content: no LSAs, More=false -> ExchangeDone, and
	// since our LSDB is empty too, straight to Full. Local lost the
	// master/slave comparison (10.0.0.1 < 10.0.0.2), so the peer is
	// master and its DD carries the MS bit.
	require.False(t, n.master, "local router-id is lower, so local is slave")
	finalDD := ospfwire.EncodeDD(ospfwire.DatabaseDescriptionPacket{Flags: ospfwire.DDBitMS, DDSequence: n.ddSequence})
	ifc.handleDD(n, finalDD)
	assert.Equal(t, NbrFull, n.State())
}

// TestNeighborExchangeWrongSequenceRestartsNegotiation exercises the
// RFC 2328 §10.6 boundary: a DD in Exchange with a sequence number
// that doesn't match what we sent restarts the adjacency — which, per
// this interface's own-DD-resolves-immediately simplification, lands
// straight back in Exchange with a freshly bumped sequence number
// rather than lingering in ExStart.
func TestNeighborExchangeWrongSequenceRestartsNegotiation(t *testing.T) {
	ifc, _ := newTestInterface(t, NetworkPointToPoint)
	peerID := netip.MustParseAddr("10.0.0.2")

	helloSeeingUs := ospfwire.EncodeHello(ospfwire.HelloPacket{
		NetworkMask:   netip.MustParseAddr("255.255.255.252"),
		HelloInterval: 10,
		Neighbors:     []netip.Addr{ifc.routerID},
	})
	hdr := ospfwire.Header{RouterID: peerID, AreaID: ifc.cfg.AreaID}
	ifc.handleHello(hdr, netip.MustParseAddr("10.0.1.2"), helloSeeingUs)

	n, ok := ifc.neighbors[peerID]
	require.True(t, ok)
	require.Equal(t, NbrExchange, n.State())
	seqBefore := n.ddSequence

	badDD := ospfwire.EncodeDD(ospfwire.DatabaseDescriptionPacket{Flags: ospfwire.DDBitMS, DDSequence: n.ddSequence + 1})
	ifc.handleDD(n, badDD)
	assert.Equal(t, NbrExchange, n.State())
	assert.Greater(t, n.ddSequence, seqBefore, "restarting negotiation bumps the sequence number")

	finalDD := ospfwire.EncodeDD(ospfwire.DatabaseDescriptionPacket{Flags: ospfwire.DDBitMS, DDSequence: n.ddSequence})
	ifc.handleDD(n, finalDD)
	assert.Equal(t, NbrFull, n.State(), "a DD carrying the renegotiated sequence completes the adjacency")
}

// TestNeighborExchangeWrongMasterSlaveRestartsNegotiation covers the
// other half of the same boundary: a DD claiming our own side of the
// master/slave relationship is just as much a mismatch as a bad
// sequence number.
func TestNeighborExchangeWrongMasterSlaveRestartsNegotiation(t *testing.T) {
	ifc, _ := newTestInterface(t, NetworkPointToPoint)
	peerID := netip.MustParseAddr("10.0.0.2")

	helloSeeingUs := ospfwire.EncodeHello(ospfwire.HelloPacket{
		NetworkMask:   netip.MustParseAddr("255.255.255.252"),
		HelloInterval: 10,
		Neighbors:     []netip.Addr{ifc.routerID},
	})
	hdr := ospfwire.Header{RouterID: peerID, AreaID: ifc.cfg.AreaID}
	ifc.handleHello(hdr, netip.MustParseAddr("10.0.1.2"), helloSeeingUs)

	n, ok := ifc.neighbors[peerID]
	require.True(t, ok)
	require.Equal(t, NbrExchange, n.State())

	badDD := ospfwire.EncodeDD(ospfwire.DatabaseDescriptionPacket{DDSequence: n.ddSequence})
	ifc.handleDD(n, badDD)
	assert.Equal(t, NbrExchange, n.State(), "negotiation restarts and immediately re-resolves to Exchange")
}

func TestNeighborOneWayDropsBackToInit(t *testing.T) {
	ifc, _ := newTestInterface(t, NetworkPointToPoint)
	peerID := netip.MustParseAddr("10.0.0.2")
	n := newNeighbor(ifc, peerID, netip.MustParseAddr("10.0.1.2"), 1)
	ifc.neighbors[peerID] = n
	n.state = NbrTwoWay

	n.handleEvent(Ev1WayReceived)
	assert.Equal(t, NbrInit, n.State())
}

func TestNeighborInactivityTimerGoesDown(t *testing.T) {
	ifc, _ := newTestInterface(t, NetworkPointToPoint)
	peerID := netip.MustParseAddr("10.0.0.2")
	n := newNeighbor(ifc, peerID, netip.MustParseAddr("10.0.1.2"), 1)
	n.deadTimer.Stop()
	ifc.neighbors[peerID] = n
	n.state = NbrFull

	n.handleEvent(EvInactivityTimer)
	assert.Equal(t, NbrDown, n.State())
}

func TestElectDRPicksHighestPriority(t *testing.T) {
	ifc, _ := newTestInterface(t, NetworkBroadcast)
	ifc.cfg.Priority = 1
	n1 := newNeighbor(ifc, netip.MustParseAddr("10.0.0.2"), netip.MustParseAddr("10.0.1.2"), 2)
	n1.deadTimer.Stop()
	n1.state = NbrTwoWay
	n2 := newNeighbor(ifc, netip.MustParseAddr("10.0.0.3"), netip.MustParseAddr("10.0.1.3"), 5)
	n2.deadTimer.Stop()
	n2.state = NbrTwoWay
	ifc.neighbors[n1.RouterID] = n1
	ifc.neighbors[n2.RouterID] = n2

	ifc.electDR()
	assert.Equal(t, n2.RouterID, ifc.dr, "highest-priority neighbor must become DR")
	assert.Equal(t, n1.RouterID, ifc.bdr, "runner-up must become BDR")
}
