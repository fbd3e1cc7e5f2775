package ospf

import (
	"net/netip"
	"testing"

	"github.com/nextpath/routed/internal/ospfwire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleLSUpdateInstallsNewerAndFloodsToOtherFullNeighbors(t *testing.T) {
	ifc, transport := newTestInterface(t, NetworkPointToPoint)

	sender := newNeighbor(ifc, netip.MustParseAddr("10.0.0.2"), netip.MustParseAddr("10.0.1.2"), 1)
	sender.deadTimer.Stop()
	sender.state = NbrFull
	ifc.neighbors[sender.RouterID] = sender

	other := newNeighbor(ifc, netip.MustParseAddr("10.0.0.3"), netip.MustParseAddr("10.0.1.3"), 1)
	other.deadTimer.Stop()
	other.state = NbrFull
	ifc.neighbors[other.RouterID] = other

	rid := netip.MustParseAddr("10.0.0.9")
	raw := ospfwire.EncodeRouterLSA(ospfwire.RouterLSA{
		Header: ospfwire.LSAHeader{LinkStateID: rid, AdvertisingRouter: rid, SequenceNumber: 0x80000001},
	})
	lsa := ospfwire.RawLSA{Header: ospfwire.DecodeLSAHeader(raw), Raw: raw}

	ifc.handleLSUpdate(sender, ospfwire.EncodeLSUpdate([]ospfwire.RawLSA{lsa}))

	_, ok := ifc.lsdb.Get(lsa.Header.Key())
	require.True(t, ok, "a strictly newer LSA must be installed")
	assert.Contains(t, other.retransmission, lsa.Header.Key(), "the LSA must be flooded to the other Full neighbor")
	require.NotEmpty(t, transport.sent, "an ack and a flooded update must both have been sent")
}

func TestHandleLSUpdateDropsEqualAndAcknowledges(t *testing.T) {
	ifc, transport := newTestInterface(t, NetworkPointToPoint)
	sender := newNeighbor(ifc, netip.MustParseAddr("10.0.0.2"), netip.MustParseAddr("10.0.1.2"), 1)
	sender.deadTimer.Stop()
	sender.state = NbrFull
	ifc.neighbors[sender.RouterID] = sender

	rid := netip.MustParseAddr("10.0.0.9")
	raw := ospfwire.EncodeRouterLSA(ospfwire.RouterLSA{Header: ospfwire.LSAHeader{LinkStateID: rid, AdvertisingRouter: rid}})
	lsa := ospfwire.RawLSA{Header: ospfwire.DecodeLSAHeader(raw), Raw: raw}
	ifc.lsdb.Install(lsa)
	sender.retransmission[lsa.Header.Key()] = lsaRecord{header: lsa.Header, raw: lsa.Raw}

	transport.sent = nil
	ifc.handleLSUpdate(sender, ospfwire.EncodeLSUpdate([]ospfwire.RawLSA{lsa}))

	assert.NotContains(t, sender.retransmission, lsa.Header.Key(), "an acknowledged-equal LSA clears the retransmission entry")
	require.Len(t, transport.sent, 1, "only the ack should be sent, no re-flood")
}

func TestHandleLSUpdateTriggersLoadingDoneWhenRequestListDrains(t *testing.T) {
	ifc, _ := newTestInterface(t, NetworkPointToPoint)
	sender := newNeighbor(ifc, netip.MustParseAddr("10.0.0.2"), netip.MustParseAddr("10.0.1.2"), 1)
	sender.deadTimer.Stop()
	sender.state = NbrLoading
	ifc.neighbors[sender.RouterID] = sender

	rid := netip.MustParseAddr("10.0.0.9")
	raw := ospfwire.EncodeRouterLSA(ospfwire.RouterLSA{Header: ospfwire.LSAHeader{LinkStateID: rid, AdvertisingRouter: rid, SequenceNumber: 0x80000001}})
	lsa := ospfwire.RawLSA{Header: ospfwire.DecodeLSAHeader(raw), Raw: raw}
	sender.lsRequestList[lsa.Header.Key()] = lsaRecord{header: lsa.Header}

	ifc.handleLSUpdate(sender, ospfwire.EncodeLSUpdate([]ospfwire.RawLSA{lsa}))

	assert.Empty(t, sender.lsRequestList)
	assert.Equal(t, NbrFull, sender.State(), "an emptied request list during Loading must advance to Full")
}
