package ospf

import (
	"net/netip"
	"testing"

	"github.com/nextpath/routed/internal/ospfwire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func installRouterLSA(t *testing.T, db *LSDB, routerID netip.Addr, links []ospfwire.RouterLink) {
	t.Helper()
	raw := ospfwire.EncodeRouterLSA(ospfwire.RouterLSA{
		Header: ospfwire.LSAHeader{LinkStateID: routerID, AdvertisingRouter: routerID, SequenceNumber: 0x80000001},
		Links:  links,
	})
	db.Install(ospfwire.RawLSA{Header: ospfwire.DecodeLSAHeader(raw), Raw: raw})
}

// TestSPFSinglePointToPointStubRoute mirrors a point-to-point /30 link
// between two routers, with a stub LAN hanging off the far router: SPF
// from the near router must find that LAN at the link cost plus the
// LAN's own metric.
func TestSPFSinglePointToPointStubRoute(t *testing.T) {
	db := NewLSDB()
	routerA := netip.MustParseAddr("10.0.0.1")
	routerB := netip.MustParseAddr("10.0.0.2")
	localLinkIP := netip.MustParseAddr("10.0.1.1")

	installRouterLSA(t, db, routerA, []ospfwire.RouterLink{
		{LinkID: routerB, LinkData: localLinkIP, LinkType: 1, Metric: 10},
	})
	installRouterLSA(t, db, routerB, []ospfwire.RouterLink{
		{LinkID: routerA, LinkData: netip.MustParseAddr("10.0.1.2"), LinkType: 1, Metric: 10},
		{LinkID: netip.MustParseAddr("10.0.2.0"), LinkData: netip.MustParseAddr("255.255.255.0"), LinkType: 3, Metric: 5},
	})

	routes := RunSPF(db, routerA, "eth0")
	require.Len(t, routes, 1)
	assert.Equal(t, netip.MustParsePrefix("10.0.2.0/24"), routes[0].Prefix)
	assert.Equal(t, uint32(15), routes[0].Cost)
	assert.Equal(t, "eth0", routes[0].Interface)
}

func TestSPFPrefersLowerCostPath(t *testing.T) {
	db := NewLSDB()
	root := netip.MustParseAddr("10.0.0.1")
	viaCheap := netip.MustParseAddr("10.0.0.2")
	viaExpensive := netip.MustParseAddr("10.0.0.3")
	dest := netip.MustParseAddr("10.0.0.4")

	installRouterLSA(t, db, root, []ospfwire.RouterLink{
		{LinkID: viaCheap, LinkData: netip.MustParseAddr("10.1.0.1"), LinkType: 1, Metric: 10},
		{LinkID: viaExpensive, LinkData: netip.MustParseAddr("10.2.0.1"), LinkType: 1, Metric: 100},
	})
	installRouterLSA(t, db, viaCheap, []ospfwire.RouterLink{
		{LinkID: root, LinkData: netip.MustParseAddr("10.1.0.2"), LinkType: 1, Metric: 10},
		{LinkID: dest, LinkData: netip.MustParseAddr("10.3.0.1"), LinkType: 1, Metric: 1},
	})
	installRouterLSA(t, db, viaExpensive, []ospfwire.RouterLink{
		{LinkID: root, LinkData: netip.MustParseAddr("10.2.0.2"), LinkType: 1, Metric: 100},
		{LinkID: dest, LinkData: netip.MustParseAddr("10.4.0.1"), LinkType: 1, Metric: 1},
	})
	installRouterLSA(t, db, dest, []ospfwire.RouterLink{
		{LinkID: netip.MustParseAddr("10.5.0.0"), LinkData: netip.MustParseAddr("255.255.255.0"), LinkType: 3, Metric: 1},
	})

	routes := RunSPF(db, root, "eth0")
	require.Len(t, routes, 1)
	assert.Equal(t, uint32(10+1+1), routes[0].Cost, "must route via the 10+1 cheap path, not 100+1")
}

func TestLSDBAgingFloodsAndRemovesMaxAgeEntry(t *testing.T) {
	db := NewLSDB()
	rid := netip.MustParseAddr("10.0.0.1")
	raw := ospfwire.EncodeRouterLSA(ospfwire.RouterLSA{Header: ospfwire.LSAHeader{
		LinkStateID: rid, AdvertisingRouter: rid, Age: ospfwire.MaxAge - 1,
	}})
	db.Install(ospfwire.RawLSA{Header: ospfwire.DecodeLSAHeader(raw), Raw: raw})
	require.Equal(t, 1, db.Len())

	var agedOut []ospfwire.RawLSA
	db.Age(func(l ospfwire.RawLSA) { agedOut = append(agedOut, l) })
	require.Len(t, agedOut, 1)
	assert.Equal(t, rid, agedOut[0].Header.AdvertisingRouter)
	assert.Equal(t, 0, db.Len())
}

func TestLSDBAgingLeavesFreshEntryAlone(t *testing.T) {
	db := NewLSDB()
	rid := netip.MustParseAddr("10.0.0.1")
	raw := ospfwire.EncodeRouterLSA(ospfwire.RouterLSA{Header: ospfwire.LSAHeader{LinkStateID: rid, AdvertisingRouter: rid}})
	db.Install(ospfwire.RawLSA{Header: ospfwire.DecodeLSAHeader(raw), Raw: raw})

	var agedOut int
	db.Age(func(ospfwire.RawLSA) { agedOut++ })
	assert.Equal(t, 0, agedOut)
	assert.Equal(t, 1, db.Len())

	l, ok := db.Get(ospfwire.Key{Type: ospfwire.LSTypeRouter, LinkStateID: rid, AdvertisingRouter: rid})
	require.True(t, ok)
	assert.Equal(t, uint16(1), l.Header.Age)
}
