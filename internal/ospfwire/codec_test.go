package ospfwire

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		RouterID: netip.MustParseAddr("10.0.0.1"),
		AreaID:   netip.MustParseAddr("0.0.0.0"),
	}
	body := EncodeHello(HelloPacket{
		NetworkMask:   netip.MustParseAddr("255.255.255.0"),
		HelloInterval: 10,
	})
	raw := EncodeHeader(h, PacketHello, body)
	got, gotBody, err := DecodeHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, PacketHello, got.Type)
	assert.Equal(t, h.RouterID, got.RouterID)
	assert.Equal(t, h.AreaID, got.AreaID)
	assert.Equal(t, body, gotBody)
}

func TestHeaderRejectsBadChecksum(t *testing.T) {
	h := Header{RouterID: netip.MustParseAddr("10.0.0.1"), AreaID: netip.MustParseAddr("0.0.0.0")}
	raw := EncodeHeader(h, PacketHello, nil)
	raw[12] ^= 0xff
	_, _, err := DecodeHeader(raw)
	require.ErrorIs(t, err, ErrBadChecksum)
}

func TestHeaderRejectsNonNullAuth(t *testing.T) {
	h := Header{RouterID: netip.MustParseAddr("10.0.0.1"), AreaID: netip.MustParseAddr("0.0.0.0")}
	raw := EncodeHeader(h, PacketHello, nil)
	raw[14], raw[15] = 0, 1
	_, _, err := DecodeHeader(raw)
	require.ErrorIs(t, err, ErrAuthNotNull)
}

func TestHelloRoundTrip(t *testing.T) {
	h := HelloPacket{
		NetworkMask:        netip.MustParseAddr("255.255.255.0"),
		HelloInterval:      10,
		RouterPriority:     1,
		RouterDeadInterval: 40,
		DesignatedRouter:   netip.MustParseAddr("10.0.0.1"),
		Neighbors:          []netip.Addr{netip.MustParseAddr("10.0.0.2"), netip.MustParseAddr("10.0.0.3")},
	}
	raw := EncodeHello(h)
	got, err := DecodeHello(raw)
	require.NoError(t, err)
	assert.Equal(t, h.NetworkMask, got.NetworkMask)
	assert.Equal(t, h.HelloInterval, got.HelloInterval)
	assert.Equal(t, h.DesignatedRouter, got.DesignatedRouter)
	assert.Equal(t, h.Neighbors, got.Neighbors)
}

func TestDDRoundTrip(t *testing.T) {
	p := DatabaseDescriptionPacket{
		InterfaceMTU: 1500,
		Flags:        DDBitMS | DDBitI,
		DDSequence:   42,
		LSAHeaders: []LSAHeader{
			{Type: LSTypeRouter, LinkStateID: netip.MustParseAddr("10.0.0.1"), AdvertisingRouter: netip.MustParseAddr("10.0.0.1")},
		},
	}
	raw := EncodeDD(p)
	got, err := DecodeDD(raw)
	require.NoError(t, err)
	assert.True(t, got.Master())
	assert.True(t, got.Init())
	assert.False(t, got.More())
	assert.Equal(t, p.DDSequence, got.DDSequence)
	require.Len(t, got.LSAHeaders, 1)
	assert.Equal(t, p.LSAHeaders[0].Type, got.LSAHeaders[0].Type)
}

func TestLSRequestRoundTrip(t *testing.T) {
	keys := []Key{
		{Type: LSTypeRouter, LinkStateID: netip.MustParseAddr("10.0.0.1"), AdvertisingRouter: netip.MustParseAddr("10.0.0.1")},
		{Type: LSTypeNetwork, LinkStateID: netip.MustParseAddr("10.0.0.2"), AdvertisingRouter: netip.MustParseAddr("10.0.0.2")},
	}
	raw := EncodeLSRequest(keys)
	got, err := DecodeLSRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, keys, got)
}

func TestLSAckRoundTrip(t *testing.T) {
	headers := []LSAHeader{
		{Type: LSTypeRouter, LinkStateID: netip.MustParseAddr("10.0.0.1"), AdvertisingRouter: netip.MustParseAddr("10.0.0.1"), SequenceNumber: 1},
	}
	raw := EncodeLSAck(headers)
	got, err := DecodeLSAck(raw)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, headers[0].LinkStateID, got[0].LinkStateID)
}

func TestRouterLSARoundTrip(t *testing.T) {
	rid := netip.MustParseAddr("10.0.0.1")
	l := RouterLSA{
		Header: LSAHeader{LinkStateID: rid, AdvertisingRouter: rid, SequenceNumber: 0x80000001},
		Links: []RouterLink{
			{LinkID: netip.MustParseAddr("10.0.0.1"), LinkData: netip.MustParseAddr("255.255.255.255"), LinkType: 3, Metric: 10},
			{LinkID: netip.MustParseAddr("10.0.1.2"), LinkData: netip.MustParseAddr("10.0.1.1"), LinkType: 1, Metric: 10},
		},
	}
	raw := EncodeRouterLSA(l)
	assert.True(t, VerifyLSAChecksum(raw))

	hdr := DecodeLSAHeader(raw)
	assert.Equal(t, LSTypeRouter, hdr.Type)
	assert.Equal(t, l.Header.SequenceNumber, hdr.SequenceNumber)

	got, err := DecodeRouterLSA(hdr, raw[LSAHeaderLength:])
	require.NoError(t, err)
	require.Len(t, got.Links, 2)
	assert.Equal(t, l.Links[0].LinkID, got.Links[0].LinkID)
	assert.Equal(t, l.Links[1].LinkType, got.Links[1].LinkType)
}

func TestRouterLSAChecksumDetectsCorruption(t *testing.T) {
	rid := netip.MustParseAddr("10.0.0.1")
	raw := EncodeRouterLSA(RouterLSA{
		Header: LSAHeader{LinkStateID: rid, AdvertisingRouter: rid},
		Links:  []RouterLink{{LinkID: rid, LinkData: rid, LinkType: 3, Metric: 1}},
	})
	raw[len(raw)-1] ^= 0xff
	assert.False(t, VerifyLSAChecksum(raw))
}

func TestNetworkLSARoundTrip(t *testing.T) {
	dr := netip.MustParseAddr("10.0.0.1")
	l := NetworkLSA{
		Header:          LSAHeader{LinkStateID: dr, AdvertisingRouter: dr},
		NetworkMask:     netip.MustParseAddr("255.255.255.0"),
		AttachedRouters: []netip.Addr{dr, netip.MustParseAddr("10.0.0.2")},
	}
	raw := EncodeNetworkLSA(l)
	hdr := DecodeLSAHeader(raw)
	got, err := DecodeNetworkLSA(hdr, raw[LSAHeaderLength:])
	require.NoError(t, err)
	assert.Equal(t, l.NetworkMask, got.NetworkMask)
	assert.Equal(t, l.AttachedRouters, got.AttachedRouters)
}

func TestLSUpdateRoundTrip(t *testing.T) {
	rid := netip.MustParseAddr("10.0.0.1")
	raw1 := EncodeRouterLSA(RouterLSA{Header: LSAHeader{LinkStateID: rid, AdvertisingRouter: rid}})
	lsas := []RawLSA{{Header: DecodeLSAHeader(raw1), Raw: raw1}}

	body := EncodeLSUpdate(lsas)
	got, err := DecodeLSUpdate(body)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rid, got[0].Header.AdvertisingRouter)
	assert.Equal(t, raw1, got[0].Raw)
}

func TestLSAHeaderNewerBySequence(t *testing.T) {
	older := LSAHeader{SequenceNumber: 0x80000001, Checksum: 5}
	newer := LSAHeader{SequenceNumber: 0x80000002, Checksum: 5}
	assert.True(t, newer.Newer(older))
	assert.False(t, older.Newer(newer))
}

func TestLSAHeaderNewerByChecksumTiebreak(t *testing.T) {
	a := LSAHeader{SequenceNumber: 1, Checksum: 10}
	b := LSAHeader{SequenceNumber: 1, Checksum: 20}
	assert.True(t, b.Newer(a))
}

func TestLSAHeaderMaxAgeWinsTie(t *testing.T) {
	aging := LSAHeader{SequenceNumber: 1, Checksum: 5, Age: MaxAge}
	fresh := LSAHeader{SequenceNumber: 1, Checksum: 5, Age: 100}
	assert.True(t, aging.Newer(fresh))
}
