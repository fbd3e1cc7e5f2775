package bgpwire

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	raw := EncodeHeader(MsgKeepalive, 0)
	require.Len(t, raw, HeaderLength)
	hdr, err := DecodeHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, MsgKeepalive, hdr.Type)
	assert.Equal(t, uint16(HeaderLength), hdr.Length)
}

func TestDecodeHeaderBadMarker(t *testing.T) {
	raw := EncodeHeader(MsgKeepalive, 0)
	raw[0] = 0
	_, err := DecodeHeader(raw)
	require.ErrorIs(t, err, ErrBadMarker)
}

func TestOpenRoundTrip(t *testing.T) {
	id, err := ParseIdentifier("10.0.1.1")
	require.NoError(t, err)
	o := OpenMessage{
		Version:    Version,
		MyAS:       65001,
		HoldTime:   180,
		Identifier: id,
		Capabilities: []Capability{
			{Code: CapFourOctetASN, Value: []byte{0, 1, 0, 41}},
			{Code: CapMultiprotocol, Value: EncodeMultiprotocol(MultiprotocolValue{AFI: AFIIPv6, SAFI: SAFIUnicast})},
		},
	}
	raw := EncodeOpen(o)
	got, err := DecodeOpen(raw)
	require.NoError(t, err)
	assert.Equal(t, o.Version, got.Version)
	assert.Equal(t, o.MyAS, got.MyAS)
	assert.Equal(t, o.HoldTime, got.HoldTime)
	assert.Equal(t, o.Identifier, got.Identifier)
	require.Len(t, got.Capabilities, 2)
}

func TestOpenRejectsUnacceptableHoldTime(t *testing.T) {
	o := OpenMessage{Version: Version, HoldTime: 1}
	raw := EncodeOpen(o)
	_, err := DecodeOpen(raw)
	require.ErrorIs(t, err, ErrBadHoldTime)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, NotifOpen, de.Code)
	assert.Equal(t, SubUnacceptableHoldTime, de.Subcode)
}

func TestUpdateRoundTripIPv4(t *testing.T) {
	u := UpdateMessage{
		NLRI: []netip.Prefix{netip.MustParsePrefix("203.0.113.0/24")},
		Attributes: PathAttributeSet{
			Origin:  OriginIGP,
			ASPath:  ASPath{{Type: ASSequence, ASNs: []ASN{65002}}},
			NextHop: netip.MustParseAddr("192.0.2.2"),
		},
	}
	raw := EncodeUpdate(u, false)
	got, err := DecodeUpdate(raw, false)
	require.NoError(t, err)
	require.Len(t, got.NLRI, 1)
	assert.Equal(t, u.NLRI[0], got.NLRI[0])
	assert.Equal(t, OriginIGP, got.Attributes.Origin)
	assert.Equal(t, 1, got.Attributes.ASPath.Length())
	assert.True(t, got.Attributes.HasWellKnownMandatory())
}

func TestUpdateMissingOriginRejected(t *testing.T) {
	// Hand-build an attribute stream missing ORIGIN entirely but with
	// AS_PATH and NEXT_HOP present, to exercise spec's ORIGIN-specific
	// missing-well-known-attribute boundary case.
	attrs := PathAttributeSet{
		ASPath:  ASPath{{Type: ASSequence, ASNs: []ASN{65002}}},
		NextHop: netip.MustParseAddr("192.0.2.2"),
	}
	raw := EncodeAttributes(attrs, false)
	// EncodeAttributes always emits ORIGIN; strip the first TLV (ORIGIN is
	// always emitted first) to simulate a peer that omitted it.
	originTLVLen := 3 + 1
	raw = raw[originTLVLen:]

	body := make([]byte, 0)
	body = append(body, 0, 0) // no withdrawn routes
	lenb := []byte{byte(len(raw) >> 8), byte(len(raw))}
	body = append(body, lenb...)
	body = append(body, raw...)
	pfx := netip.MustParsePrefix("198.51.100.0/24")
	body = appendWirePrefix(body, pfx)

	_, err := DecodeUpdate(body, false)
	require.Error(t, err)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, NotifUpdate, de.Code)
	assert.Equal(t, SubMissingWellKnown, de.Subcode)
	assert.Equal(t, []byte{byte(AttrOrigin)}, de.Data)
}

func TestUpdateWithdrawOnly(t *testing.T) {
	u := UpdateMessage{WithdrawnRoutes: []netip.Prefix{netip.MustParsePrefix("203.0.113.0/24")}}
	raw := EncodeUpdate(u, false)
	got, err := DecodeUpdate(raw, false)
	require.NoError(t, err)
	require.Len(t, got.WithdrawnRoutes, 1)
	assert.Empty(t, got.NLRI)
}

func TestUpdateRoundTripIPv6MPReach(t *testing.T) {
	u := UpdateMessage{
		Attributes: PathAttributeSet{
			Origin: OriginIGP,
			ASPath: ASPath{{Type: ASSequence, ASNs: []ASN{65002}}},
			MPReach: &MPReachNLRI{
				AFI:     AFIIPv6,
				SAFI:    SAFIUnicast,
				NextHop: []netip.Addr{netip.MustParseAddr("2001:db8::1")},
				NLRI:    []netip.Prefix{netip.MustParsePrefix("2001:db8:1::/48")},
			},
		},
	}
	raw := EncodeUpdate(u, false)
	got, err := DecodeUpdate(raw, false)
	require.NoError(t, err)
	require.NotNil(t, got.Attributes.MPReach)
	assert.Equal(t, AFIIPv6, got.Attributes.MPReach.AFI)
	require.Len(t, got.Attributes.MPReach.NLRI, 1)
	assert.Equal(t, u.Attributes.MPReach.NLRI[0], got.Attributes.MPReach.NLRI[0])
}

func TestFourOctetASPathRoundTrip(t *testing.T) {
	path := ASPath{{Type: ASSequence, ASNs: []ASN{400000, 65010}}}
	raw := encodeASPath(path, true)
	got, err := decodeASPath(raw, true)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestASPathZeroLengthSegmentRejected(t *testing.T) {
	raw := []byte{byte(ASSequence), 0}
	_, err := decodeASPath(raw, false)
	require.ErrorIs(t, err, ErrMalformedASPath)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.True(t, de.TreatAsWithdraw(), "RFC 7606: a malformed AS_PATH segment is isolable to its own NLRI")
}

// TestUpdateMalformedASPathTreatedAsWithdraw exercises spec §4.4's RFC
// 7606 carve-out: a malformed AS_PATH doesn't abort the whole UPDATE,
// it marks the decode treat-as-withdraw and parsing continues through
// to the NLRI field so the affected prefixes can be withdrawn instead
// of the session being torn down.
func TestUpdateMalformedASPathTreatedAsWithdraw(t *testing.T) {
	var attrs []byte
	attrs = append(attrs, FlagTransitive, byte(AttrOrigin), 1, byte(OriginIGP))
	attrs = append(attrs, FlagTransitive, byte(AttrASPath), 2, byte(ASSequence), 0) // zero-length segment
	nh := netip.MustParseAddr("192.0.2.2").As4()
	attrs = append(attrs, FlagTransitive, byte(AttrNextHop), 4)
	attrs = append(attrs, nh[:]...)

	body := make([]byte, 0)
	body = append(body, 0, 0) // no withdrawn routes
	body = append(body, byte(len(attrs)>>8), byte(len(attrs)))
	body = append(body, attrs...)
	pfx := netip.MustParsePrefix("198.51.100.0/24")
	body = appendWirePrefix(body, pfx)

	got, err := DecodeUpdate(body, false)
	require.Error(t, err)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.True(t, de.TreatAsWithdraw())
	assert.Equal(t, NotifUpdate, de.Code)
	assert.Equal(t, SubMalformedASPath, de.Subcode)
	require.Len(t, got.NLRI, 1, "NLRI is still parsed out so the affected prefix can be withdrawn")
	assert.Equal(t, pfx, got.NLRI[0])
}
