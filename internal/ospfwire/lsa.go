package ospfwire

import (
	"encoding/binary"
	"net/netip"
)

func encodeLSAHeader(b []byte, h LSAHeader) {
	binary.BigEndian.PutUint16(b[0:2], h.Age)
	b[2] = h.Options
	b[3] = byte(h.Type)
	lsid := h.LinkStateID.As4()
	copy(b[4:8], lsid[:])
	ar := h.AdvertisingRouter.As4()
	copy(b[8:12], ar[:])
	binary.BigEndian.PutUint32(b[12:16], h.SequenceNumber)
	binary.BigEndian.PutUint16(b[16:18], h.Checksum)
	binary.BigEndian.PutUint16(b[18:20], h.Length)
}

// DecodeLSAHeader parses the 20-byte LSA header prefix of a raw LSA,
// used by callers that hold a freshly encoded LSA and need the header
// (with its real Length and Checksum) that finishLSA computed.
func DecodeLSAHeader(b []byte) LSAHeader {
	return decodeLSAHeader(b)
}

func decodeLSAHeader(b []byte) LSAHeader {
	return LSAHeader{
		Age:               binary.BigEndian.Uint16(b[0:2]),
		Options:           b[2],
		Type:              LSType(b[3]),
		LinkStateID:       addr4(b[4:8]),
		AdvertisingRouter: addr4(b[8:12]),
		SequenceNumber:    binary.BigEndian.Uint32(b[12:16]),
		Checksum:          binary.BigEndian.Uint16(b[16:18]),
		Length:            uint16(binary.BigEndian.Uint16(b[18:20])),
	}
}

// RouterLink is one entry of a Router-LSA's link list (RFC 2328
// §A.4.2). LinkType 1 = point-to-point, 2 = transit network, 3 = stub
// network; this scope uses 1 and 3 (single-area, no virtual links).
type RouterLink struct {
	LinkID    netip.Addr
	LinkData  netip.Addr
	LinkType  uint8
	Metric    uint16
}

// RouterLSA describes this router's own links (RFC 2328 §A.4.2),
// LSType 1, LinkStateID = originating router-id.
type RouterLSA struct {
	Header LSAHeader
	Bits   uint8 // V|E|B bits; always 0 in this scope (no virtual links, not an ASBR/ABR)
	Links  []RouterLink
}

func EncodeRouterLSA(l RouterLSA) []byte {
	hdr := l.Header
	hdr.Type = LSTypeRouter
	body := make([]byte, 4+12*len(l.Links))
	body[1] = l.Bits
	binary.BigEndian.PutUint16(body[2:4], uint16(len(l.Links)))
	for i, link := range l.Links {
		off := 4 + i*12
		lid := link.LinkID.As4()
		copy(body[off:off+4], lid[:])
		ld := link.LinkData.As4()
		copy(body[off+4:off+8], ld[:])
		body[off+8] = link.LinkType
		body[off+9] = 0 // TOS count, always 0 (no TOS metrics in this scope)
		binary.BigEndian.PutUint16(body[off+10:off+12], link.Metric)
	}
	return finishLSA(hdr, body)
}

func DecodeRouterLSA(hdr LSAHeader, body []byte) (RouterLSA, error) {
	if len(body) < 4 {
		return RouterLSA{}, ErrTruncated
	}
	n := int(binary.BigEndian.Uint16(body[2:4]))
	l := RouterLSA{Header: hdr, Bits: body[1]}
	for i := 0; i < n; i++ {
		off := 4 + i*12
		if off+12 > len(body) {
			return RouterLSA{}, ErrTruncated
		}
		l.Links = append(l.Links, RouterLink{
			LinkID:   addr4(body[off : off+4]),
			LinkData: addr4(body[off+4 : off+8]),
			LinkType: body[off+8],
			Metric:   binary.BigEndian.Uint16(body[off+10 : off+12]),
		})
	}
	return l, nil
}

// NetworkLSA describes a transit broadcast network's attached routers
// (RFC 2328 §A.4.3), LSType 2, originated by the network's DR,
// LinkStateID = the DR's interface address on that network.
type NetworkLSA struct {
	Header          LSAHeader
	NetworkMask     netip.Addr
	AttachedRouters []netip.Addr
}

func EncodeNetworkLSA(l NetworkLSA) []byte {
	hdr := l.Header
	hdr.Type = LSTypeNetwork
	body := make([]byte, 4+4*len(l.AttachedRouters))
	mask := l.NetworkMask.As4()
	copy(body[0:4], mask[:])
	for i, r := range l.AttachedRouters {
		rb := r.As4()
		copy(body[4+4*i:8+4*i], rb[:])
	}
	return finishLSA(hdr, body)
}

func DecodeNetworkLSA(hdr LSAHeader, body []byte) (NetworkLSA, error) {
	if len(body) < 4 || (len(body)-4)%4 != 0 {
		return NetworkLSA{}, ErrTruncated
	}
	l := NetworkLSA{Header: hdr, NetworkMask: addr4(body[0:4])}
	for i := 4; i+4 <= len(body); i += 4 {
		l.AttachedRouters = append(l.AttachedRouters, addr4(body[i:i+4]))
	}
	return l, nil
}

// SummaryLSA is the Type-3 (network summary, originated by an ABR) and
// Type-4 (ASBR summary) shared body shape (RFC 2328 §A.4.4/§A.4.5).
// This single-area scope never originates these (there is no inter-area
// boundary to summarize across) but decodes them from a peer that does,
// per the "decode(encode(M))=M for every syntactically valid packet"
// invariant.
type SummaryLSA struct {
	Header      LSAHeader
	NetworkMask netip.Addr
	Metric      uint32 // low 24 bits
}

func EncodeSummaryLSA(l SummaryLSA, t LSType) []byte {
	hdr := l.Header
	hdr.Type = t
	body := make([]byte, 8)
	mask := l.NetworkMask.As4()
	copy(body[0:4], mask[:])
	binary.BigEndian.PutUint32(body[4:8], l.Metric&0x00ffffff)
	return finishLSA(hdr, body)
}

func DecodeSummaryLSA(hdr LSAHeader, body []byte) (SummaryLSA, error) {
	if len(body) < 8 {
		return SummaryLSA{}, ErrTruncated
	}
	return SummaryLSA{
		Header:      hdr,
		NetworkMask: addr4(body[0:4]),
		Metric:      binary.BigEndian.Uint32(body[4:8]) & 0x00ffffff,
	}, nil
}

// ASExternalLSA is the Type-5 body (RFC 2328 §A.4.6), originated by an
// ASBR to inject routes learned from another routing protocol. No part
// of this agent originates one; the type is encoded and decoded only by
// this codec.
type ASExternalLSA struct {
	Header        LSAHeader
	NetworkMask   netip.Addr
	EBit          bool // Type-2 external metric when set
	Metric        uint32
	ForwardingAddr netip.Addr
	ExternalRouteTag uint32
}

func EncodeASExternalLSA(l ASExternalLSA) []byte {
	hdr := l.Header
	hdr.Type = LSTypeASExternal
	body := make([]byte, 16)
	mask := l.NetworkMask.As4()
	copy(body[0:4], mask[:])
	m := l.Metric & 0x00ffffff
	if l.EBit {
		m |= 0x80000000
	}
	binary.BigEndian.PutUint32(body[4:8], m)
	fa := l.ForwardingAddr.As4()
	copy(body[8:12], fa[:])
	binary.BigEndian.PutUint32(body[12:16], l.ExternalRouteTag)
	return finishLSA(hdr, body)
}

func DecodeASExternalLSA(hdr LSAHeader, body []byte) (ASExternalLSA, error) {
	if len(body) < 16 {
		return ASExternalLSA{}, ErrTruncated
	}
	raw := binary.BigEndian.Uint32(body[4:8])
	return ASExternalLSA{
		Header:           hdr,
		NetworkMask:      addr4(body[0:4]),
		EBit:             raw&0x80000000 != 0,
		Metric:           raw & 0x00ffffff,
		ForwardingAddr:   addr4(body[8:12]),
		ExternalRouteTag: binary.BigEndian.Uint32(body[12:16]),
	}, nil
}

// finishLSA prepends the 20-byte header (with Length and Checksum
// filled in) to body, per spec §4.1: LSA checksum is Fletcher-16 over
// the LSA with age zeroed.
func finishLSA(hdr LSAHeader, body []byte) []byte {
	hdr.Length = uint16(LSAHeaderLength + len(body))
	buf := make([]byte, LSAHeaderLength+len(body))
	encodeLSAHeader(buf[:LSAHeaderLength], hdr)
	copy(buf[LSAHeaderLength:], body)

	// Fletcher-16 runs from byte 2 (LS Options, skipping the 2-byte Age
	// field) to the end; the checksum field sits at header offset 16,
	// i.e. offset 14 within the age-excluded slice.
	sumInput := buf[2:]
	cksum := fletcher16Checksum(sumInput, 14)
	binary.BigEndian.PutUint16(buf[16:18], cksum)
	return buf
}

// VerifyLSAChecksum recomputes and compares the Fletcher-16 checksum
// of a decoded LSA's raw bytes (header+body, as received).
func VerifyLSAChecksum(raw []byte) bool {
	if len(raw) < LSAHeaderLength {
		return false
	}
	got := binary.BigEndian.Uint16(raw[16:18])
	want := fletcher16Checksum(raw[2:], 14)
	return got == want
}
