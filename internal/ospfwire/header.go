package ospfwire

import (
	"encoding/binary"
	"net/netip"
)

// EncodeHeader serializes the 24-byte common header and patches in the
// checksum computed over header+body with AuthData zeroed, per spec
// §4.1's "OSPF header checksum is the 16-bit one's-complement sum over
// the packet with the 8-byte authentication field zeroed."
func EncodeHeader(h Header, t PacketType, body []byte) []byte {
	buf := make([]byte, HeaderLength+len(body))
	buf[0] = Version
	buf[1] = byte(t)
	binary.BigEndian.PutUint16(buf[2:4], uint16(HeaderLength+len(body)))
	rid := h.RouterID.As4()
	copy(buf[4:8], rid[:])
	aid := h.AreaID.As4()
	copy(buf[8:12], aid[:])
	// buf[12:14] checksum, filled below
	binary.BigEndian.PutUint16(buf[14:16], h.AuType)
	// buf[16:24] auth data left zero (AuType must be 0, null, in scope)
	copy(buf[24:], body)

	cksum := onesComplementChecksum(buf)
	binary.BigEndian.PutUint16(buf[12:14], cksum)
	return buf
}

// DecodeHeader parses and validates the common header, verifying the
// checksum with the authentication field zeroed and rejecting any
// authentication type other than null (spec §4.1).
func DecodeHeader(b []byte) (Header, []byte, error) {
	if len(b) < HeaderLength {
		return Header{}, nil, ErrTruncated
	}
	if b[0] != Version {
		return Header{}, nil, ErrBadVersion
	}
	length := int(binary.BigEndian.Uint16(b[2:4]))
	if length > len(b) {
		return Header{}, nil, ErrTruncated
	}
	auType := binary.BigEndian.Uint16(b[14:16])
	if auType != 0 {
		return Header{}, nil, ErrAuthNotNull
	}

	check := append([]byte(nil), b[:length]...)
	for i := 16; i < 24; i++ {
		check[i] = 0
	}
	if onesComplementChecksum(check) != 0 {
		return Header{}, nil, ErrBadChecksum
	}

	h := Header{
		Version:  b[0],
		Type:     PacketType(b[1]),
		Length:   uint16(length),
		RouterID: netip.AddrFrom4([4]byte{b[4], b[5], b[6], b[7]}),
		AreaID:   netip.AddrFrom4([4]byte{b[8], b[9], b[10], b[11]}),
		Checksum: binary.BigEndian.Uint16(b[12:14]),
		AuType:   auType,
	}
	return h, b[HeaderLength:length], nil
}
