package bgpwire

// 4.1. Header: every BGP message starts with a fixed 19-octet header:
// a 16-octet marker, a 2-octet length (including the header itself),
// and a 1-octet type. The marker is all-ones because this speaker does
// never negotiates authentication (spec §1, no cryptographic peer
// authentication in scope).
type Header struct {
	Length uint16
	Type   MessageType
}

// EncodeHeader writes the 19-byte header for a body of the given
// length (body length only, header added on top).
func EncodeHeader(t MessageType, bodyLen int) []byte {
	total := HeaderLength + bodyLen
	b := make([]byte, HeaderLength)
	for i := 0; i < MarkerLength; i++ {
		b[i] = 0xff
	}
	b[16] = byte(total >> 8)
	b[17] = byte(total)
	b[18] = byte(t)
	return b
}

// DecodeHeader validates and parses the 19-byte header. buf must be
// exactly HeaderLength bytes; the caller (session framer) is
// responsible for having read exactly that many bytes off the stream
// before calling this.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderLength {
		return Header{}, newDecodeErr(ErrTruncated, NotifMessageHeader, SubBadMessageLength, nil)
	}
	for i := 0; i < MarkerLength; i++ {
		if buf[i] != 0xff {
			return Header{}, newDecodeErr(ErrBadMarker, NotifMessageHeader, SubConnectionNotSync, nil)
		}
	}
	length := int(buf[16])<<8 | int(buf[17])
	if length < MinMsgLength || length > MaxMsgLength {
		data := []byte{buf[16], buf[17]}
		return Header{}, newDecodeErr(ErrBadLength, NotifMessageHeader, SubBadMessageLength, data)
	}
	typ := MessageType(buf[18])
	switch typ {
	case MsgOpen, MsgUpdate, MsgNotification, MsgKeepalive, MsgRouteRefresh:
	default:
		return Header{}, newDecodeErr(ErrBadType, NotifMessageHeader, SubBadMessageType, []byte{buf[18]})
	}
	return Header{Length: uint16(length), Type: typ}, nil
}
