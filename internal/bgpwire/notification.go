package bgpwire

// 4.5. NOTIFICATION Message: sent when an error condition is detected;
// the connection is closed immediately after. The FSM (internal/bgp)
// is the only caller that constructs one of these from a live session;
// decode is used to interpret a NOTIFICATION received from a peer.
type NotificationMessage struct {
	Code    NotifCode
	Subcode NotifSubcode
	Data    []byte
}

func EncodeNotification(n NotificationMessage) []byte {
	b := make([]byte, 2, 2+len(n.Data))
	b[0] = byte(n.Code)
	b[1] = byte(n.Subcode)
	return append(b, n.Data...)
}

func DecodeNotification(body []byte) (NotificationMessage, error) {
	if len(body) < 2 {
		return NotificationMessage{}, newDecodeErr(ErrTruncated, NotifMessageHeader, SubBadMessageLength, nil)
	}
	return NotificationMessage{
		Code:    NotifCode(body[0]),
		Subcode: NotifSubcode(body[1]),
		Data:    append([]byte(nil), body[2:]...),
	}, nil
}
