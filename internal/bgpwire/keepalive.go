package bgpwire

// 4.4. KEEPALIVE Message: header only, no body. Exchanged often enough
// not to cause the Hold Timer to expire (spec §4.3's Keepalive =
// Hold/3 default).
func EncodeKeepalive() []byte {
	return nil
}

func DecodeKeepalive(body []byte) error {
	if len(body) != 0 {
		return newDecodeErr(ErrBadLength, NotifMessageHeader, SubBadMessageLength, nil)
	}
	return nil
}

// RouteRefreshMessage is RFC 2918's ROUTE-REFRESH message, advertised
// via the CapRouteRefresh capability.
type RouteRefreshMessage struct {
	AFI  AFI
	SAFI SAFI
}

func EncodeRouteRefresh(m RouteRefreshMessage) []byte {
	b := make([]byte, 4)
	b[0] = byte(m.AFI >> 8)
	b[1] = byte(m.AFI)
	b[2] = 0
	b[3] = byte(m.SAFI)
	return b
}

func DecodeRouteRefresh(body []byte) (RouteRefreshMessage, error) {
	if len(body) != 4 {
		return RouteRefreshMessage{}, newDecodeErr(ErrTruncated, NotifMessageHeader, SubBadMessageLength, nil)
	}
	return RouteRefreshMessage{
		AFI:  AFI(uint16(body[0])<<8 | uint16(body[1])),
		SAFI: SAFI(body[3]),
	}, nil
}
