package ospfwire

import (
	"encoding/binary"
	"net/netip"
)

// HelloPacket is the OSPF Hello body (RFC 2328 §A.3.2), used to
// discover and maintain neighbors and to carry the 2-Way seen-list.
type HelloPacket struct {
	NetworkMask     netip.Addr // /32 representation of the interface's subnet mask
	HelloInterval   uint16
	Options         uint8
	RouterPriority  uint8
	RouterDeadInterval uint32
	DesignatedRouter        netip.Addr
	BackupDesignatedRouter  netip.Addr
	Neighbors       []netip.Addr
}

func EncodeHello(h HelloPacket) []byte {
	body := make([]byte, 20+4*len(h.Neighbors))
	mask := h.NetworkMask.As4()
	copy(body[0:4], mask[:])
	binary.BigEndian.PutUint16(body[4:6], h.HelloInterval)
	body[6] = h.Options
	body[7] = h.RouterPriority
	binary.BigEndian.PutUint32(body[8:12], h.RouterDeadInterval)
	dr := h.DesignatedRouter.As4()
	copy(body[12:16], dr[:])
	bdr := h.BackupDesignatedRouter.As4()
	copy(body[16:20], bdr[:])
	for i, n := range h.Neighbors {
		nb := n.As4()
		copy(body[20+4*i:24+4*i], nb[:])
	}
	return body
}

func DecodeHello(b []byte) (HelloPacket, error) {
	if len(b) < 20 || (len(b)-20)%4 != 0 {
		return HelloPacket{}, ErrTruncated
	}
	h := HelloPacket{
		NetworkMask:        addr4(b[0:4]),
		HelloInterval:      binary.BigEndian.Uint16(b[4:6]),
		Options:            b[6],
		RouterPriority:     b[7],
		RouterDeadInterval: binary.BigEndian.Uint32(b[8:12]),
		DesignatedRouter:       addr4(b[12:16]),
		BackupDesignatedRouter: addr4(b[16:20]),
	}
	for i := 20; i+4 <= len(b); i += 4 {
		h.Neighbors = append(h.Neighbors, addr4(b[i:i+4]))
	}
	return h, nil
}

func addr4(b []byte) netip.Addr {
	return netip.AddrFrom4([4]byte{b[0], b[1], b[2], b[3]})
}
