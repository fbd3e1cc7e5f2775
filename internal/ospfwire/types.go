// Package ospfwire implements bit-exact encode/decode of OSPFv2 packets
// and link-state advertisements (RFC 2328), the OSPF half of spec §4.1
// and §6. Like internal/bgpwire, every codec function returns a typed
// error rather than logging; classifying the error (drop-and-count vs.
// reject-neighbor) is internal/ospf's job.
package ospfwire

import "net/netip"

// PacketType is the OSPF packet type octet (header byte 1).
type PacketType uint8

const (
	PacketHello               PacketType = 1
	PacketDatabaseDescription PacketType = 2
	PacketLSRequest           PacketType = 3
	PacketLSUpdate            PacketType = 4
	PacketLSAck               PacketType = 5
)

const (
	HeaderLength  = 24
	LSAHeaderLength = 20
	Version       = 2
	AllSPFRouters = "224.0.0.5"
	IPProtocol    = 89
	MaxAge        = 3600 // seconds, RFC 2328 §13
	LSRefreshTime = 1800 // seconds, RFC 2328 §13.3
)

// LSType is the link-state-advertisement type code.
type LSType uint8

const (
	LSTypeRouter       LSType = 1
	LSTypeNetwork      LSType = 2
	LSTypeSummary      LSType = 3 // IP network summary
	LSTypeASBRSummary  LSType = 4
	LSTypeASExternal   LSType = 5
)

// Header is the common 24-byte OSPF packet header.
type Header struct {
	Version  uint8
	Type     PacketType
	Length   uint16
	RouterID netip.Addr // 4-byte
	AreaID   netip.Addr // 4-byte, 0.0.0.0 for the backbone
	Checksum uint16
	AuType   uint16
	AuthData uint64
}

// LSAHeader is the common 20-byte link-state-advertisement header, and
// is also the LSDB key material: (Type, LinkStateID, AdvertisingRouter).
type LSAHeader struct {
	Age               uint16
	Options           uint8
	Type              LSType
	LinkStateID       netip.Addr
	AdvertisingRouter netip.Addr
	SequenceNumber    uint32
	Checksum          uint16
	Length            uint16
}

// Key is the LSDB identity triple, RFC 2328 §12.1.4.
type Key struct {
	Type              LSType
	LinkStateID       netip.Addr
	AdvertisingRouter netip.Addr
}

func (h LSAHeader) Key() Key {
	return Key{Type: h.Type, LinkStateID: h.LinkStateID, AdvertisingRouter: h.AdvertisingRouter}
}

// Newer reports whether h is a strictly newer instance than other,
// per RFC 2328 §13.1's (sequence, checksum, age) ordering: higher
// sequence wins; on a tie, higher checksum wins; on a further tie, an
// instance at MaxAge beats one that isn't, else the one that is more
// than MaxAgeDiff(900s) older loses.
func (h LSAHeader) Newer(other LSAHeader) bool {
	if h.SequenceNumber != other.SequenceNumber {
		return int32(h.SequenceNumber) > int32(other.SequenceNumber)
	}
	if h.Checksum != other.Checksum {
		return h.Checksum > other.Checksum
	}
	hMax := h.Age == MaxAge
	oMax := other.Age == MaxAge
	if hMax != oMax {
		return hMax
	}
	const maxAgeDiff = 900
	if int(h.Age)-int(other.Age) > maxAgeDiff {
		return false
	}
	if int(other.Age)-int(h.Age) > maxAgeDiff {
		return true
	}
	return false // identical instance
}

// Equal reports whether h and other carry the same (sequence,
// checksum), RFC 2328 §13's "equal" comparison result used for
// duplicate suppression.
func (h LSAHeader) Equal(other LSAHeader) bool {
	return h.SequenceNumber == other.SequenceNumber && h.Checksum == other.Checksum
}
