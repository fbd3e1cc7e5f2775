package ospfwire

import "encoding/binary"

// DD bit flags (RFC 2328 §A.3.3).
const (
	DDBitMS = 0x1 // Master/Slave
	DDBitM  = 0x2 // More
	DDBitI  = 0x4 // Init
)

// DatabaseDescriptionPacket summarizes the sender's LSDB contents as a
// list of headers during Exchange, and also carries the three
// negotiation bits during ExStart.
type DatabaseDescriptionPacket struct {
	InterfaceMTU   uint16
	Options        uint8
	Flags          uint8
	DDSequence     uint32
	LSAHeaders     []LSAHeader
}

func (p DatabaseDescriptionPacket) More() bool   { return p.Flags&DDBitM != 0 }
func (p DatabaseDescriptionPacket) Master() bool { return p.Flags&DDBitMS != 0 }
func (p DatabaseDescriptionPacket) Init() bool    { return p.Flags&DDBitI != 0 }

func EncodeDD(p DatabaseDescriptionPacket) []byte {
	body := make([]byte, 8+LSAHeaderLength*len(p.LSAHeaders))
	binary.BigEndian.PutUint16(body[0:2], p.InterfaceMTU)
	body[2] = p.Options
	body[3] = p.Flags
	binary.BigEndian.PutUint32(body[4:8], p.DDSequence)
	for i, h := range p.LSAHeaders {
		encodeLSAHeader(body[8+i*LSAHeaderLength:8+(i+1)*LSAHeaderLength], h)
	}
	return body
}

func DecodeDD(b []byte) (DatabaseDescriptionPacket, error) {
	if len(b) < 8 || (len(b)-8)%LSAHeaderLength != 0 {
		return DatabaseDescriptionPacket{}, ErrTruncated
	}
	p := DatabaseDescriptionPacket{
		InterfaceMTU: binary.BigEndian.Uint16(b[0:2]),
		Options:      b[2],
		Flags:        b[3],
		DDSequence:   binary.BigEndian.Uint32(b[4:8]),
	}
	for i := 8; i+LSAHeaderLength <= len(b); i += LSAHeaderLength {
		p.LSAHeaders = append(p.LSAHeaders, decodeLSAHeader(b[i:i+LSAHeaderLength]))
	}
	return p, nil
}
