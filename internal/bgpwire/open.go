package bgpwire

import (
	"encoding/binary"
	"time"
)

// 4.2. OPEN Message: the first message sent after the TCP connection
// comes up. Capabilities (RFC 5492) ride inside Optional Parameters as
// parameter type 2.
type OpenMessage struct {
	Version       uint8
	MyAS          uint16 // low 16 bits of the ASN; 23456 (AS_TRANS) if 4-octet AS is carried in a capability
	HoldTime      uint16
	Identifier    Identifier
	Capabilities  []Capability
}

// Capability is a decoded RFC 5492 optional-parameter-type-2 capability.
type Capability struct {
	Code  CapabilityCode
	Value []byte
}

type CapabilityCode uint8

const (
	CapMultiprotocol CapabilityCode = 1 // RFC 4760
	CapRouteRefresh  CapabilityCode = 2 // RFC 2918
	CapFourOctetASN  CapabilityCode = 65
	CapGracefulRestart CapabilityCode = 64 // RFC 4724
)

// MultiprotocolValue decodes/encodes the 4-byte AFI/reserved/SAFI value
// carried by a CapMultiprotocol capability.
type MultiprotocolValue struct {
	AFI  AFI
	SAFI SAFI
}

func EncodeMultiprotocol(v MultiprotocolValue) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:2], uint16(v.AFI))
	b[2] = 0
	b[3] = byte(v.SAFI)
	return b
}

func DecodeMultiprotocol(b []byte) (MultiprotocolValue, error) {
	if len(b) != 4 {
		return MultiprotocolValue{}, ErrTruncated
	}
	return MultiprotocolValue{AFI: AFI(binary.BigEndian.Uint16(b[0:2])), SAFI: SAFI(b[3])}, nil
}

// EncodeOpen serializes an OPEN message body (post-header).
func EncodeOpen(o OpenMessage) []byte {
	capParam := encodeCapabilities(o.Capabilities)

	body := make([]byte, 10, 10+len(capParam))
	body[0] = o.Version
	binary.BigEndian.PutUint16(body[1:3], o.MyAS)
	binary.BigEndian.PutUint16(body[3:5], o.HoldTime)
	binary.BigEndian.PutUint32(body[5:9], uint32(o.Identifier))
	body[9] = byte(len(capParam))
	body = append(body, capParam...)
	return body
}

// encodeCapabilities wraps each capability as a type-2 optional
// parameter containing one capability TLV, per RFC 5492 §4.
func encodeCapabilities(caps []Capability) []byte {
	var out []byte
	for _, c := range caps {
		capTLV := append([]byte{byte(c.Code), byte(len(c.Value))}, c.Value...)
		param := append([]byte{2, byte(len(capTLV))}, capTLV...)
		out = append(out, param...)
	}
	return out
}

// DecodeOpen validates and parses an OPEN message body.
func DecodeOpen(body []byte) (OpenMessage, error) {
	if len(body) < 10 {
		return OpenMessage{}, newDecodeErr(ErrTruncated, NotifMessageHeader, SubBadMessageLength, nil)
	}
	o := OpenMessage{
		Version:    body[0],
		MyAS:       binary.BigEndian.Uint16(body[1:3]),
		HoldTime:   binary.BigEndian.Uint16(body[3:5]),
		Identifier: Identifier(binary.BigEndian.Uint32(body[5:9])),
	}
	if o.Version != Version {
		return o, newDecodeErr(ErrBadVersion, NotifOpen, SubUnsupportedVersion, []byte{0, Version})
	}
	if o.HoldTime == 1 || o.HoldTime == 2 {
		return o, newDecodeErr(ErrBadHoldTime, NotifOpen, SubUnacceptableHoldTime, nil)
	}
	optLen := int(body[9])
	rest := body[10:]
	if len(rest) != optLen {
		return o, newDecodeErr(ErrOptParamLength, NotifMessageHeader, SubBadMessageLength, nil)
	}
	caps, err := decodeOptionalParameters(rest)
	if err != nil {
		return o, err
	}
	o.Capabilities = caps
	return o, nil
}

func decodeOptionalParameters(b []byte) ([]Capability, error) {
	var caps []Capability
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, newDecodeErr(ErrOptParamLength, NotifMessageHeader, SubBadMessageLength, nil)
		}
		parmType := b[0]
		parmLen := int(b[1])
		if len(b) < 2+parmLen {
			return nil, newDecodeErr(ErrOptParamLength, NotifMessageHeader, SubBadMessageLength, nil)
		}
		val := b[2 : 2+parmLen]
		if parmType == 2 { // Capabilities optional parameter
			cs, err := decodeCapabilityTLVs(val)
			if err != nil {
				return nil, err
			}
			caps = append(caps, cs...)
		}
		b = b[2+parmLen:]
	}
	return caps, nil
}

func decodeCapabilityTLVs(b []byte) ([]Capability, error) {
	var caps []Capability
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, newDecodeErr(ErrOptParamLength, NotifMessageHeader, SubBadMessageLength, nil)
		}
		code := CapabilityCode(b[0])
		l := int(b[1])
		if len(b) < 2+l {
			return nil, newDecodeErr(ErrOptParamLength, NotifMessageHeader, SubBadMessageLength, nil)
		}
		caps = append(caps, Capability{Code: code, Value: append([]byte(nil), b[2:2+l]...)})
		b = b[2+l:]
	}
	return caps, nil
}

// NegotiatedHoldTime applies the min(local, peer) rule from spec §4.1.
func NegotiatedHoldTime(local, peer uint16) time.Duration {
	h := local
	if peer < h {
		h = peer
	}
	return time.Duration(h) * time.Second
}
