package bgpwire

import (
	"encoding/binary"
	"net/netip"
)

// 4.3. UPDATE Message: advertises zero-or-more feasible IPv4-unicast
// routes sharing PathAttributes and withdraws zero-or-more previously
// advertised prefixes. IPv6 (and any other AFI/SAFI) travels inside
// MP_REACH_NLRI/MP_UNREACH_NLRI instead of the classic Withdrawn/NLRI
// fields (RFC 4760) — UpdateMessage surfaces both, and internal/bgp
// treats them uniformly once decoded.
type UpdateMessage struct {
	WithdrawnRoutes []netip.Prefix // IPv4 only; classic field
	Attributes      PathAttributeSet
	NLRI            []netip.Prefix // IPv4 only; classic field
}

// hasAttrType reports whether the raw attribute TLV stream contains an
// occurrence of t, used to distinguish "ORIGIN present with value IGP"
// from "ORIGIN absent" — both decode to the same zero value in
// PathAttributeSet.Origin.
func hasAttrType(b []byte, t AttrType) bool {
	for len(b) >= 3 {
		flags := b[0]
		typ := AttrType(b[1])
		var length, valueStart int
		if flags&FlagExtendedLength != 0 {
			if len(b) < 4 {
				return false
			}
			length = int(binary.BigEndian.Uint16(b[2:4]))
			valueStart = 4
		} else {
			length = int(b[2])
			valueStart = 3
		}
		if len(b) < valueStart+length {
			return false
		}
		if typ == t {
			return true
		}
		b = b[valueStart+length:]
	}
	return false
}

// EncodeUpdate serializes an UPDATE body. fourOctetAS controls AS_PATH
// and AGGREGATOR ASN width, per the negotiated capability.
func EncodeUpdate(u UpdateMessage, fourOctetAS bool) []byte {
	var wr []byte
	for _, p := range u.WithdrawnRoutes {
		wr = appendWirePrefix(wr, p)
	}

	attrs := EncodeAttributes(u.Attributes, fourOctetAS)

	var nlri []byte
	for _, p := range u.NLRI {
		nlri = appendWirePrefix(nlri, p)
	}

	body := make([]byte, 0, 4+len(wr)+len(attrs)+len(nlri))
	wrLen := make([]byte, 2)
	binary.BigEndian.PutUint16(wrLen, uint16(len(wr)))
	body = append(body, wrLen...)
	body = append(body, wr...)

	attrLen := make([]byte, 2)
	binary.BigEndian.PutUint16(attrLen, uint16(len(attrs)))
	body = append(body, attrLen...)
	body = append(body, attrs...)

	body = append(body, nlri...)
	return body
}

// DecodeUpdate validates and parses an UPDATE body. When the NLRI
// field is non-empty the mandatory-attribute check from spec §4.1
// applies: ORIGIN, AS_PATH and NEXT_HOP must all be present.
func DecodeUpdate(body []byte, fourOctetAS bool) (UpdateMessage, error) {
	var u UpdateMessage
	if len(body) < 2 {
		return u, newDecodeErr(ErrTruncated, NotifUpdate, SubMalformedAttrList, nil)
	}
	wrLen := int(binary.BigEndian.Uint16(body[0:2]))
	body = body[2:]
	if len(body) < wrLen {
		return u, newDecodeErr(ErrTruncated, NotifUpdate, SubMalformedAttrList, nil)
	}
	wr := body[:wrLen]
	body = body[wrLen:]
	for len(wr) > 0 {
		p, n, err := readWirePrefix(wr, false)
		if err != nil {
			return u, newDecodeErr(err, NotifUpdate, SubInvalidNetworkField, nil)
		}
		u.WithdrawnRoutes = append(u.WithdrawnRoutes, p)
		wr = wr[n:]
	}

	if len(body) < 2 {
		return u, newDecodeErr(ErrTruncated, NotifUpdate, SubMalformedAttrList, nil)
	}
	attrLen := int(binary.BigEndian.Uint16(body[0:2]))
	body = body[2:]
	if len(body) < attrLen {
		return u, newDecodeErr(ErrTruncated, NotifUpdate, SubMalformedAttrList, nil)
	}
	attrBytes := body[:attrLen]
	body = body[attrLen:]

	attrs, attrErr := DecodeAttributes(attrBytes, fourOctetAS)
	var withdrawErr *DecodeError
	if attrErr != nil {
		de, ok := attrErr.(*DecodeError)
		if !ok || !de.TreatAsWithdraw() {
			return u, attrErr
		}
		// The malformed attribute's own declared length already let the
		// codec skip past it, so parsing continues; the NLRI this UPDATE
		// carries is withdrawn instead of installed (RFC 7606).
		withdrawErr = de
	}
	u.Attributes = attrs

	for len(body) > 0 {
		p, n, err := readWirePrefix(body, false)
		if err != nil {
			return u, newDecodeErr(err, NotifUpdate, SubInvalidNetworkField, nil)
		}
		u.NLRI = append(u.NLRI, p)
		body = body[n:]
	}

	if withdrawErr != nil {
		return u, withdrawErr
	}

	if len(u.NLRI) > 0 {
		if !hasAttrType(attrBytes, AttrOrigin) {
			return u, newDecodeErr(ErrMissingWellKnow, NotifUpdate, SubMissingWellKnown, []byte{byte(AttrOrigin)})
		}
		if len(attrs.ASPath) == 0 {
			return u, newDecodeErr(ErrMissingWellKnow, NotifUpdate, SubMissingWellKnown, []byte{byte(AttrASPath)})
		}
		if !attrs.NextHop.IsValid() {
			return u, newDecodeErr(ErrMissingWellKnow, NotifUpdate, SubMissingWellKnown, []byte{byte(AttrNextHop)})
		}
	}

	return u, nil
}
