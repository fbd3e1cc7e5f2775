package ospfwire

import "encoding/binary"

// RawLSA is an LSA kept as its decoded header alongside the complete
// wire bytes (header+body) it arrived/will depart as, so flooding never
// needs to re-encode an LSA it is merely relaying.
type RawLSA struct {
	Header LSAHeader
	Raw    []byte
}

// EncodeLSUpdate concatenates whole LSAs (each already including its
// own 20-byte header) behind a 4-byte count, per RFC 2328 §A.3.5.
func EncodeLSUpdate(lsas []RawLSA) []byte {
	total := 4
	for _, l := range lsas {
		total += len(l.Raw)
	}
	body := make([]byte, 4, total)
	binary.BigEndian.PutUint32(body[0:4], uint32(len(lsas)))
	for _, l := range lsas {
		body = append(body, l.Raw...)
	}
	return body
}

func DecodeLSUpdate(b []byte) ([]RawLSA, error) {
	if len(b) < 4 {
		return nil, ErrTruncated
	}
	count := int(binary.BigEndian.Uint32(b[0:4]))
	b = b[4:]
	lsas := make([]RawLSA, 0, count)
	for i := 0; i < count; i++ {
		if len(b) < LSAHeaderLength {
			return nil, ErrTruncated
		}
		hdr := decodeLSAHeader(b[:LSAHeaderLength])
		if int(hdr.Length) > len(b) || hdr.Length < LSAHeaderLength {
			return nil, ErrTruncated
		}
		raw := append([]byte(nil), b[:hdr.Length]...)
		lsas = append(lsas, RawLSA{Header: hdr, Raw: raw})
		b = b[hdr.Length:]
	}
	return lsas, nil
}
