package ospfwire

import "encoding/binary"

// EncodeLSRequest encodes the list of LSDB keys being requested, per
// RFC 2328 §A.3.4.
func EncodeLSRequest(keys []Key) []byte {
	body := make([]byte, 12*len(keys))
	for i, k := range keys {
		off := i * 12
		binary.BigEndian.PutUint32(body[off:off+4], uint32(k.Type))
		lsid := k.LinkStateID.As4()
		copy(body[off+4:off+8], lsid[:])
		ar := k.AdvertisingRouter.As4()
		copy(body[off+8:off+12], ar[:])
	}
	return body
}

func DecodeLSRequest(b []byte) ([]Key, error) {
	if len(b)%12 != 0 {
		return nil, ErrTruncated
	}
	var keys []Key
	for i := 0; i+12 <= len(b); i += 12 {
		keys = append(keys, Key{
			Type:              LSType(binary.BigEndian.Uint32(b[i : i+4])),
			LinkStateID:       addr4(b[i+4 : i+8]),
			AdvertisingRouter: addr4(b[i+8 : i+12]),
		})
	}
	return keys, nil
}
