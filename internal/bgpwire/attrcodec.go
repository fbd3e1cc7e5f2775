package bgpwire

import (
	"encoding/binary"
	"net/netip"
)

// EncodeAttributes serializes a PathAttributeSet to its wire form. The
// codec emits the recognized attributes in type-code order, which spec
// §4.1's round-trip invariant explicitly allows ("modulo re-ordering
// attributes by type code"); retained unrecognized attributes (Partial)
// follow them, in no defined order.
func EncodeAttributes(s PathAttributeSet, fourOctetAS bool) []byte {
	var out []byte

	emit := func(t AttrType, value []byte) {
		flags, _ := expectedFlags(t)
		if len(value) > 255 {
			flags |= FlagExtendedLength
			out = append(out, flags, byte(t))
			lb := make([]byte, 2)
			binary.BigEndian.PutUint16(lb, uint16(len(value)))
			out = append(out, lb...)
		} else {
			out = append(out, flags, byte(t), byte(len(value)))
		}
		out = append(out, value...)
	}

	emit(AttrOrigin, []byte{byte(s.Origin)})
	emit(AttrASPath, encodeASPath(s.ASPath, fourOctetAS))
	if s.NextHop.IsValid() {
		a4 := s.NextHop.As4()
		emit(AttrNextHop, a4[:])
	}
	if s.MED != nil {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, *s.MED)
		emit(AttrMultiExitDisc, b)
	}
	if s.LocalPref != nil {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, *s.LocalPref)
		emit(AttrLocalPref, b)
	}
	if s.AtomicAggregate {
		emit(AttrAtomicAggregate, nil)
	}
	if s.Aggregator != nil {
		var b []byte
		b = putASN(b, s.Aggregator.ASN, fourOctetAS)
		ib := make([]byte, 4)
		binary.BigEndian.PutUint32(ib, uint32(s.Aggregator.Identifier))
		b = append(b, ib...)
		emit(AttrAggregator, b)
	}
	if len(s.Communities) > 0 {
		b := make([]byte, 4*len(s.Communities))
		for i, c := range s.Communities {
			binary.BigEndian.PutUint32(b[i*4:], c)
		}
		emit(AttrCommunities, b)
	}
	if s.OriginatorID != nil {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(*s.OriginatorID))
		emit(AttrOriginatorID, b)
	}
	if len(s.ClusterList) > 0 {
		b := make([]byte, 4*len(s.ClusterList))
		for i, c := range s.ClusterList {
			binary.BigEndian.PutUint32(b[i*4:], c)
		}
		emit(AttrClusterList, b)
	}
	if s.MPReach != nil {
		emit(AttrMPReachNLRI, encodeMPReach(*s.MPReach))
	}
	if s.MPUnreach != nil {
		emit(AttrMPUnreachNLRI, encodeMPUnreach(*s.MPUnreach))
	}
	for t, raw := range s.Partial {
		flags := byte(FlagOptional | FlagTransitive | FlagPartial)
		out = append(out, flags, byte(t), byte(len(raw)))
		out = append(out, raw...)
	}
	return out
}

func encodeASPath(path ASPath, fourOctetAS bool) []byte {
	var b []byte
	for _, seg := range path {
		b = append(b, byte(seg.Type), byte(len(seg.ASNs)))
		for _, a := range seg.ASNs {
			b = putASN(b, a, fourOctetAS)
		}
	}
	return b
}

func encodeMPReach(m MPReachNLRI) []byte {
	var b []byte
	afi := make([]byte, 2)
	binary.BigEndian.PutUint16(afi, uint16(m.AFI))
	b = append(b, afi...)
	b = append(b, byte(m.SAFI))

	var nh []byte
	for _, a := range m.NextHop {
		if a.Is4() {
			a4 := a.As4()
			nh = append(nh, a4[:]...)
		} else {
			a16 := a.As16()
			nh = append(nh, a16[:]...)
		}
	}
	b = append(b, byte(len(nh)))
	b = append(b, nh...)
	b = append(b, 0) // SNPA count, always zero (deprecated field)
	for _, p := range m.NLRI {
		b = appendWirePrefix(b, p)
	}
	return b
}

func encodeMPUnreach(m MPUnreachNLRI) []byte {
	var b []byte
	afi := make([]byte, 2)
	binary.BigEndian.PutUint16(afi, uint16(m.AFI))
	b = append(b, afi...)
	b = append(b, byte(m.SAFI))
	for _, p := range m.Withdrawn {
		b = appendWirePrefix(b, p)
	}
	return b
}

// appendWirePrefix appends the RFC 4271 §4.3 <length, prefix> encoding:
// a 1-byte prefix length followed by the minimum number of bytes
// needed to hold that many bits.
func appendWirePrefix(b []byte, p netip.Prefix) []byte {
	bits := p.Bits()
	b = append(b, byte(bits))
	nbytes := (bits + 7) / 8
	addr := p.Addr()
	if addr.Is4() {
		a4 := addr.As4()
		return append(b, a4[:nbytes]...)
	}
	a16 := addr.As16()
	return append(b, a16[:nbytes]...)
}

// readWirePrefix parses a <length, prefix> tuple for the given address
// family starting at b, returning the decoded prefix and the number of
// bytes consumed.
func readWirePrefix(b []byte, v6 bool) (netip.Prefix, int, error) {
	if len(b) < 1 {
		return netip.Prefix{}, 0, ErrTruncated
	}
	bits := int(b[0])
	maxBits := 32
	if v6 {
		maxBits = 128
	}
	if bits > maxBits {
		return netip.Prefix{}, 0, ErrTruncated
	}
	nbytes := (bits + 7) / 8
	if len(b) < 1+nbytes {
		return netip.Prefix{}, 0, ErrTruncated
	}
	if v6 {
		var raw [16]byte
		copy(raw[:], b[1:1+nbytes])
		return netip.PrefixFrom(netip.AddrFrom16(raw), bits), 1 + nbytes, nil
	}
	var raw [4]byte
	copy(raw[:], b[1:1+nbytes])
	return netip.PrefixFrom(netip.AddrFrom4(raw), bits), 1 + nbytes, nil
}

// DecodeAttributes parses the Path Attributes field of an UPDATE
// message body, validating flag/category agreement and attribute
// lengths along the way (spec §4.1's decode invariants).
func DecodeAttributes(b []byte, fourOctetAS bool) (PathAttributeSet, error) {
	var s PathAttributeSet
	var withdrawErr *DecodeError
	for len(b) > 0 {
		if len(b) < 3 {
			return s, newDecodeErr(ErrTruncated, NotifUpdate, SubMalformedAttrList, nil)
		}
		flags := b[0]
		typ := AttrType(b[1])
		var length int
		var valueStart int
		if flags&FlagExtendedLength != 0 {
			if len(b) < 4 {
				return s, newDecodeErr(ErrTruncated, NotifUpdate, SubMalformedAttrList, nil)
			}
			length = int(binary.BigEndian.Uint16(b[2:4]))
			valueStart = 4
		} else {
			length = int(b[2])
			valueStart = 3
		}
		if len(b) < valueStart+length {
			return s, newDecodeErr(ErrAttrLength, NotifUpdate, SubAttrLengthError, []byte{byte(typ)})
		}
		value := b[valueStart : valueStart+length]
		b = b[valueStart+length:]

		if exp, known := expectedFlags(typ); known {
			// Category bits (optional/transitive) must match; PARTIAL and
			// extended-length are wire-shape details, not category, so they're
			// masked off before comparing.
			if flags&(FlagOptional|FlagTransitive) != exp {
				return s, newDecodeErr(ErrAttrFlags, NotifUpdate, SubAttrFlagsError, []byte{byte(typ)})
			}
		}

		if err := decodeOneAttribute(&s, typ, flags, value, fourOctetAS); err != nil {
			de, ok := err.(*DecodeError)
			if ok && de.TreatAsWithdraw() {
				// RFC 7606: the attribute's own declared length already let
				// us skip past it safely, so keep parsing the rest of the
				// list and withdraw the NLRI this UPDATE carries instead of
				// tearing the session down.
				if withdrawErr == nil {
					withdrawErr = de
				}
				continue
			}
			return s, err
		}
	}
	if withdrawErr != nil {
		return s, withdrawErr
	}
	return s, nil
}

func decodeOneAttribute(s *PathAttributeSet, typ AttrType, flags byte, value []byte, fourOctetAS bool) error {
	switch typ {
	case AttrOrigin:
		if len(value) != 1 {
			return newDecodeErr(ErrAttrLength, NotifUpdate, SubAttrLengthError, []byte{byte(typ)})
		}
		s.Origin = Origin(value[0])
	case AttrASPath:
		path, err := decodeASPath(value, fourOctetAS)
		if err != nil {
			return err
		}
		s.ASPath = path
	case AttrNextHop:
		if len(value) != 4 {
			return newDecodeErr(ErrAttrLength, NotifUpdate, SubAttrLengthError, []byte{byte(typ)})
		}
		s.NextHop = netip.AddrFrom4([4]byte(value))
	case AttrMultiExitDisc:
		if len(value) != 4 {
			return newDecodeErr(ErrAttrLength, NotifUpdate, SubAttrLengthError, []byte{byte(typ)})
		}
		v := binary.BigEndian.Uint32(value)
		s.MED = &v
	case AttrLocalPref:
		if len(value) != 4 {
			return newDecodeErr(ErrAttrLength, NotifUpdate, SubAttrLengthError, []byte{byte(typ)})
		}
		v := binary.BigEndian.Uint32(value)
		s.LocalPref = &v
	case AttrAtomicAggregate:
		s.AtomicAggregate = true
	case AttrAggregator:
		size := asnSize(fourOctetAS)
		if len(value) != size+4 {
			return newDecodeErr(ErrAttrLength, NotifUpdate, SubAttrLengthError, []byte{byte(typ)})
		}
		s.Aggregator = &Aggregator{
			ASN:        getASN(value[:size], fourOctetAS),
			Identifier: Identifier(binary.BigEndian.Uint32(value[size:])),
		}
	case AttrCommunities:
		if len(value)%4 != 0 {
			return newDecodeErr(ErrAttrLength, NotifUpdate, SubAttrLengthError, []byte{byte(typ)})
		}
		for i := 0; i < len(value); i += 4 {
			s.Communities = append(s.Communities, binary.BigEndian.Uint32(value[i:i+4]))
		}
	case AttrOriginatorID:
		if len(value) != 4 {
			return newDecodeErr(ErrAttrLength, NotifUpdate, SubAttrLengthError, []byte{byte(typ)})
		}
		id := Identifier(binary.BigEndian.Uint32(value))
		s.OriginatorID = &id
	case AttrClusterList:
		if len(value)%4 != 0 {
			return newDecodeErr(ErrAttrLength, NotifUpdate, SubAttrLengthError, []byte{byte(typ)})
		}
		for i := 0; i < len(value); i += 4 {
			s.ClusterList = append(s.ClusterList, binary.BigEndian.Uint32(value[i:i+4]))
		}
	case AttrMPReachNLRI:
		m, err := decodeMPReach(value)
		if err != nil {
			return err
		}
		s.MPReach = &m
	case AttrMPUnreachNLRI:
		m, err := decodeMPUnreach(value)
		if err != nil {
			return err
		}
		s.MPUnreach = &m
	default:
		// Unrecognized: retain transitive ones with PARTIAL set for
		// propagation (RFC 4271 §5), quietly drop non-transitive ones.
		if flags&FlagTransitive != 0 {
			if s.Partial == nil {
				s.Partial = map[AttrType][]byte{}
			}
			s.Partial[typ] = append([]byte(nil), value...)
		}
	}
	return nil
}

func decodeASPath(value []byte, fourOctetAS bool) (ASPath, error) {
	var path ASPath
	size := asnSize(fourOctetAS)
	for len(value) > 0 {
		if len(value) < 2 {
			return nil, newWithdrawErr(ErrMalformedASPath, NotifUpdate, SubMalformedASPath, nil)
		}
		segType := ASPathSegmentType(value[0])
		count := int(value[1])
		if count == 0 {
			return nil, newWithdrawErr(ErrMalformedASPath, NotifUpdate, SubMalformedASPath, nil)
		}
		need := 2 + count*size
		if len(value) < need {
			return nil, newWithdrawErr(ErrMalformedASPath, NotifUpdate, SubMalformedASPath, nil)
		}
		seg := ASPathSegment{Type: segType, ASNs: make([]ASN, count)}
		cur := value[2:need]
		for i := 0; i < count; i++ {
			seg.ASNs[i] = getASN(cur[i*size:(i+1)*size], fourOctetAS)
		}
		path = append(path, seg)
		value = value[need:]
	}
	return path, nil
}

func decodeMPReach(b []byte) (MPReachNLRI, error) {
	if len(b) < 4 {
		return MPReachNLRI{}, newWithdrawErr(ErrTruncated, NotifUpdate, SubAttrLengthError, nil)
	}
	m := MPReachNLRI{
		AFI:  AFI(binary.BigEndian.Uint16(b[0:2])),
		SAFI: SAFI(b[2]),
	}
	nhLen := int(b[3])
	b = b[4:]
	if len(b) < nhLen {
		return m, newWithdrawErr(ErrTruncated, NotifUpdate, SubAttrLengthError, nil)
	}
	nh := b[:nhLen]
	v6 := m.AFI == AFIIPv6
	step := 4
	if v6 {
		step = 16
	}
	for len(nh) >= step {
		if v6 {
			m.NextHop = append(m.NextHop, netip.AddrFrom16([16]byte(nh[:16])))
		} else {
			m.NextHop = append(m.NextHop, netip.AddrFrom4([4]byte(nh[:4])))
		}
		nh = nh[step:]
	}
	b = b[nhLen:]
	if len(b) < 1 {
		return m, newWithdrawErr(ErrTruncated, NotifUpdate, SubAttrLengthError, nil)
	}
	snpaCount := int(b[0])
	b = b[1:]
	for i := 0; i < snpaCount && len(b) > 0; i++ {
		l := int(b[0])
		if len(b) < 1+l {
			return m, newWithdrawErr(ErrTruncated, NotifUpdate, SubAttrLengthError, nil)
		}
		b = b[1+l:]
	}
	for len(b) > 0 {
		p, n, err := readWirePrefix(b, v6)
		if err != nil {
			return m, newWithdrawErr(err, NotifUpdate, SubInvalidNetworkField, nil)
		}
		m.NLRI = append(m.NLRI, p)
		b = b[n:]
	}
	return m, nil
}

func decodeMPUnreach(b []byte) (MPUnreachNLRI, error) {
	if len(b) < 3 {
		return MPUnreachNLRI{}, newWithdrawErr(ErrTruncated, NotifUpdate, SubAttrLengthError, nil)
	}
	m := MPUnreachNLRI{
		AFI:  AFI(binary.BigEndian.Uint16(b[0:2])),
		SAFI: SAFI(b[2]),
	}
	v6 := m.AFI == AFIIPv6
	b = b[3:]
	for len(b) > 0 {
		p, n, err := readWirePrefix(b, v6)
		if err != nil {
			return m, newWithdrawErr(err, NotifUpdate, SubInvalidNetworkField, nil)
		}
		m.Withdrawn = append(m.Withdrawn, p)
		b = b[n:]
	}
	return m, nil
}
