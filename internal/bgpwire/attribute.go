package bgpwire

import (
	"encoding/binary"
	"net/netip"
)

// 5. Path Attributes. Each attribute is a tagged variant identified by
// its type code; decode dispatches on the type code in one place,
// decodeOneAttribute in attrcodec.go, rather than through a type switch
// spread across the codebase.
type AttrType uint8

const (
	AttrOrigin          AttrType = 1
	AttrASPath          AttrType = 2
	AttrNextHop         AttrType = 3
	AttrMultiExitDisc   AttrType = 4
	AttrLocalPref       AttrType = 5
	AttrAtomicAggregate AttrType = 6
	AttrAggregator      AttrType = 7
	AttrCommunities     AttrType = 8  // RFC 1997
	AttrOriginatorID    AttrType = 9  // RFC 4456
	AttrClusterList     AttrType = 10 // RFC 4456
	AttrMPReachNLRI     AttrType = 14 // RFC 4760
	AttrMPUnreachNLRI   AttrType = 15 // RFC 4760
)

// Flag bits of the attribute-flags octet (RFC 4271 §4.3).
const (
	FlagOptional       = 0x80
	FlagTransitive     = 0x40
	FlagPartial        = 0x20
	FlagExtendedLength = 0x10
)

// category records whether a type code is well-known mandatory,
// well-known discretionary, optional transitive, or optional
// non-transitive, and the flag bits that must accompany it on the wire
// (spec §3's PathAttributeSet invariant).
type category struct {
	wellKnown  bool
	mandatory  bool
	transitive bool
}

var categories = map[AttrType]category{
	AttrOrigin:          {wellKnown: true, mandatory: true, transitive: true},
	AttrASPath:          {wellKnown: true, mandatory: true, transitive: true},
	AttrNextHop:         {wellKnown: true, mandatory: true, transitive: true},
	AttrLocalPref:       {wellKnown: true, mandatory: false, transitive: true},
	AttrAtomicAggregate: {wellKnown: true, mandatory: false, transitive: true},
	AttrMultiExitDisc:   {wellKnown: false, mandatory: false, transitive: false},
	AttrAggregator:      {wellKnown: false, mandatory: false, transitive: true},
	AttrCommunities:     {wellKnown: false, mandatory: false, transitive: true},
	AttrOriginatorID:    {wellKnown: false, mandatory: false, transitive: false},
	AttrClusterList:     {wellKnown: false, mandatory: false, transitive: false},
	AttrMPReachNLRI:     {wellKnown: false, mandatory: false, transitive: false},
	AttrMPUnreachNLRI:   {wellKnown: false, mandatory: false, transitive: false},
}

// expectedFlags returns the attribute-flags octet this type must carry
// (sans the extended-length bit, which is a wire-size detail, not a
// category property).
func expectedFlags(t AttrType) (byte, bool) {
	c, ok := categories[t]
	if !ok {
		return 0, false
	}
	var f byte
	if !c.wellKnown {
		f |= FlagOptional
	}
	if c.transitive {
		f |= FlagTransitive
	}
	return f, true
}

// Origin is the well-known mandatory ORIGIN attribute.
type Origin uint8

const (
	OriginIGP        Origin = 0
	OriginEGP        Origin = 1
	OriginIncomplete Origin = 2
)

// ASPathSegmentType distinguishes an ordered sequence from an unordered
// set within AS_PATH (spec §3's PathAttributeSet invariant).
type ASPathSegmentType uint8

const (
	ASSet      ASPathSegmentType = 1
	ASSequence ASPathSegmentType = 2
)

type ASPathSegment struct {
	Type ASPathSegmentType
	ASNs []ASN
}

// ASPath is the ordered list of AS_PATH segments. Length() implements
// the best-path tie-break rule from spec §4.5 step (b): a set counts as
// 1 regardless of its member count, a sequence counts as its element
// count.
type ASPath []ASPathSegment

func (p ASPath) Length() int {
	n := 0
	for _, seg := range p {
		if seg.Type == ASSet {
			n++
		} else {
			n += len(seg.ASNs)
		}
	}
	return n
}

// Aggregator is the optional transitive AGGREGATOR attribute.
type Aggregator struct {
	ASN        ASN
	Identifier Identifier
}

// MPReachNLRI carries the RFC 4760 reachable-NLRI set for an AFI/SAFI
// other than the classic IPv4-unicast path, most importantly IPv6
// unicast, which spec.md's Open Question requires be fully functional
// against the same Adj-RIB-In structure as IPv4.
type MPReachNLRI struct {
	AFI     AFI
	SAFI    SAFI
	NextHop []netip.Addr
	NLRI    []netip.Prefix
}

type MPUnreachNLRI struct {
	AFI       AFI
	SAFI      SAFI
	Withdrawn []netip.Prefix
}

// PathAttributeSet is a mapping from attribute type code to its typed
// value, per spec §3. Values are stored pre-decoded; Communities and
// ClusterList keep their natural slice representation.
type PathAttributeSet struct {
	Origin          Origin
	ASPath          ASPath
	NextHop         netip.Addr
	MED             *uint32
	LocalPref       *uint32
	AtomicAggregate bool
	Aggregator      *Aggregator
	Communities     []uint32
	OriginatorID    *Identifier
	ClusterList     []uint32
	MPReach         *MPReachNLRI
	MPUnreach       *MPUnreachNLRI
	// Partial carries type codes of optional transitive attributes this
	// speaker didn't recognize but must retain with PARTIAL set for
	// propagation (RFC 4271 §5, spec §4.5's UPDATE dispatch paragraph).
	Partial map[AttrType][]byte
}

// HasWellKnownMandatory reports whether AS_PATH and NEXT_HOP are both
// present, two of the three attributes spec §8 requires of every
// Loc-RIB entry. ORIGIN is not checked here: an absent ORIGIN decodes to
// the same zero value as ORIGIN=IGP, so its presence is checked only on
// the wire, by DecodeUpdate.
func (s PathAttributeSet) HasWellKnownMandatory() bool {
	return len(s.ASPath) > 0 && s.NextHop.IsValid()
}

// fourOctetCodec bundles the encode/decode parameters that depend on
// whether the peer negotiated the 4-octet-AS capability (RFC 6793):
// AS_PATH and AGGREGATOR both carry either 2-octet or 4-octet ASNs.
type fourOctetCodec struct {
	FourOctetAS bool
}

func asnSize(fourOctet bool) int {
	if fourOctet {
		return 4
	}
	return 2
}

func putASN(b []byte, a ASN, fourOctet bool) []byte {
	if fourOctet {
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(a))
		return append(b, buf...)
	}
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(a))
	return append(b, buf...)
}

func getASN(b []byte, fourOctet bool) ASN {
	if fourOctet {
		return ASN(binary.BigEndian.Uint32(b))
	}
	return ASN(binary.BigEndian.Uint16(b))
}
