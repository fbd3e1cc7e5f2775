package advanced

import "net/netip"

// RPKIState is the RFC 6811 origin-validation outcome.
type RPKIState uint8

const (
	RPKIUnverified RPKIState = iota
	RPKIValid
	RPKIInvalid
	RPKINotFound
)

// ROA is one Route Origin Authorization record: a prefix, its maximum
// announced length, and the AS permitted to originate it.
type ROA struct {
	Prefix    netip.Prefix
	MaxLength int
	OriginAS  uint32
}

// RPKIValidator checks an announced (prefix, origin-AS) pair against a
// loaded ROA set.
type RPKIValidator interface {
	Validate(prefix netip.Prefix, originAS uint32) RPKIState
	// OnUpdate returns VerdictSuppress when RejectInvalid is configured
	// and the route's origin fails validation.
	OnUpdate(prefix netip.Prefix, originAS uint32) RouteVerdict
}

type noopRPKI struct{}

func (noopRPKI) Validate(netip.Prefix, uint32) RPKIState { return RPKIUnverified }
func (noopRPKI) OnUpdate(netip.Prefix, uint32) RouteVerdict { return VerdictAccept }

// NoRPKIValidation is the always-present no-op, used when RPKI is
// disabled in configuration.
func NoRPKIValidation() RPKIValidator { return noopRPKI{} }

type roaValidator struct {
	roas          []ROA
	rejectInvalid bool
}

// NewROAValidator builds a validator over an in-memory ROA table; the
// ROA source (a file, an RTR-protocol session) is an external
// collaborator's concern, not this package's.
func NewROAValidator(roas []ROA, rejectInvalid bool) RPKIValidator {
	return &roaValidator{roas: roas, rejectInvalid: rejectInvalid}
}

func (v *roaValidator) Validate(prefix netip.Prefix, originAS uint32) RPKIState {
	found := false
	for _, roa := range v.roas {
		if !roa.Prefix.Overlaps(prefix) || !roa.Prefix.Contains(prefix.Addr()) {
			continue
		}
		if prefix.Bits() > roa.MaxLength {
			continue
		}
		found = true
		if roa.OriginAS == originAS {
			return RPKIValid
		}
	}
	if found {
		return RPKIInvalid
	}
	return RPKINotFound
}

func (v *roaValidator) OnUpdate(prefix netip.Prefix, originAS uint32) RouteVerdict {
	if v.rejectInvalid && v.Validate(prefix, originAS) == RPKIInvalid {
		return VerdictSuppress
	}
	return VerdictAccept
}
