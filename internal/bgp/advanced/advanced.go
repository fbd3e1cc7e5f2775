// Package advanced implements the three optional BGP features spec §9
// scopes as narrow manager interfaces rather than full protocol
// support: flap damping, RPKI origin validation, and graceful-restart
// stale-route bookkeeping. internal/bgp calls into whichever manager is
// configured at exactly two points — route received, and session state
// change — and never needs to know whether the feature is compiled in
// or a no-op.
package advanced

import (
	"net/netip"
	"sync"
	"time"
)

// RouteVerdict is a manager's opinion on whether a freshly-received
// route should continue toward Adj-RIB-In, be suppressed, or be kept
// but marked stale (used during graceful-restart helper mode).
type RouteVerdict uint8

const (
	VerdictAccept RouteVerdict = iota
	VerdictSuppress
	VerdictMarkStale
)

// FlapDamper decides whether a prefix whose announcements are
// oscillating should be temporarily suppressed, per RFC 2439's
// figure-of-merit algorithm.
type FlapDamper interface {
	OnUpdate(prefix netip.Prefix, withdrawn bool) RouteVerdict
}

type noopFlapDamper struct{}

func (noopFlapDamper) OnUpdate(netip.Prefix, bool) RouteVerdict { return VerdictAccept }

// NoFlapDamping is the always-present no-op, used when flap damping is
// disabled in configuration.
func NoFlapDamping() FlapDamper { return noopFlapDamper{} }

// FlapDampingConfig mirrors spec §6's
// {suppress-threshold, reuse-threshold, half-life} record.
type FlapDampingConfig struct {
	SuppressThreshold float64
	ReuseThreshold    float64
	HalfLife          time.Duration
}

type flapState struct {
	merit    float64
	lastSeen time.Time
}

type damper struct {
	mu    sync.Mutex
	cfg   FlapDampingConfig
	state map[netip.Prefix]*flapState
}

// NewFlapDamper builds a damper that penalizes a prefix one unit per
// withdrawal and decays the figure-of-merit exponentially with the
// configured half-life. A prefix is suppressed while its merit is at or
// above SuppressThreshold and accepted again as soon as merit decays
// below it; ReuseThreshold only decides when a prefix's damping state is
// dropped, not when suppression ends.
func NewFlapDamper(cfg FlapDampingConfig) FlapDamper {
	return &damper{cfg: cfg, state: map[netip.Prefix]*flapState{}}
}

func (d *damper) OnUpdate(prefix netip.Prefix, withdrawn bool) RouteVerdict {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.state[prefix]
	now := time.Now()
	if !ok {
		st = &flapState{lastSeen: now}
		d.state[prefix] = st
	}

	elapsed := now.Sub(st.lastSeen)
	if d.cfg.HalfLife > 0 && elapsed > 0 {
		decay := halfLifeDecay(elapsed, d.cfg.HalfLife)
		st.merit *= decay
	}
	st.lastSeen = now

	if withdrawn {
		st.merit += 1.0
	}

	if st.merit >= d.cfg.SuppressThreshold {
		return VerdictSuppress
	}
	if st.merit <= d.cfg.ReuseThreshold {
		delete(d.state, prefix)
	}
	return VerdictAccept
}

func halfLifeDecay(elapsed, halfLife time.Duration) float64 {
	// merit(t) = merit(0) * 0.5^(t / halfLife)
	exponent := float64(elapsed) / float64(halfLife)
	result := 1.0
	for exponent > 0 {
		if exponent >= 1 {
			result *= 0.5
			exponent -= 1
		} else {
			// linear approximation for the fractional remainder; exact
			// enough at the granularity damping decisions are made at.
			result *= 1 - 0.5*exponent
			break
		}
	}
	return result
}
