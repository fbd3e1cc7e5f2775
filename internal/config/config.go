// Package config defines the structured configuration record spec §6
// describes and a small in-process builder that turns it into the
// internal/bgp and internal/ospf types a Speaker is constructed from.
// Loading this struct from a file or flags beyond cmd/routed's minimal
// demo wiring is explicitly out of scope (spec §6).
package config

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/nextpath/routed/internal/bgp"
	"github.com/nextpath/routed/internal/bgp/advanced"
	"github.com/nextpath/routed/internal/bgpwire"
	"github.com/nextpath/routed/internal/ospf"
)

// FlapDampingToggle mirrors spec §6's {suppress-threshold,
// reuse-threshold, half-life} feature-toggle record.
type FlapDampingToggle struct {
	Enabled           bool
	SuppressThreshold float64
	ReuseThreshold    float64
	HalfLife          time.Duration
}

// RPKIToggle mirrors spec §6's {roa-source, reject-invalid-bool} record.
// Loading roa-source's content (a file, an RTR session) is out of
// scope; ROAs are supplied in-process via the ROAs field.
type RPKIToggle struct {
	Enabled       bool
	ROAs          []advanced.ROA
	RejectInvalid bool
}

// GracefulRestartToggle mirrors spec §6's {restart-time-seconds} record.
type GracefulRestartToggle struct {
	Enabled           bool
	RestartTimeSeconds int
}

// PeerConfig is one of spec §6's "per-peer BGP entries": peer-ip,
// peer-asn, active/passive, hold-time, client/non-client, and
// import/export policy references (names resolved against Policies).
type PeerConfig struct {
	PeerIP        netip.Addr
	PeerASN       uint32
	Passive       bool
	HoldTime      time.Duration
	ClusterClient bool // true selects RoleIBGPClient when PeerASN == ASN
	ImportPolicy  string
	ExportPolicy  string
	EnableIPv6    bool
	FourOctetAS   bool
}

// OSPFInterfaceConfig is spec §6's "OSPF area-id and interface name
// with hello/dead intervals and priority" record.
type OSPFInterfaceConfig struct {
	Name          string
	LocalIP       netip.Addr
	AreaID        netip.Addr
	HelloInterval time.Duration
	DeadInterval  time.Duration
	Priority      uint8
	NetworkType   ospf.NetworkType
	Metric        uint16
}

// Config is the full structured record spec §6 enumerates.
type Config struct {
	RouterID netip.Addr
	ASN      uint32

	OSPFInterfaces []OSPFInterfaceConfig

	Peers           []PeerConfig
	ReflectorClusterID uint32 // 0 means "not a route reflector"

	// Policies is the name -> *bgp.Policy table PeerConfig's
	// ImportPolicy/ExportPolicy reference.
	Policies map[string]*bgp.Policy

	FlapDamping     FlapDampingToggle
	RPKI            RPKIToggle
	GracefulRestart GracefulRestartToggle
}

// BuildBGPSpeaker constructs and wires a *bgp.Speaker from cfg,
// including the advanced-feature managers (spec §9) and every
// configured peer, but does not start anything OSPF-related — callers
// wire internal/ospf's Speaker.Resolvable/Cost in separately via
// SetNextHopResolver once both speakers exist.
func (cfg Config) BuildBGPSpeaker() (*bgp.Speaker, error) {
	s := bgp.NewSpeaker(bgpwire.ASN(cfg.ASN), identifierFromAddr(cfg.RouterID))

	if cfg.ReflectorClusterID != 0 {
		s.EnableReflection(cfg.ReflectorClusterID)
	}
	if cfg.FlapDamping.Enabled {
		s.SetFlapDamper(advanced.NewFlapDamper(advanced.FlapDampingConfig{
			SuppressThreshold: cfg.FlapDamping.SuppressThreshold,
			ReuseThreshold:    cfg.FlapDamping.ReuseThreshold,
			HalfLife:          cfg.FlapDamping.HalfLife,
		}))
	}
	if cfg.RPKI.Enabled {
		s.SetRPKIValidator(advanced.NewROAValidator(cfg.RPKI.ROAs, cfg.RPKI.RejectInvalid))
	}
	if cfg.GracefulRestart.Enabled {
		s.SetGracefulRestart(advanced.NewGracefulRestartTracker())
	}

	for _, pc := range cfg.Peers {
		peerCfg, err := cfg.buildPeerConfig(pc)
		if err != nil {
			return nil, err
		}
		s.AddPeer(peerCfg)
	}
	return s, nil
}

func (cfg Config) buildPeerConfig(pc PeerConfig) (bgp.Config, error) {
	role := bgp.RoleEBGP
	if bgpwire.ASN(pc.PeerASN) == bgpwire.ASN(cfg.ASN) {
		if pc.ClusterClient {
			role = bgp.RoleIBGPClient
		} else {
			role = bgp.RoleIBGPNonClient
		}
	}

	var imp, exp *bgp.Policy
	if pc.ImportPolicy != "" {
		p, ok := cfg.Policies[pc.ImportPolicy]
		if !ok {
			return bgp.Config{}, fmt.Errorf("config: unknown import policy %q for peer %s", pc.ImportPolicy, pc.PeerIP)
		}
		imp = p
	}
	if pc.ExportPolicy != "" {
		p, ok := cfg.Policies[pc.ExportPolicy]
		if !ok {
			return bgp.Config{}, fmt.Errorf("config: unknown export policy %q for peer %s", pc.ExportPolicy, pc.PeerIP)
		}
		exp = p
	}

	restartEnabled := cfg.GracefulRestart.Enabled
	return bgp.Config{
		PeerIP:          pc.PeerIP,
		PeerASN:         bgpwire.ASN(pc.PeerASN),
		LocalASN:        bgpwire.ASN(cfg.ASN),
		LocalID:         identifierFromAddr(cfg.RouterID),
		HoldTime:        pc.HoldTime,
		ConnectRetry:    30 * time.Second,
		Passive:         pc.Passive,
		Role:            role,
		Import:          imp,
		Export:          exp,
		FourOctetAS:     pc.FourOctetAS,
		EnableIPv6:      pc.EnableIPv6,
		GracefulRestart: restartEnabled,
	}, nil
}

// BuildOSPFSpeaker constructs an *ospf.Speaker with one Interface per
// entry in cfg.OSPFInterfaces. transports supplies the already-opened
// Transport for each interface name (constructing a raw socket
// requires CAP_NET_RAW, so cmd/routed opens it and passes it in rather
// than this package reaching for root privileges itself).
func (cfg Config) BuildOSPFSpeaker(transports map[string]ospf.Transport) (*ospf.Speaker, error) {
	if len(cfg.OSPFInterfaces) == 0 {
		return nil, nil
	}
	areaID := cfg.OSPFInterfaces[0].AreaID
	s := ospf.NewSpeaker(cfg.RouterID, areaID)
	for _, ic := range cfg.OSPFInterfaces {
		t, ok := transports[ic.Name]
		if !ok {
			return nil, fmt.Errorf("config: no transport supplied for OSPF interface %s", ic.Name)
		}
		s.AddInterface(ospf.Config{
			Name:          ic.Name,
			LocalIP:       ic.LocalIP,
			AreaID:        ic.AreaID,
			HelloInterval: ic.HelloInterval,
			DeadInterval:  ic.DeadInterval,
			Priority:      ic.Priority,
			NetworkType:   ic.NetworkType,
			Metric:        ic.Metric,
		}, t)
	}
	return s, nil
}

func identifierFromAddr(a netip.Addr) bgpwire.Identifier {
	b := a.As4()
	return bgpwire.Identifier(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
}
