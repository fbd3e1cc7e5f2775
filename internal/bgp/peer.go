package bgp

import (
	"net"
	"net/netip"
	"time"

	"github.com/nextpath/routed/internal/bgpwire"
	"github.com/nextpath/routed/internal/sched"
	"go.uber.org/zap"

	"github.com/nextpath/routed/internal/rlog"
)

// Role records whether a peer is eBGP, an iBGP route-reflector client,
// or a plain iBGP non-client, per spec §3/§4.7.
type Role uint8

const (
	RoleEBGP Role = iota
	RoleIBGPNonClient
	RoleIBGPClient
)

// Stats are the per-peer message counters spec §6's observable-state
// interface exposes, and internal/obs mirrors onto Prometheus.
type Stats struct {
	OpenSent, OpenRecv             uint64
	UpdateSent, UpdateRecv         uint64
	KeepaliveSent, KeepaliveRecv   uint64
	NotificationSent, NotifRecv    uint64
	ConnectRetries                 uint64
}

// Config is the per-peer configuration a PeerSession is constructed
// from, matching spec §6's "per-peer BGP entries" record.
type Config struct {
	PeerIP        netip.Addr
	PeerASN       bgpwire.ASN
	LocalASN      bgpwire.ASN
	LocalID       bgpwire.Identifier
	LocalAddr     netip.Addr
	HoldTime      time.Duration
	ConnectRetry  time.Duration
	Passive       bool
	Role          Role
	Import        *Policy
	Export        *Policy
	FourOctetAS   bool
	EnableIPv6    bool
	GracefulRestart bool
}

// PeerSession is spec §3's PeerSession entity: one BGP neighbor, its
// FSM, its exclusively-owned Adj-RIB-In/Adj-RIB-Out, and the
// negotiated session parameters. It is constructed at configuration
// time and destroyed at process shutdown; the FSM walks its states in
// between.
type PeerSession struct {
	cfg Config

	state State

	negotiatedHold time.Duration
	keepaliveTime  time.Duration
	learnedID      bgpwire.Identifier
	fourOctetAS    bool // true only once both sides advertised the capability
	ipv6Negotiated bool
	peerRestartTime time.Duration // from the peer's Graceful-Restart capability, if any

	AdjIn  *AdjRIBIn
	AdjOut *AdjRIBOut

	conn net.Conn

	events chan sched.Event
	hold   *sched.Deadline
	keep   *sched.Deadline
	connRT *sched.Deadline

	stats Stats

	speaker *Speaker
	log     *zap.SugaredLogger

	stopped bool
}

// NewPeerSession constructs a peer in state Idle with empty RIBs, per
// spec §3's PeerSession lifecycle.
func NewPeerSession(s *Speaker, cfg Config) *PeerSession {
	p := &PeerSession{
		cfg:     cfg,
		state:   StateIdle,
		AdjIn:   NewAdjRIBIn(),
		AdjOut:  NewAdjRIBOut(),
		events:  make(chan sched.Event, 64),
		speaker: s,
		log:     rlog.Named("bgp.peer").With("peer", cfg.PeerIP.String()),
	}
	p.hold = sched.NewDeadline("hold", cfg.HoldTime, p.events)
	p.keep = sched.NewDeadline("keepalive", cfg.HoldTime/3, p.events)
	p.connRT = sched.NewDeadline("connect-retry", cfg.ConnectRetry, p.events)
	return p
}

func (p *PeerSession) State() State { return p.state }

// postEvent enqueues an FSM event from any goroutine (the I/O reader,
// a timer firing, collision detection). The event loop in Run is the
// sole consumer, so FSM state itself never needs a lock.
func (p *PeerSession) postEvent(ev sched.Event) {
	if p.stopped {
		return
	}
	p.events <- ev
}
