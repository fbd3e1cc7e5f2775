package bgp

import "github.com/nextpath/routed/internal/sched"

// State is one of the six FSM states spec §4.3 scopes this speaker to
// (the full RFC 4271 machine additionally has Idle-only damping
// sub-states this spec doesn't require).
type State uint8

const (
	StateIdle State = iota
	StateConnect
	StateActive
	StateOpenSent
	StateOpenConfirm
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnect:
		return "Connect"
	case StateActive:
		return "Active"
	case StateOpenSent:
		return "OpenSent"
	case StateOpenConfirm:
		return "OpenConfirm"
	case StateEstablished:
		return "Established"
	default:
		return "Unknown"
	}
}

// Event is the reduced event set from spec §4.3.
const (
	EvManualStart              = "ManualStart"
	EvManualStop               = "ManualStop"
	EvTCPConnectionConfirmed   = "TcpConnectionConfirmed"
	EvTCPConnectionFails       = "TcpConnectionFails"
	EvBGPOpen                  = "BGPOpen"
	EvBGPOpenMsgErr            = "BGPOpenMsgErr"
	EvBGPHeaderErr             = "BGPHeaderErr"
	EvKeepaliveMsg             = "KeepaliveMsg"
	EvUpdateMsg                = "UpdateMsg"
	EvUpdateMsgErr             = "UpdateMsgErr"
	EvNotifMsg                 = "NotifMsg"
	EvHoldTimerExpires         = "hold"
	EvKeepaliveTimerExpires    = "keepalive"
	EvConnectRetryTimerExpires = "connect-retry"
)

// handleEvent is the FSM's single dispatch point: one switch on
// current state, one inner switch on event, exactly mirroring spec
// §4.3's transition table. Side effects (dial, send OPEN/KEEPALIVE,
// timer resets, RIB purge) are pushed out to small helper methods so
// each case reads as the transition it implements.
func (p *PeerSession) handleEvent(ev sched.Event) {
	switch p.state {
	case StateIdle:
		p.inIdle(ev)
	case StateConnect:
		p.inConnect(ev)
	case StateActive:
		p.inActive(ev)
	case StateOpenSent:
		p.inOpenSent(ev)
	case StateOpenConfirm:
		p.inOpenConfirm(ev)
	case StateEstablished:
		p.inEstablished(ev)
	}
}

func (p *PeerSession) inIdle(ev sched.Event) {
	if ev.Kind != EvManualStart {
		return
	}
	p.connRT.ResetTo(p.cfg.ConnectRetry)
	if p.cfg.Passive {
		p.transition(StateActive)
		return
	}
	go p.dial()
	p.transition(StateConnect)
}

func (p *PeerSession) inConnect(ev sched.Event) {
	switch ev.Kind {
	case EvTCPConnectionConfirmed:
		p.connRT.Stop()
		p.sendOpen()
		// Spec §4.3: start Hold at a large default until negotiated.
		p.hold.ResetTo(defaultLargeHoldTime)
		p.transition(StateOpenSent)
	case EvConnectRetryTimerExpires:
		p.stats.ConnectRetries++
		go p.dial()
		p.connRT.Reset()
	case EvTCPConnectionFails:
		p.connRT.Reset()
		p.transition(StateActive)
	case EvManualStop:
		p.toIdle()
	}
}

func (p *PeerSession) inActive(ev sched.Event) {
	switch ev.Kind {
	case EvConnectRetryTimerExpires:
		go p.dial()
		p.connRT.Reset()
		p.transition(StateConnect)
	case EvTCPConnectionConfirmed:
		p.connRT.Stop()
		p.sendOpen()
		p.hold.ResetTo(defaultLargeHoldTime)
		p.transition(StateOpenSent)
	case EvTCPConnectionFails:
		p.connRT.Reset()
	case EvManualStop:
		p.toIdle()
	}
}

func (p *PeerSession) inOpenSent(ev sched.Event) {
	switch ev.Kind {
	case EvBGPOpen:
		// Critical detail (spec §4.3): the Hold timer is *restarted*, not
		// stopped, on this transition.
		p.hold.ResetTo(p.negotiatedHold)
		p.sendKeepalive()
		p.keep.ResetTo(p.keepaliveTime)
		p.transition(StateOpenConfirm)
	case EvBGPOpenMsgErr, EvBGPHeaderErr:
		p.toIdle()
	case EvHoldTimerExpires:
		p.sendHoldExpiredAndClose()
		p.toIdle()
	case EvTCPConnectionFails:
		p.connRT.Reset()
		p.transition(StateActive)
	case EvManualStop:
		p.toIdle()
	case EvNotifMsg:
		p.toIdle()
	}
}

func (p *PeerSession) inOpenConfirm(ev sched.Event) {
	switch ev.Kind {
	case EvKeepaliveMsg:
		p.hold.ResetTo(p.negotiatedHold)
		p.transition(StateEstablished)
		p.onEstablished()
	case EvHoldTimerExpires:
		p.sendHoldExpiredAndClose()
		p.toIdle()
	case EvKeepaliveTimerExpires:
		p.sendKeepalive()
		p.keep.ResetTo(p.keepaliveTime)
	case EvNotifMsg, EvBGPOpenMsgErr, EvBGPHeaderErr, EvTCPConnectionFails:
		p.toIdle()
	case EvManualStop:
		p.toIdle()
	}
}

func (p *PeerSession) inEstablished(ev sched.Event) {
	switch ev.Kind {
	case EvKeepaliveMsg, EvUpdateMsg:
		p.hold.ResetTo(p.negotiatedHold)
	case EvKeepaliveTimerExpires:
		// Exactly one KEEPALIVE per expiry; duplicate emission on the
		// OpenConfirm->Established transition is the bug spec §4.3 warns
		// against, so that transition never also fires this event.
		p.sendKeepalive()
		p.keep.ResetTo(p.keepaliveTime)
	case EvHoldTimerExpires:
		p.sendHoldExpiredAndClose()
		p.toIdle()
	case EvUpdateMsgErr, EvNotifMsg, EvTCPConnectionFails:
		p.toIdle()
	case EvManualStop:
		p.toIdle()
	}
}

// transition moves to state s, logging the edge for observability.
func (p *PeerSession) transition(s State) {
	from := p.state
	p.state = s
	p.log.Infow("fsm transition", "from", from.String(), "to", s.String())
	if p.speaker != nil {
		p.speaker.obs.OnFSMTransition(p.cfg.PeerIP, from, s)
	}
}

// toIdle implements the "any non-Idle + HoldTimer_Expires/NotifMsg ->
// Idle" edges shared across OpenSent/OpenConfirm/Established: close
// the connection and purge Adj-RIB-In, then trigger decision
// re-evaluation for every prefix that peer contributed (spec §4.5).
func (p *PeerSession) toIdle() {
	p.hold.Stop()
	p.keep.Stop()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	if p.cfg.GracefulRestart && p.speaker != nil {
		p.speaker.gr.OnSessionDown(uint32(p.learnedID), p.peerRestartTime)
	}
	affected := p.AdjIn.PurgeAll()
	p.transition(StateIdle)
	if p.speaker != nil && len(affected) > 0 {
		p.speaker.notifyDecision(affected)
	}
}

func (p *PeerSession) onEstablished() {
	p.log.Infow("session established", "peer_asn", p.cfg.PeerASN)
	if p.speaker != nil {
		p.speaker.gr.OnSessionUp(uint32(p.learnedID))
		p.speaker.onPeerEstablished(p)
	}
}
