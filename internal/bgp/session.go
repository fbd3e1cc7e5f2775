package bgp

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/nextpath/routed/internal/bgpwire"
	"github.com/nextpath/routed/internal/sched"
)

const (
	bgpPort             = 179
	defaultLargeHoldTime = 240 * time.Second // RFC 4271 §8.2.2, used before negotiation
	advancedDefaultRestartSeconds = 120
)

// Run is the peer's event loop: it is the only goroutine that ever
// touches FSM state, so no lock is needed there (spec §5). Everything
// that can block — dialing, reading, writing, timers — happens on
// other goroutines that only ever communicate back by posting an
// Event, never by reaching into PeerSession fields directly.
func (p *PeerSession) Run() {
	p.postEvent(sched.Event{Kind: EvManualStart})
	for ev := range p.events {
		p.handleEvent(ev)
	}
}

// Stop posts ManualStop and closes the event channel once the loop has
// drained it, implementing spec §5's "shutdown is initiated by posting
// a terminal event to its FSM" contract.
func (p *PeerSession) Stop() {
	p.postEvent(sched.Event{Kind: EvManualStop})
	p.stopped = true
	close(p.events)
}

func (p *PeerSession) dial() {
	addr := fmt.Sprintf("%s:%d", p.cfg.PeerIP.String(), bgpPort)
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		p.log.Debugw("dial failed", "err", err)
		p.postEvent(sched.Event{Kind: EvTCPConnectionFails})
		return
	}
	p.acceptConnection(conn)
}

// acceptConnection installs conn as the peer's winning connection,
// resolving collisions per spec §4.3 (lower local BGP-Identifier
// closes) when a connection already exists, and starts the per-peer
// reader goroutine.
func (p *PeerSession) acceptConnection(conn net.Conn) {
	if p.conn != nil {
		if p.cfg.LocalID < p.learnedID {
			conn.Close()
			return
		}
		p.conn.Close()
	}
	p.conn = conn
	go p.readLoop(conn)
	p.postEvent(sched.Event{Kind: EvTCPConnectionConfirmed})
}

// readLoop frames BGP messages off conn and turns each into an FSM
// event, in strict arrival order per connection (spec §5). It is the
// only suspension point reading the wire; it never mutates FSM state
// directly.
func (p *PeerSession) readLoop(conn net.Conn) {
	r := bufio.NewReaderSize(conn, 8192)
	for {
		hdrBuf := make([]byte, bgpwire.HeaderLength)
		if _, err := io.ReadFull(r, hdrBuf); err != nil {
			p.postEvent(sched.Event{Kind: EvTCPConnectionFails})
			return
		}
		hdr, err := bgpwire.DecodeHeader(hdrBuf)
		if err != nil {
			if de, ok := err.(*bgpwire.DecodeError); ok {
				p.sendNotification(de.Code, de.Subcode, de.Data)
			}
			p.postEvent(sched.Event{Kind: EvBGPHeaderErr})
			return
		}
		bodyLen := int(hdr.Length) - bgpwire.HeaderLength
		body := make([]byte, bodyLen)
		if bodyLen > 0 {
			if _, err := io.ReadFull(r, body); err != nil {
				p.postEvent(sched.Event{Kind: EvTCPConnectionFails})
				return
			}
		}
		p.dispatchMessage(hdr.Type, body)
	}
}

func (p *PeerSession) dispatchMessage(t bgpwire.MessageType, body []byte) {
	switch t {
	case bgpwire.MsgOpen:
		p.stats.OpenRecv++
		open, err := bgpwire.DecodeOpen(body)
		if err != nil {
			p.log.Warnw("bad OPEN", "err", err)
			if de, ok := err.(*bgpwire.DecodeError); ok {
				p.sendNotification(de.Code, de.Subcode, de.Data)
			}
			p.postEvent(sched.Event{Kind: EvBGPOpenMsgErr})
			return
		}
		p.negotiateCapabilities(open)
		p.negotiatedHold = bgpwire.NegotiatedHoldTime(uint16(p.cfg.HoldTime/time.Second), open.HoldTime)
		p.keepaliveTime = p.negotiatedHold / 3
		p.learnedID = open.Identifier
		p.postEvent(sched.Event{Kind: EvBGPOpen})
	case bgpwire.MsgUpdate:
		p.stats.UpdateRecv++
		u, err := bgpwire.DecodeUpdate(body, p.fourOctetAS)
		if err != nil {
			de, ok := err.(*bgpwire.DecodeError)
			if ok && de.TreatAsWithdraw() {
				p.log.Warnw("update attribute treat-as-withdraw", "err", err)
				p.withdrawUpdateNLRI(u)
				p.postEvent(sched.Event{Kind: EvUpdateMsg})
				return
			}
			p.log.Warnw("bad UPDATE", "err", err)
			if ok {
				p.sendNotification(de.Code, de.Subcode, de.Data)
			}
			p.postEvent(sched.Event{Kind: EvUpdateMsgErr})
			return
		}
		p.handleUpdate(u)
		p.postEvent(sched.Event{Kind: EvUpdateMsg})
	case bgpwire.MsgKeepalive:
		p.stats.KeepaliveRecv++
		p.postEvent(sched.Event{Kind: EvKeepaliveMsg})
	case bgpwire.MsgNotification:
		p.stats.NotifRecv++
		n, _ := bgpwire.DecodeNotification(body)
		p.log.Warnw("received NOTIFICATION", "code", n.Code, "subcode", n.Subcode)
		p.postEvent(sched.Event{Kind: EvNotifMsg})
	case bgpwire.MsgRouteRefresh:
		p.speaker.sendInitialAdvertisement(p)
	}
}

// negotiateCapabilities records which of the capabilities this speaker
// offered were also echoed by the peer; anything the peer didn't echo
// is treated as un-negotiated (spec §4.4).
func (p *PeerSession) negotiateCapabilities(open bgpwire.OpenMessage) {
	for _, c := range open.Capabilities {
		switch c.Code {
		case bgpwire.CapFourOctetASN:
			p.fourOctetAS = p.cfg.FourOctetAS
		case bgpwire.CapMultiprotocol:
			v, err := bgpwire.DecodeMultiprotocol(c.Value)
			if err == nil && v.AFI == bgpwire.AFIIPv6 && p.cfg.EnableIPv6 {
				p.ipv6Negotiated = true
			}
		case bgpwire.CapGracefulRestart:
			// RFC 4724 §3: 2-byte Restart-Flags/Restart-Time field, low 12
			// bits are the restart time in seconds.
			if len(c.Value) >= 2 {
				raw := uint16(c.Value[0])<<8 | uint16(c.Value[1])
				p.peerRestartTime = time.Duration(raw&0x0fff) * time.Second
			}
		}
	}
}

func (p *PeerSession) capabilitySet() []bgpwire.Capability {
	caps := []bgpwire.Capability{
		{Code: bgpwire.CapMultiprotocol, Value: bgpwire.EncodeMultiprotocol(bgpwire.MultiprotocolValue{AFI: bgpwire.AFIIPv4, SAFI: bgpwire.SAFIUnicast})},
		{Code: bgpwire.CapRouteRefresh},
	}
	if p.cfg.EnableIPv6 {
		caps = append(caps, bgpwire.Capability{Code: bgpwire.CapMultiprotocol, Value: bgpwire.EncodeMultiprotocol(bgpwire.MultiprotocolValue{AFI: bgpwire.AFIIPv6, SAFI: bgpwire.SAFIUnicast})})
	}
	if p.cfg.FourOctetAS {
		caps = append(caps, bgpwire.Capability{Code: bgpwire.CapFourOctetASN, Value: []byte{
			byte(p.cfg.LocalASN >> 24), byte(p.cfg.LocalASN >> 16), byte(p.cfg.LocalASN >> 8), byte(p.cfg.LocalASN),
		}})
	}
	if p.cfg.GracefulRestart {
		restart := uint16(advancedDefaultRestartSeconds)
		caps = append(caps, bgpwire.Capability{Code: bgpwire.CapGracefulRestart, Value: []byte{
			byte(restart >> 8), byte(restart),
		}})
	}
	return caps
}

func (p *PeerSession) sendOpen() {
	localAS16 := uint16(p.cfg.LocalASN)
	if p.cfg.LocalASN > 0xffff {
		localAS16 = 23456 // AS_TRANS, RFC 6793
	}
	o := bgpwire.OpenMessage{
		Version:      bgpwire.Version,
		MyAS:         localAS16,
		HoldTime:     uint16(p.cfg.HoldTime / time.Second),
		Identifier:   p.cfg.LocalID,
		Capabilities: p.capabilitySet(),
	}
	p.writeMessage(bgpwire.MsgOpen, bgpwire.EncodeOpen(o))
	p.stats.OpenSent++
}

func (p *PeerSession) sendKeepalive() {
	p.writeMessage(bgpwire.MsgKeepalive, bgpwire.EncodeKeepalive())
	p.stats.KeepaliveSent++
}

func (p *PeerSession) sendHoldExpiredAndClose() {
	n := bgpwire.NotificationMessage{Code: bgpwire.NotifHoldTimerExp}
	p.writeMessage(bgpwire.MsgNotification, bgpwire.EncodeNotification(n))
	p.stats.NotificationSent++
}

func (p *PeerSession) sendNotification(code bgpwire.NotifCode, sub bgpwire.NotifSubcode, data []byte) {
	n := bgpwire.NotificationMessage{Code: code, Subcode: sub, Data: data}
	p.writeMessage(bgpwire.MsgNotification, bgpwire.EncodeNotification(n))
	p.stats.NotificationSent++
}

func (p *PeerSession) sendUpdate(u bgpwire.UpdateMessage) {
	p.writeMessage(bgpwire.MsgUpdate, bgpwire.EncodeUpdate(u, p.fourOctetAS))
	p.stats.UpdateSent++
}

// writeMessage blocks on the peer's own TCP send buffer only; other
// peers are never affected (spec §5 backpressure guarantee), because
// each peer has its own goroutine and its own conn.
func (p *PeerSession) writeMessage(t bgpwire.MessageType, body []byte) {
	if p.conn == nil {
		return
	}
	hdr := bgpwire.EncodeHeader(t, len(body))
	if _, err := p.conn.Write(append(hdr, body...)); err != nil {
		p.postEvent(sched.Event{Kind: EvTCPConnectionFails})
	}
}
