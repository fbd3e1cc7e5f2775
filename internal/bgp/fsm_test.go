package bgp

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/nextpath/routed/internal/sched"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// discardConn satisfies net.Conn for FSM tests that exercise
// sendOpen/sendKeepalive/sendHoldExpiredAndClose without a real socket.
type discardConn struct{}

func (discardConn) Read([]byte) (int, error)         { return 0, net.ErrClosed }
func (discardConn) Write(b []byte) (int, error)      { return len(b), nil }
func (discardConn) Close() error                     { return nil }
func (discardConn) LocalAddr() net.Addr               { return nil }
func (discardConn) RemoteAddr() net.Addr              { return nil }
func (discardConn) SetDeadline(time.Time) error      { return nil }
func (discardConn) SetReadDeadline(time.Time) error  { return nil }
func (discardConn) SetWriteDeadline(time.Time) error { return nil }

func newTestPeer(t *testing.T) *PeerSession {
	t.Helper()
	p := NewPeerSession(nil, Config{
		PeerIP:       netip.MustParseAddr("192.0.2.1"),
		PeerASN:      65002,
		LocalASN:     65001,
		HoldTime:     90 * time.Second,
		ConnectRetry: 30 * time.Second,
		Passive:      true,
	})
	t.Cleanup(func() {
		p.hold.Stop()
		p.keep.Stop()
		p.connRT.Stop()
	})
	return p
}

func TestFSMIdleToActiveWhenPassive(t *testing.T) {
	p := newTestPeer(t)
	require.Equal(t, StateIdle, p.State())
	p.handleEvent(sched.Event{Kind: EvManualStart})
	assert.Equal(t, StateActive, p.State())
}

func TestFSMActiveToOpenSentOnTCPConfirmed(t *testing.T) {
	p := newTestPeer(t)
	p.state = StateActive
	p.conn = discardConn{}
	p.handleEvent(sched.Event{Kind: EvTCPConnectionConfirmed})
	assert.Equal(t, StateOpenSent, p.State())
}

func TestFSMOpenSentToOpenConfirmOnBGPOpen(t *testing.T) {
	p := newTestPeer(t)
	p.state = StateOpenSent
	p.conn = discardConn{}
	p.negotiatedHold = 90 * time.Second
	p.keepaliveTime = 30 * time.Second
	p.handleEvent(sched.Event{Kind: EvBGPOpen})
	assert.Equal(t, StateOpenConfirm, p.State())
}

func TestFSMOpenConfirmToEstablishedOnKeepalive(t *testing.T) {
	p := newTestPeer(t)
	p.state = StateOpenConfirm
	p.negotiatedHold = 90 * time.Second
	p.handleEvent(sched.Event{Kind: EvKeepaliveMsg})
	assert.Equal(t, StateEstablished, p.State())
}

func TestFSMEstablishedToIdleOnNotification(t *testing.T) {
	p := newTestPeer(t)
	p.state = StateEstablished
	p.handleEvent(sched.Event{Kind: EvNotifMsg})
	assert.Equal(t, StateIdle, p.State())
}

func TestFSMHoldTimerExpiryFromAnyNonIdleStateGoesIdle(t *testing.T) {
	for _, s := range []State{StateOpenSent, StateOpenConfirm, StateEstablished} {
		p := newTestPeer(t)
		p.state = s
		p.conn = discardConn{}
		p.handleEvent(sched.Event{Kind: EvHoldTimerExpires})
		assert.Equal(t, StateIdle, p.State(), "state %s should go Idle on hold expiry", s)
	}
}

func TestFSMManualStopAlwaysGoesIdle(t *testing.T) {
	for _, s := range []State{StateConnect, StateActive, StateOpenSent, StateOpenConfirm, StateEstablished} {
		p := newTestPeer(t)
		p.state = s
		p.conn = discardConn{}
		p.handleEvent(sched.Event{Kind: EvManualStop})
		assert.Equal(t, StateIdle, p.State())
	}
}
