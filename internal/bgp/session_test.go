package bgp

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/nextpath/routed/internal/bgpwire"
	"github.com/nextpath/routed/internal/sched"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingConn captures every Write so a test can decode what
// dispatchMessage wrote back onto the wire (a NOTIFICATION, or
// nothing).
type recordingConn struct {
	discardConn
	written [][]byte
}

func (c *recordingConn) Write(b []byte) (int, error) {
	cp := append([]byte(nil), b...)
	c.written = append(c.written, cp)
	return len(b), nil
}

func newDispatchTestPeer(t *testing.T, s *Speaker) (*PeerSession, *recordingConn) {
	t.Helper()
	p := NewPeerSession(s, Config{
		PeerIP:       netip.MustParseAddr("192.0.2.1"),
		PeerASN:      65002,
		LocalASN:     65001,
		HoldTime:     90 * time.Second,
		ConnectRetry: 30 * time.Second,
		Passive:      true,
	})
	conn := &recordingConn{}
	p.conn = conn
	t.Cleanup(func() {
		p.hold.Stop()
		p.keep.Stop()
		p.connRT.Stop()
	})
	return p, conn
}

func (p *PeerSession) drainEvent(t *testing.T) sched.Event {
	t.Helper()
	select {
	case ev := <-p.events:
		return ev
	default:
		t.Fatal("expected an event to have been posted")
		return sched.Event{}
	}
}

func TestDispatchBadOpenSendsNotificationAndTearsDown(t *testing.T) {
	p, conn := newDispatchTestPeer(t, nil)

	open := bgpwire.OpenMessage{Version: bgpwire.Version, HoldTime: 1}
	p.dispatchMessage(bgpwire.MsgOpen, bgpwire.EncodeOpen(open))

	require.Len(t, conn.written, 1, "a bad OPEN must produce exactly one NOTIFICATION")
	hdr, err := bgpwire.DecodeHeader(conn.written[0][:bgpwire.HeaderLength])
	require.NoError(t, err)
	assert.Equal(t, bgpwire.MsgNotification, hdr.Type)
	n, err := bgpwire.DecodeNotification(conn.written[0][bgpwire.HeaderLength:])
	require.NoError(t, err)
	assert.Equal(t, bgpwire.NotifOpen, n.Code)
	assert.Equal(t, bgpwire.SubUnacceptableHoldTime, n.Subcode)

	ev := p.drainEvent(t)
	assert.Equal(t, EvBGPOpenMsgErr, ev.Kind)
}

func TestDispatchUpdateMissingOriginSendsNotificationAndTearsDown(t *testing.T) {
	p, conn := newDispatchTestPeer(t, nil)

	u := bgpwire.UpdateMessage{
		NLRI: []netip.Prefix{netip.MustParsePrefix("203.0.113.0/24")},
		Attributes: bgpwire.PathAttributeSet{
			ASPath:  bgpwire.ASPath{{Type: bgpwire.ASSequence, ASNs: []bgpwire.ASN{65002}}},
			NextHop: netip.MustParseAddr("192.0.2.2"),
		},
	}
	raw := bgpwire.EncodeUpdate(u, false)
	// EncodeUpdate always emits ORIGIN first; strip it to simulate a peer
	// that omitted the well-known mandatory attribute.
	wrLen := int(raw[0])<<8 | int(raw[1])
	attrLenOff := 2 + wrLen
	attrLen := int(raw[attrLenOff])<<8 | int(raw[attrLenOff+1])
	originTLVLen := 3 + 1
	body := append([]byte(nil), raw[:attrLenOff]...)
	newAttrLen := attrLen - originTLVLen
	body = append(body, byte(newAttrLen>>8), byte(newAttrLen))
	body = append(body, raw[attrLenOff+2+originTLVLen:]...)

	p.dispatchMessage(bgpwire.MsgUpdate, body)

	require.Len(t, conn.written, 1, "missing well-known mandatory attribute must tear the session down with a NOTIFICATION")
	n, err := bgpwire.DecodeNotification(conn.written[0][bgpwire.HeaderLength:])
	require.NoError(t, err)
	assert.Equal(t, bgpwire.NotifUpdate, n.Code)
	assert.Equal(t, bgpwire.SubMissingWellKnown, n.Subcode)

	ev := p.drainEvent(t)
	assert.Equal(t, EvUpdateMsgErr, ev.Kind)
}

func TestDispatchUpdateMalformedASPathTreatedAsWithdraw(t *testing.T) {
	s := newTestSpeaker(t)
	p, conn := newDispatchTestPeer(t, s)

	prefix := netip.MustParsePrefix("198.51.100.0/24")
	p.AdjIn.Add(prefix, &Route{Prefix: prefix, PeerIP: p.cfg.PeerIP})

	var attrs []byte
	attrs = append(attrs, bgpwire.FlagTransitive, byte(bgpwire.AttrOrigin), 1, byte(bgpwire.OriginIGP))
	attrs = append(attrs, bgpwire.FlagTransitive, byte(bgpwire.AttrASPath), 2, byte(bgpwire.ASSequence), 0)
	nh := netip.MustParseAddr("192.0.2.2").As4()
	attrs = append(attrs, bgpwire.FlagTransitive, byte(bgpwire.AttrNextHop), 4)
	attrs = append(attrs, nh[:]...)

	body := []byte{0, 0, byte(len(attrs) >> 8), byte(len(attrs))}
	body = append(body, attrs...)
	body = append(body, 24, 198, 51, 100) // NLRI 198.51.100.0/24

	p.dispatchMessage(bgpwire.MsgUpdate, body)

	assert.Empty(t, conn.written, "a treat-as-withdraw error must not produce a NOTIFICATION")
	_, ok := p.AdjIn.Get(prefix)
	assert.False(t, ok, "the NLRI tied to the malformed attribute set is withdrawn")

	ev := p.drainEvent(t)
	assert.Equal(t, EvUpdateMsg, ev.Kind, "the session stays up")
}

var _ net.Conn = (*recordingConn)(nil)
