package ospf

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/nextpath/routed/internal/ospfwire"
	"golang.org/x/sys/unix"
)

// Transport is the raw-IP protocol-89 I/O seam (spec §4.1/§6): an
// AF_INET/SOCK_RAW/IPPROTO_OSPFIGP socket joined to 224.0.0.5
// (AllSPFRouters) with TTL=1. A fake in-memory Transport backs unit
// tests without root/CAP_NET_RAW.
type Transport interface {
	Send(packet []byte) error
	Recv() (packet []byte, from netip.Addr, err error)
	Close() error
}

// RawIPTransport is golang.org/x/sys/unix's raw-socket binding to a
// single interface, per spec §6's "AF_INET, SOCK_RAW, IPPROTO_OSPFIGP
// socket, IP_ADD_MEMBERSHIP for 224.0.0.5, TTL=1" requirement.
type RawIPTransport struct {
	fd        int
	localIP   netip.Addr
	ifaceName string
}

// NewRawIPTransport opens the raw socket, joins the AllSPFRouters
// multicast group on iface, and sets the outbound TTL to 1.
func NewRawIPTransport(iface *net.Interface, localIP netip.Addr) (*RawIPTransport, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, ospfwire.IPProtocol)
	if err != nil {
		return nil, fmt.Errorf("ospf: open raw socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TTL, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ospf: set ttl: %w", err)
	}

	mcast := netip.MustParseAddr(ospfwire.AllSPFRouters).As4()
	local := localIP.As4()
	mreq := &unix.IPMreq{Multiaddr: mcast, Interface: local}
	if err := unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ospf: join AllSPFRouters: %w", err)
	}

	if err := unix.BindToDevice(fd, iface.Name); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ospf: bind to device: %w", err)
	}

	return &RawIPTransport{fd: fd, localIP: localIP, ifaceName: iface.Name}, nil
}

func (t *RawIPTransport) Send(packet []byte) error {
	dst := netip.MustParseAddr(ospfwire.AllSPFRouters)
	sa := &unix.SockaddrInet4{Addr: dst.As4()}
	return unix.Sendto(t.fd, packet, 0, sa)
}

func (t *RawIPTransport) Recv() ([]byte, netip.Addr, error) {
	buf := make([]byte, 65536)
	n, from, err := unix.Recvfrom(t.fd, buf, 0)
	if err != nil {
		return nil, netip.Addr{}, err
	}
	sa4, ok := from.(*unix.SockaddrInet4)
	if !ok {
		return nil, netip.Addr{}, fmt.Errorf("ospf: unexpected sockaddr type")
	}
	// The kernel hands SOCK_RAW/IPPROTO readers the IP header too; strip
	// it using its own IHL field before returning the OSPF payload.
	if n < 20 {
		return nil, netip.Addr{}, fmt.Errorf("ospf: short raw read")
	}
	ihl := int(buf[0]&0x0f) * 4
	if n < ihl {
		return nil, netip.Addr{}, fmt.Errorf("ospf: truncated ip header")
	}
	payload := append([]byte(nil), buf[ihl:n]...)
	return payload, netip.AddrFrom4(sa4.Addr), nil
}

func (t *RawIPTransport) Close() error {
	return unix.Close(t.fd)
}
