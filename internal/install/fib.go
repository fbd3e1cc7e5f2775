package install

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/jsimonetti/rtnetlink"
	"golang.org/x/sys/unix"
)

// FIB is the abstract kernel-route-install seam spec §6 calls for:
// replace (idempotent install/update) and remove, plus a list
// operation the installer uses for startup reconciliation. Concrete
// implementations bind to the host's route-manipulation surface.
type FIB interface {
	Replace(RouteSinkEntry) error
	Remove(RouteSinkEntry) error
	// List returns every kernel route this agent has previously
	// installed (tagged with routeProtocol), for Reconcile to compare
	// against the in-memory RouteSink on startup.
	List() ([]RouteSinkEntry, error)
}

// routeProtocol is the RTM_F_... protocol-source byte stamped on every
// route this agent installs (spec §4.11's "every kernel-installed
// route carries a source tag"), chosen above the kernel's reserved
// RTPROT_* range (RTPROT_STATIC=4, RTPROT_DHCP=16, ...) so a route-dump
// can distinguish agent-owned routes from everything else without
// touching pre-existing host routes.
const routeProtocol = 186

// NetlinkFIB is the Linux rtnetlink backend (spec §6/§12): route
// replace/remove via RTM_NEWROUTE (NLM_F_REPLACE) and RTM_DELROUTE,
// every route tagged with routeProtocol.
type NetlinkFIB struct {
	conn       *rtnetlink.Conn
	ifaceIndex func(name string) (uint32, error)
}

// NewNetlinkFIB opens a netlink route socket.
func NewNetlinkFIB() (*NetlinkFIB, error) {
	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("install: dial rtnetlink: %w", err)
	}
	return &NetlinkFIB{conn: conn, ifaceIndex: resolveIfaceIndex}, nil
}

func resolveIfaceIndex(name string) (uint32, error) {
	ifc, err := net.InterfaceByName(name)
	if err != nil {
		return 0, err
	}
	return uint32(ifc.Index), nil
}

func (f *NetlinkFIB) Replace(e RouteSinkEntry) error {
	msg, err := f.toMessage(e)
	if err != nil {
		return err
	}
	if err := f.conn.Route.Replace(msg); err != nil {
		return fmt.Errorf("install: netlink route replace %s: %w", e.Prefix, err)
	}
	return nil
}

func (f *NetlinkFIB) Remove(e RouteSinkEntry) error {
	msg, err := f.toMessage(e)
	if err != nil {
		return err
	}
	if err := f.conn.Route.Delete(msg); err != nil {
		return fmt.Errorf("install: netlink route delete %s: %w", e.Prefix, err)
	}
	return nil
}

// List dumps the kernel's route table and returns only the subset
// carrying routeProtocol, per spec §9's reconciliation strategy: "tag
// every installed route with a protocol-source identifier ... on
// startup, the installer reconciles its internal RouteSink against
// this tagged subset rather than scanning all host routes."
func (f *NetlinkFIB) List() ([]RouteSinkEntry, error) {
	msgs, err := f.conn.Route.List()
	if err != nil {
		return nil, fmt.Errorf("install: netlink route list: %w", err)
	}
	var out []RouteSinkEntry
	for _, m := range msgs {
		if m.Protocol != routeProtocol {
			continue
		}
		addr, ok := netip.AddrFromSlice(m.Attributes.Dst)
		if !ok {
			continue
		}
		entry := RouteSinkEntry{
			Prefix: netip.PrefixFrom(addr, int(m.DstLength)),
			Metric: m.Attributes.Priority,
		}
		if nh, ok := netip.AddrFromSlice(m.Attributes.Gateway); ok {
			entry.NextHop = nh
		}
		out = append(out, entry)
	}
	return out, nil
}

func (f *NetlinkFIB) Close() error { return f.conn.Close() }

func (f *NetlinkFIB) toMessage(e RouteSinkEntry) (*rtnetlink.RouteMessage, error) {
	dst := e.Prefix.Addr()
	family := uint8(unix.AF_INET)
	if dst.Is6() {
		family = unix.AF_INET6
	}

	attrs := rtnetlink.RouteAttributes{
		Dst:      dst.AsSlice(),
		Priority: e.Metric,
		Table:    unix.RT_TABLE_MAIN,
	}
	if e.NextHop.IsValid() {
		attrs.Gateway = e.NextHop.AsSlice()
	}
	if e.Interface != "" {
		idx, err := f.ifaceIndex(e.Interface)
		if err != nil {
			return nil, fmt.Errorf("install: resolve interface %s: %w", e.Interface, err)
		}
		attrs.OutIface = idx
	}

	return &rtnetlink.RouteMessage{
		Family:     family,
		DstLength:  uint8(e.Prefix.Bits()),
		Protocol:   routeProtocol,
		Scope:      unix.RT_SCOPE_UNIVERSE,
		Type:       unix.RTN_UNICAST,
		Table:      unix.RT_TABLE_MAIN,
		Attributes: attrs,
	}, nil
}

// Reconcile compares fib's currently-installed tagged routes against
// in's in-memory RouteSink at startup and removes anything the kernel
// still carries that in no longer claims, per spec §9: the agent must
// not accumulate stale routes from a previous run's crash.
func (in *Installer) Reconcile() error {
	installed, err := in.fib.List()
	if err != nil {
		return fmt.Errorf("install: reconcile: %w", err)
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, stale := range installed {
		if _, ok := in.sink[stale.Prefix]; ok {
			continue
		}
		if err := in.fib.Remove(stale); err != nil {
			in.log.Errorw("reconcile: failed to remove stale kernel route", "prefix", stale.Prefix, "err", err)
		}
	}
	return nil
}
