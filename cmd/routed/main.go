// Command routed is the dual-protocol routing agent's process entry
// point: it wires configuration, logging, metrics, the BGP and OSPF
// speakers, and the cross-protocol installer together, then serves
// /metrics until killed. Flag parsing here is a minimal demo, not a
// CLI front-end (spec §6's configuration interface is explicitly a
// structured record, not a file/flag loader).
package main

import (
	"flag"
	"net"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/nextpath/routed/internal/bgp"
	"github.com/nextpath/routed/internal/config"
	"github.com/nextpath/routed/internal/install"
	"github.com/nextpath/routed/internal/obs"
	"github.com/nextpath/routed/internal/ospf"
	"github.com/nextpath/routed/internal/rlog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var (
		routerID     = flag.String("router-id", "", "this router's OSPF/BGP router-id (dotted-quad)")
		asn          = flag.Uint("asn", 0, "local BGP AS number")
		peersFlag    = flag.String("peers", "", "comma-separated peer-ip/peer-asn pairs, e.g. 192.0.2.1/65001,192.0.2.2/65002")
		ospfIface    = flag.String("ospf-iface", "", "OSPF-enabled interface name (empty disables OSPF)")
		areaID       = flag.String("ospf-area", "0.0.0.0", "OSPF area-id")
		metricsAddr  = flag.String("metrics-addr", ":9100", "address to serve /metrics on")
	)
	flag.Parse()

	log := rlog.Named("main")
	if *routerID == "" || *asn == 0 {
		log.Fatalw("router-id and asn are required")
	}

	rid, err := netip.ParseAddr(*routerID)
	if err != nil {
		log.Fatalw("invalid router-id", "err", err)
	}

	cfg := config.Config{
		RouterID: rid,
		ASN:      uint32(*asn),
		Peers:    parsePeers(*peersFlag),
	}

	var transports map[string]ospf.Transport
	if *ospfIface != "" {
		area, err := netip.ParseAddr(*areaID)
		if err != nil {
			log.Fatalw("invalid ospf-area", "err", err)
		}
		ifc, err := net.InterfaceByName(*ospfIface)
		if err != nil {
			log.Fatalw("ospf interface lookup failed", "iface", *ospfIface, "err", err)
		}
		localIP, err := firstIPv4(ifc)
		if err != nil {
			log.Fatalw("ospf interface has no IPv4 address", "iface", *ospfIface, "err", err)
		}
		transport, err := ospf.NewRawIPTransport(ifc, localIP)
		if err != nil {
			log.Fatalw("failed to open OSPF raw socket (needs CAP_NET_RAW)", "err", err)
		}
		transports = map[string]ospf.Transport{*ospfIface: transport}
		cfg.OSPFInterfaces = []config.OSPFInterfaceConfig{{
			Name:          *ospfIface,
			LocalIP:       localIP,
			AreaID:        area,
			HelloInterval: 10 * time.Second,
			DeadInterval:  40 * time.Second,
			Priority:      1,
			NetworkType:   ospf.NetworkPointToPoint,
			Metric:        10,
		}}
	}

	obs.Register()
	observer := obs.Observer{}

	bgpSpeaker, err := cfg.BuildBGPSpeaker()
	if err != nil {
		log.Fatalw("failed to build BGP speaker", "err", err)
	}
	bgpSpeaker.SetObserver(observer)

	var ospfSpeaker *ospf.Speaker
	if transports != nil {
		ospfSpeaker, err = cfg.BuildOSPFSpeaker(transports)
		if err != nil {
			log.Fatalw("failed to build OSPF speaker", "err", err)
		}
		bgpSpeaker.SetNextHopResolver(ospfSpeaker)
	}

	fib, err := install.NewNetlinkFIB()
	if err != nil {
		log.Fatalw("failed to open rtnetlink", "err", err)
	}
	installer := install.NewInstaller(fib)
	if err := installer.Reconcile(); err != nil {
		log.Warnw("startup reconciliation failed", "err", err)
	}

	ospfChanges := make(chan []ospf.RouteEntry)
	if ospfSpeaker != nil {
		go func() {
			for table := range ospfSpeaker.Changes {
				obs.IncSPFRun()
				ospfChanges <- table
			}
		}()
	} else {
		close(ospfChanges)
	}
	go installer.Run(bgpSpeaker.Changes, ospfChanges)
	go snapshotLoop(bgpSpeaker, ospfSpeaker, installer)

	http.Handle("/metrics", promhttp.Handler())
	log.Infow("routed listening", "metrics_addr", *metricsAddr)
	if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
		log.Fatalw("metrics server exited", "err", err)
	}
}

// snapshotLoop periodically copies the live speakers' state into the
// metrics package, per spec §5's rule that observers must read a copy
// rather than hold a reference into the speaker's own state.
func snapshotLoop(bgpSpeaker *bgp.Speaker, ospfSpeaker *ospf.Speaker, installer *install.Installer) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	counted := map[netip.Prefix]uint64{} // install token of each failure already counted
	for range ticker.C {
		obs.SetLocRIBSize(bgpSpeaker.LocRIB.Len())
		obs.SetInstalledRoutes(len(installer.Snapshot()))
		for _, failed := range installer.Failed() {
			if counted[failed.Prefix] == failed.InstallToken {
				continue
			}
			counted[failed.Prefix] = failed.InstallToken
			obs.IncInstallFailure(failed.Source.String())
		}
		if ospfSpeaker != nil {
			snap := ospfSpeaker.Snapshot()
			obs.SetLSDBSize(snap.LSDBSize)
		}
	}
}

func firstIPv4(ifc *net.Interface) (netip.Addr, error) {
	addrs, err := ifc.Addrs()
	if err != nil {
		return netip.Addr{}, err
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return netip.AddrFrom4([4]byte(v4)), nil
		}
	}
	return netip.Addr{}, os.ErrNotExist
}

func parsePeers(s string) []config.PeerConfig {
	if s == "" {
		return nil
	}
	var out []config.PeerConfig
	for _, pair := range strings.Split(s, ",") {
		parts := strings.SplitN(pair, "/", 2)
		if len(parts) != 2 {
			continue
		}
		ip, err := netip.ParseAddr(parts[0])
		if err != nil {
			continue
		}
		out = append(out, config.PeerConfig{
			PeerIP:   ip,
			PeerASN:  parseASN(parts[1]),
			HoldTime: 180 * time.Second,
		})
	}
	return out
}

func parseASN(s string) uint32 {
	var v uint32
	for _, c := range s {
		if c < '0' || c > '9' {
			return v
		}
		v = v*10 + uint32(c-'0')
	}
	return v
}
