// Package obs wires BGP and OSPF FSM/RIB events to Prometheus
// counters and gauges (spec §6's observable-state interface). It holds
// metrics only; the read-only state snapshots are the Snapshot methods
// of internal/bgp and internal/ospf.
package obs

import (
	"net/netip"

	"github.com/nextpath/routed/internal/bgp"
	"github.com/nextpath/routed/internal/ospf"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	bgpFSMTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routed_bgp_fsm_transitions_total",
			Help: "BGP peer FSM transitions.",
		},
		[]string{"peer", "from", "to"},
	)

	bgpPeerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "routed_bgp_peer_state",
			Help: "Current BGP peer FSM state (1 for the active state, 0 otherwise).",
		},
		[]string{"peer", "state"},
	)

	bgpLocRIBSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "routed_bgp_loc_rib_routes",
			Help: "Number of prefixes currently in Loc-RIB.",
		},
	)

	ospfNeighborTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routed_ospf_neighbor_transitions_total",
			Help: "OSPF neighbor FSM transitions.",
		},
		[]string{"neighbor", "from", "to"},
	)

	ospfNeighborState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "routed_ospf_neighbor_state",
			Help: "Current OSPF neighbor FSM state (1 for the active state, 0 otherwise).",
		},
		[]string{"neighbor", "state"},
	)

	ospfLSDBSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "routed_ospf_lsdb_entries",
			Help: "Number of LSAs currently in the LSDB.",
		},
	)

	ospfSPFRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "routed_ospf_spf_runs_total",
			Help: "Number of SPF computations run.",
		},
	)

	installFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routed_install_failures_total",
			Help: "Kernel route installs that failed after all retries, by source protocol (failed removals are not counted).",
		},
		[]string{"source"},
	)

	installedRoutes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "routed_installed_routes",
			Help: "Number of routes currently installed in the kernel FIB.",
		},
	)
)

// Register adds every collector to prometheus' default registry.
func Register() {
	prometheus.MustRegister(
		bgpFSMTransitionsTotal, bgpPeerState, bgpLocRIBSize,
		ospfNeighborTransitionsTotal, ospfNeighborState, ospfLSDBSize, ospfSPFRunsTotal,
		installFailuresTotal, installedRoutes,
	)
}

// Observer implements both bgp.Observer and ospf.Observer, translating
// FSM transitions and Loc-RIB changes into the metrics above.
type Observer struct{}

var _ bgp.Observer = Observer{}
var _ ospf.Observer = Observer{}

func (Observer) OnFSMTransition(peer netip.Addr, from, to bgp.State) {
	p := peer.String()
	bgpFSMTransitionsTotal.WithLabelValues(p, from.String(), to.String()).Inc()
	bgpPeerState.WithLabelValues(p, from.String()).Set(0)
	bgpPeerState.WithLabelValues(p, to.String()).Set(1)
}

func (Observer) OnLocRIBChange(prefix netip.Prefix, best *bgp.Route) {
	_ = prefix
	_ = best
	// Loc-RIB size itself is refreshed by SetLocRIBSize (called from
	// cmd/routed's periodic snapshot), since counting here would need
	// the full table anyway to stay correct across withdrawals.
}

func (Observer) OnNeighborTransition(routerID netip.Addr, from, to ospf.NeighborState) {
	n := routerID.String()
	ospfNeighborTransitionsTotal.WithLabelValues(n, from.String(), to.String()).Inc()
	ospfNeighborState.WithLabelValues(n, from.String()).Set(0)
	ospfNeighborState.WithLabelValues(n, to.String()).Set(1)
}

// SetLocRIBSize, SetLSDBSize, SetInstalledRoutes and IncInstallFailure
// are called from cmd/routed's periodic snapshot loop, which reads sizes
// and copies rather than holding live references (spec §5). IncSPFRun
// is called once per routing table received on the OSPF Speaker's
// Changes channel.
func SetLocRIBSize(n int)            { bgpLocRIBSize.Set(float64(n)) }
func SetLSDBSize(n int)              { ospfLSDBSize.Set(float64(n)) }
func IncSPFRun()                     { ospfSPFRunsTotal.Inc() }
func SetInstalledRoutes(n int)       { installedRoutes.Set(float64(n)) }
func IncInstallFailure(source string) { installFailuresTotal.WithLabelValues(source).Inc() }
