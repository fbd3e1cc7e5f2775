// Package install implements the cross-protocol installer (spec
// §4.11): it subscribes to BGP's Loc-RIB change feed and OSPF's SPF
// routing table, picks a single per-prefix winner by source-protocol
// preference (Connected > OSPF > BGP), and pushes that winner to the
// kernel FIB through an abstract backend.
package install

import (
	"net/netip"
	"sync"

	"github.com/nextpath/routed/internal/bgp"
	"github.com/nextpath/routed/internal/ospf"
	"github.com/nextpath/routed/internal/rlog"
	"go.uber.org/zap"
)

// Source is a candidate route's originating protocol, ordered so a
// smaller value always outranks a larger one, matching spec §4.11's
// Connected > OSPF > BGP preference exactly.
type Source uint8

const (
	SourceConnected Source = iota
	SourceOSPF
	SourceBGP
)

func (s Source) String() string {
	switch s {
	case SourceConnected:
		return "connected"
	case SourceOSPF:
		return "ospf"
	case SourceBGP:
		return "bgp"
	default:
		return "unknown"
	}
}

// Candidate is one protocol's proposed route to a prefix, the input to
// the installer's per-prefix preference decision.
type Candidate struct {
	Prefix    netip.Prefix
	NextHop   netip.Addr
	Metric    uint32
	Interface string
	Source    Source
}

// RouteSinkEntry is spec §3's RouteSink entry: the one winning
// candidate currently pushed to the kernel for a prefix, tagged with
// an install-token the FIB backend can use for idempotent replace.
type RouteSinkEntry struct {
	Prefix       netip.Prefix
	Source       Source
	NextHop      netip.Addr
	Interface    string
	Metric       uint32
	InstallToken uint64
}

// Installer owns the RouteSink: for every prefix it has opinions
// about, the set of live candidates by source and the currently
// installed winner, if any. It is the sole mutator of both, driven
// from BGP's and OSPF's change feeds plus whatever feeds connected
// routes (spec §5's "kernel-route sink is process-global, mutated only
// from the single scheduler thread" rule — this type assumes a single
// caller goroutine per method, matching Run's event loop).
type Installer struct {
	mu sync.Mutex

	fib FIB

	candidates map[netip.Prefix]map[Source]Candidate
	sink       map[netip.Prefix]RouteSinkEntry
	failed     map[netip.Prefix]RouteSinkEntry

	nextToken uint64

	log *zap.SugaredLogger
}

// installMaxRetries bounds the kernel-route install retry spec §7
// requires before giving up and marking a route failed-to-install.
const installMaxRetries = 3

// NewInstaller creates an installer with an empty RouteSink, backed by
// fib for the actual kernel operations.
func NewInstaller(fib FIB) *Installer {
	return &Installer{
		fib:        fib,
		candidates: map[netip.Prefix]map[Source]Candidate{},
		sink:       map[netip.Prefix]RouteSinkEntry{},
		failed:     map[netip.Prefix]RouteSinkEntry{},
		log:        rlog.Named("install"),
	}
}

// Run consumes BGP's and OSPF's change feeds until either channel is
// closed. It is meant to run on its own goroutine; bgpChanges and
// ospfChanges are typically (*bgp.Speaker).Changes and
// (*ospf.Speaker).Changes.
func (in *Installer) Run(bgpChanges <-chan bgp.LocRIBChange, ospfChanges <-chan []ospf.RouteEntry) {
	for bgpChanges != nil || ospfChanges != nil {
		select {
		case c, ok := <-bgpChanges:
			if !ok {
				bgpChanges = nil
				continue
			}
			in.updateBGP(c)
		case table, ok := <-ospfChanges:
			if !ok {
				ospfChanges = nil
				continue
			}
			in.updateOSPF(table)
		}
	}
}

// UpdateConnected replaces the full set of directly-connected-interface
// candidates (there is no incremental feed for these; they change only
// on interface up/down, which this scope treats as a rare, whole-table
// refresh).
func (in *Installer) UpdateConnected(routes []Candidate) {
	in.mu.Lock()
	defer in.mu.Unlock()
	touched := make(map[netip.Prefix]bool, len(routes))
	for prefix, bySource := range in.candidates {
		if _, ok := bySource[SourceConnected]; ok {
			touched[prefix] = true
		}
		delete(bySource, SourceConnected)
		if len(bySource) == 0 {
			delete(in.candidates, prefix)
		}
	}
	for _, r := range routes {
		r.Source = SourceConnected
		in.setCandidateLocked(r)
		touched[r.Prefix] = true
	}
	for prefix := range touched {
		in.recomputeLocked(prefix)
	}
}

func (in *Installer) updateBGP(c bgp.LocRIBChange) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if c.Route == nil {
		in.clearSourceLocked(c.Prefix, SourceBGP)
	} else {
		nh := c.Route.Attributes.NextHop
		metric := uint32(0)
		if c.Route.Attributes.MED != nil {
			metric = *c.Route.Attributes.MED
		}
		in.setCandidateLocked(Candidate{Prefix: c.Prefix, NextHop: nh, Metric: metric, Source: SourceBGP})
	}
	in.recomputeLocked(c.Prefix)
}

func (in *Installer) updateOSPF(table []ospf.RouteEntry) {
	in.mu.Lock()
	defer in.mu.Unlock()

	fresh := make(map[netip.Prefix]bool, len(table))
	for _, r := range table {
		in.setCandidateLocked(Candidate{
			Prefix: r.Prefix, NextHop: r.NextHop, Metric: r.Cost,
			Interface: r.Interface, Source: SourceOSPF,
		})
		fresh[r.Prefix] = true
	}
	var lost []netip.Prefix
	for prefix, bySource := range in.candidates {
		if _, ok := bySource[SourceOSPF]; ok && !fresh[prefix] {
			in.clearSourceLocked(prefix, SourceOSPF)
			lost = append(lost, prefix)
		}
	}
	for prefix := range fresh {
		in.recomputeLocked(prefix)
	}
	// A prefix whose OSPF candidate was withdrawn this round isn't in
	// fresh but must also be recomputed, to fall back to another source
	// or to be removed.
	for _, prefix := range lost {
		in.recomputeLocked(prefix)
	}
}

func (in *Installer) setCandidateLocked(c Candidate) {
	bySource, ok := in.candidates[c.Prefix]
	if !ok {
		bySource = map[Source]Candidate{}
		in.candidates[c.Prefix] = bySource
	}
	bySource[c.Source] = c
}

func (in *Installer) clearSourceLocked(prefix netip.Prefix, src Source) {
	bySource, ok := in.candidates[prefix]
	if !ok {
		return
	}
	delete(bySource, src)
	if len(bySource) == 0 {
		delete(in.candidates, prefix)
	}
}

// recomputeLocked applies spec §4.11's preference order to prefix's
// current candidate set and reconciles the RouteSink: install/replace
// the new winner, or fall back to another protocol's candidate, or
// remove the prefix entirely if nothing claims it anymore.
func (in *Installer) recomputeLocked(prefix netip.Prefix) {
	winner, ok := bestCandidate(in.candidates[prefix])
	current, installed := in.sink[prefix]

	if !ok {
		if installed {
			if err := in.fib.Remove(current); err != nil {
				in.log.Errorw("kernel route remove failed", "prefix", prefix, "err", err)
				return
			}
			delete(in.sink, prefix)
			delete(in.failed, prefix)
		}
		return
	}

	if installed && current.Source == winner.Source && current.NextHop == winner.NextHop &&
		current.Metric == winner.Metric && current.Interface == winner.Interface {
		return // no change, spec's replace-not-delete-then-add rule means idle prefixes stay untouched
	}

	in.nextToken++
	entry := RouteSinkEntry{
		Prefix: prefix, Source: winner.Source, NextHop: winner.NextHop,
		Interface: winner.Interface, Metric: winner.Metric, InstallToken: in.nextToken,
	}

	var err error
	for attempt := 0; attempt < installMaxRetries; attempt++ {
		if err = in.fib.Replace(entry); err == nil {
			break
		}
	}
	if err != nil {
		in.log.Errorw("kernel route replace failed after retries", "prefix", prefix, "source", winner.Source, "err", err)
		in.failed[prefix] = entry
		return
	}
	delete(in.failed, prefix)
	in.sink[prefix] = entry
}

// bestCandidate picks the lowest-Source (Connected > OSPF > BGP), then
// lowest-Metric candidate. Within BGP, decision.go has already reduced
// the protocol to at most one route per prefix, so no BGP-internal
// tie-break is needed here.
func bestCandidate(bySource map[Source]Candidate) (Candidate, bool) {
	var best Candidate
	found := false
	for _, c := range bySource {
		if !found || c.Source < best.Source || (c.Source == best.Source && c.Metric < best.Metric) {
			best = c
			found = true
		}
	}
	return best, found
}

// Snapshot returns a point-in-time copy of the RouteSink, for the
// observable-state interface (spec §6).
func (in *Installer) Snapshot() []RouteSinkEntry {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]RouteSinkEntry, 0, len(in.sink))
	for _, e := range in.sink {
		out = append(out, e)
	}
	return out
}

// Failed returns every prefix whose winning candidate could not be
// pushed to the kernel after installMaxRetries attempts; internal/obs
// exposes this as a counter/gauge.
func (in *Installer) Failed() []RouteSinkEntry {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]RouteSinkEntry, 0, len(in.failed))
	for _, e := range in.failed {
		out = append(out, e)
	}
	return out
}
