package bgp

import (
	"net/netip"
	"sync"

	"github.com/nextpath/routed/internal/rtable"
)

// AdjRIBIn is spec §3/§4.5's per-peer table of routes last announced by
// that peer, post-import-policy. It is exclusively owned by the
// PeerSession that holds it; the decision process only ever reads it.
type AdjRIBIn struct {
	mu sync.RWMutex
	t  *rtable.Table[*Route]
}

func NewAdjRIBIn() *AdjRIBIn {
	return &AdjRIBIn{t: rtable.New[*Route]()}
}

// Add replaces (or inserts) the route last announced for prefix p,
// implicitly withdrawing whatever was stored before (spec §4.5).
func (r *AdjRIBIn) Add(p netip.Prefix, route *Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.t.Set(p, route)
}

func (r *AdjRIBIn) Remove(p netip.Prefix) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.t.Delete(p)
}

func (r *AdjRIBIn) Get(p netip.Prefix) (*Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.t.Get(p)
}

func (r *AdjRIBIn) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.t.Len()
}

// All calls fn for every stored route. fn must not mutate the table.
func (r *AdjRIBIn) All(fn func(netip.Prefix, *Route) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.t.All(fn)
}

// PurgeAll removes every entry, used when the owning peer leaves
// Established (spec §4.3's HoldTimer_Expires/NotifMsg transitions and
// §4.5's "peer session failure retracts all routes").
func (r *AdjRIBIn) PurgeAll() []netip.Prefix {
	r.mu.Lock()
	defer r.mu.Unlock()
	var affected []netip.Prefix
	r.t.All(func(p netip.Prefix, _ *Route) bool {
		affected = append(affected, p)
		return true
	})
	for _, p := range affected {
		r.t.Delete(p)
	}
	return affected
}

// Snapshot copies out the table for the observable-state interface
// (spec §6), never handing out the live table.
func (r *AdjRIBIn) Snapshot() map[netip.Prefix]*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.t.Snapshot()
}

// AdjRIBOut is spec §3/§4.5's per-peer table of routes last advertised
// to that peer, used to avoid redundant sends and to construct
// withdraws when the Loc-RIB entry disappears or the route is no
// longer exported.
type AdjRIBOut struct {
	mu sync.RWMutex
	t  *rtable.Table[*Route]
}

func NewAdjRIBOut() *AdjRIBOut {
	return &AdjRIBOut{t: rtable.New[*Route]()}
}

func (r *AdjRIBOut) Get(p netip.Prefix) (*Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.t.Get(p)
}

func (r *AdjRIBOut) Set(p netip.Prefix, route *Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.t.Set(p, route)
}

func (r *AdjRIBOut) Remove(p netip.Prefix) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.t.Delete(p)
}

func (r *AdjRIBOut) Snapshot() map[netip.Prefix]*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.t.Snapshot()
}

// LocRIB is spec §3/§4.5's shared table of the single currently-best
// route per prefix. It is mutated only by the decision process
// (internal/bgp/decision.go), which is the serializing point the
// concurrency model in spec §5 relies on.
type LocRIB struct {
	mu sync.RWMutex
	t  *rtable.Table[*Route]
}

func NewLocRIB() *LocRIB {
	return &LocRIB{t: rtable.New[*Route]()}
}

func (r *LocRIB) Get(p netip.Prefix) (*Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.t.Get(p)
}

func (r *LocRIB) set(p netip.Prefix, route *Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.t.Set(p, route)
}

func (r *LocRIB) remove(p netip.Prefix) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.t.Delete(p)
}

func (r *LocRIB) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.t.Len()
}

func (r *LocRIB) All(fn func(netip.Prefix, *Route) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.t.All(fn)
}

func (r *LocRIB) Snapshot() map[netip.Prefix]*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.t.Snapshot()
}
