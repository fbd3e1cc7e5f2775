package ospf

import (
	"container/heap"
	"net/netip"

	"github.com/nextpath/routed/internal/ospfwire"
)

// RouteEntry is one row of spec §4.10's SPF output: a destination
// prefix, total cost, next-hop router, and outgoing interface.
type RouteEntry struct {
	Prefix    netip.Prefix
	Cost      uint32
	NextHop   netip.Addr
	Interface string
}

// spfNode is one vertex of the SPF graph: either a router (keyed by
// router-id) or a transit network (keyed by the network LSA's
// link-state-id, the DR's interface address).
type spfNode struct {
	routerID netip.Addr
	isRouter bool
}

type edge struct {
	to       spfNode
	metric   uint32
	nextHop  netip.Addr // the link's LinkData; read only on edges between root and its neighbors
	ifaceName string
	stubMask  netip.Addr // populated when the neighbor-side link is a stub network, not a graph edge
	stubNet   netip.Prefix
	isStub    bool
}

// RunSPF builds the graph from every Router/Network LSA in db and runs
// Dijkstra rooted at root, returning the routing table spec §4.10
// describes. Ties in cost are broken by fewer hops, then lower
// neighbor router-id, matching the spec's explicit tie-break.
func RunSPF(db *LSDB, root netip.Addr, ifaceName string) []RouteEntry {
	adjacency := map[spfNode][]edge{}
	routerLSAs := map[netip.Addr]ospfwire.RouterLSA{}

	db.All(func(l ospfwire.RawLSA) bool {
		switch l.Header.Type {
		case ospfwire.LSTypeRouter:
			rl, err := ospfwire.DecodeRouterLSA(l.Header, l.Raw[ospfwire.LSAHeaderLength:])
			if err != nil {
				return true
			}
			routerLSAs[l.Header.AdvertisingRouter] = rl
			self := spfNode{routerID: l.Header.AdvertisingRouter, isRouter: true}
			for _, link := range rl.Links {
				switch link.LinkType {
				case 1: // point-to-point
					adjacency[self] = append(adjacency[self], edge{
						to:      spfNode{routerID: link.LinkID, isRouter: true},
						metric:  uint32(link.Metric),
						nextHop: link.LinkData,
					})
				case 2: // transit network, keyed by the DR's interface address
					adjacency[self] = append(adjacency[self], edge{
						to:     spfNode{routerID: link.LinkID, isRouter: false},
						metric: uint32(link.Metric),
					})
				case 3: // stub network: a leaf, not a graph edge to another vertex
					bits := maskToBits(link.LinkData)
					adjacency[self] = append(adjacency[self], edge{
						to:      self,
						metric:  uint32(link.Metric),
						isStub:  true,
						stubNet: netip.PrefixFrom(link.LinkID, bits),
					})
				}
			}
		case ospfwire.LSTypeNetwork:
			nl, err := ospfwire.DecodeNetworkLSA(l.Header, l.Raw[ospfwire.LSAHeaderLength:])
			if err != nil {
				return true
			}
			self := spfNode{routerID: l.Header.LinkStateID, isRouter: false}
			for _, r := range nl.AttachedRouters {
				adjacency[self] = append(adjacency[self], edge{to: spfNode{routerID: r, isRouter: true}, metric: 0})
			}
		}
		return true
	})

	rootNode := spfNode{routerID: root, isRouter: true}
	dist, hops, prevHop := dijkstra(adjacency, rootNode)

	var routes []RouteEntry
	for node, d := range dist {
		if node == rootNode || !node.isRouter {
			continue
		}
		for _, e := range adjacency[node] {
			if !e.isStub {
				continue
			}
			routes = append(routes, RouteEntry{
				Prefix:    e.stubNet,
				Cost:      d + e.metric,
				NextHop:   prevHop[node],
				Interface: ifaceName,
			})
		}
	}
	_ = hops
	return routes
}

// dijkstra returns, for every reachable node, its total cost, hop
// count, and the next-hop address to reach it from root (the
// first-hop neighbor's LinkData, propagated along the shortest path).
func dijkstra(adjacency map[spfNode][]edge, root spfNode) (dist map[spfNode]uint32, hops map[spfNode]int, nextHop map[spfNode]netip.Addr) {
	dist = map[spfNode]uint32{root: 0}
	hops = map[spfNode]int{root: 0}
	nextHop = map[spfNode]netip.Addr{}
	visited := map[spfNode]bool{}
	parent := map[spfNode]spfNode{}

	pq := &nodeHeap{{node: root, cost: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(nodeDist)
		if visited[cur.node] {
			continue
		}
		visited[cur.node] = true

		for _, e := range adjacency[cur.node] {
			if e.isStub {
				continue
			}
			nd := dist[cur.node] + e.metric
			nh := hops[cur.node] + 1
			prevBest, known := dist[e.to]
			better := !known || nd < prevBest ||
				(nd == prevBest && nh < hops[e.to]) ||
				(nd == prevBest && nh == hops[e.to] && cur.node.routerID.Compare(parent[e.to].routerID) < 0)
			if better {
				dist[e.to] = nd
				hops[e.to] = nh
				parent[e.to] = cur.node
				if cur.node == root {
					nextHop[e.to] = e.nextHop
					for _, back := range adjacency[e.to] {
						if back.to == root && !back.isStub && back.nextHop.IsValid() {
							nextHop[e.to] = back.nextHop
							break
						}
					}
				} else {
					nextHop[e.to] = nextHop[cur.node]
				}
				heap.Push(pq, nodeDist{node: e.to, cost: nd})
			}
		}
	}
	return dist, hops, nextHop
}

type nodeDist struct {
	node spfNode
	cost uint32
}

type nodeHeap []nodeDist

func (h nodeHeap) Len() int            { return len(h) }
func (h nodeHeap) Less(i, j int) bool  { return h[i].cost < h[j].cost }
func (h nodeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x interface{}) { *h = append(*h, x.(nodeDist)) }
func (h *nodeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// maskToBits converts a dotted-quad network mask to its prefix length.
func maskToBits(mask netip.Addr) int {
	b := mask.As4()
	n := 0
	for _, octet := range b {
		for bit := 7; bit >= 0; bit-- {
			if octet&(1<<uint(bit)) != 0 {
				n++
			}
		}
	}
	return n
}
