package bgp

// reflectionAllows implements spec §4.7's route-reflection and
// iBGP-split-horizon rules: the set of sessions a given Loc-RIB winner
// is eligible to be advertised out of, based on where it came from and
// whether this speaker is configured as a route reflector.
func (s *Speaker) reflectionAllows(p *PeerSession, route *Route) bool {
	origin, ok := s.peerFor(route.PeerIP)
	if !ok {
		return true // locally originated: advertise everywhere
	}

	if origin.cfg.Role == RoleEBGP || p.cfg.Role == RoleEBGP {
		return true // a route to/from eBGP is never split-horizoned
	}

	// Both origin and destination are iBGP sessions.
	if !s.reflector.Enabled {
		// Classic iBGP split horizon: a route learned from one iBGP peer
		// is never readvertised to another iBGP peer.
		return false
	}

	if origin.cfg.Role == RoleIBGPClient || p.cfg.Role == RoleIBGPClient {
		// A client's route reflects to every other iBGP session; a
		// non-client's route reflects only to clients (checked by the
		// second half of this condition when origin is non-client).
		return true
	}

	// origin is a non-client and p is a non-client: withhold, exactly as
	// classic split horizon would, since full-mesh among non-clients is
	// assumed per RFC 4456.
	return false
}

// applyReflectionAttrs stamps ORIGINATOR_ID and prepends this cluster's
// CLUSTER_ID onto CLUSTER_LIST when a route crosses from one iBGP
// session to another via reflection, so reflect loops are detectable by
// handleUpdate's CLUSTER_LIST/ORIGINATOR_ID check.
func (s *Speaker) applyReflectionAttrs(p *PeerSession, route *Route) {
	if !s.reflector.Enabled || p.cfg.Role == RoleEBGP {
		return
	}
	origin, ok := s.peerFor(route.PeerIP)
	if !ok || origin.cfg.Role == RoleEBGP {
		return
	}
	if route.Attributes.OriginatorID == nil {
		id := origin.learnedID
		route.Attributes.OriginatorID = &id
	}
	route.Attributes.ClusterList = append([]uint32{s.reflector.ClusterID}, route.Attributes.ClusterList...)
}
