package registry

import (
	"sort"
)

// NetworkSnapshot is the full registry view served by the local status API.
type NetworkSnapshot struct {
	LocalPeerID    string             `json:"local_peer_id"`
	Role           string             `json:"role"`
	Listen         []string           `json:"listen"`
	BootstrapPeers []BootstrapPeerRow `json:"bootstrap_peers"`
	Peers          []PeerRow          `json:"peers"`
	UpdatedAtMs    int64              `json:"updated_at_ms"`
}

// BootstrapPeerRow reports a configured bootstrap peer and whether we
// currently hold a connection to it.
type BootstrapPeerRow struct {
	Multiaddr string `json:"multiaddr"`
	PeerID    string `json:"peer_id,omitempty"`
	Connected bool   `json:"connected"`
}

// PeerRow is one known peer in a NetworkSnapshot.
type PeerRow struct {
	PeerID        string   `json:"peer_id"`
	State         string   `json:"state"`
	DiscoveredVia []string `json:"discovered_via"`
	Addrs         []string `json:"addrs"`
	OpAcked       *bool    `json:"op_acked,omitempty"`
	LastSeenMs    int64    `json:"last_seen_ms"`
}

// NetworkSnapshot builds the full point-in-time view under one lock
// acquisition. Peers are sorted by ID for stable output.
func (r *Registry) NetworkSnapshot() NetworkSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := NetworkSnapshot{
		LocalPeerID: r.localID.String(),
		Role:        r.role,
		Listen:      append([]string(nil), r.listen...),
		UpdatedAtMs: r.clock.Now().UnixMilli(),
	}

	for _, rec := range r.peers {
		row := PeerRow{
			PeerID:     rec.ID.String(),
			State:      string(rec.State),
			LastSeenMs: rec.LastSeen.UnixMilli(),
		}
		for src := range rec.Provenance {
			row.DiscoveredVia = append(row.DiscoveredVia, string(src))
		}
		sort.Strings(row.DiscoveredVia)
		for _, a := range rec.Addrs {
			row.Addrs = append(row.Addrs, a.String())
		}
		if rec.OpAcked != nil {
			v := *rec.OpAcked
			row.OpAcked = &v
		}
		snap.Peers = append(snap.Peers, row)
	}
	sort.Slice(snap.Peers, func(i, j int) bool {
		return snap.Peers[i].PeerID < snap.Peers[j].PeerID
	})

	for _, bp := range r.bootstrap {
		row := BootstrapPeerRow{Multiaddr: bp.multiaddr}
		if bp.peerID != "" {
			row.PeerID = bp.peerID.String()
			if rec := r.peers[bp.peerID]; rec != nil {
				row.Connected = rec.State == StateConnected
			}
		}
		snap.BootstrapPeers = append(snap.BootstrapPeers, row)
	}

	return snap
}
