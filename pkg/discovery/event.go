package discovery

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/connhealth/probe/pkg/registry"
)

// Event is the normalized shape every discovery mechanism is mapped into.
// Events are produced once per observation and never mutated; duplicate
// observations of the same peer are expected and resolved downstream by
// the registry and dial scheduler, not suppressed at the source.
type Event struct {
	Peer   peer.ID
	Source registry.Source
	Addrs  []multiaddr.Multiaddr
	At     time.Time
}
