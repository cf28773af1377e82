package discovery

import (
	"context"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"go.uber.org/zap"

	"github.com/connhealth/probe/pkg/logging"
	"github.com/connhealth/probe/pkg/registry"
)

// StartDHTSweeper periodically walks the Kademlia routing table and
// publishes a SourceDHT event for every listed peer, with whatever
// addresses the peerstore currently holds for it. Each sweep re-reports
// peers already seen; that at-least-once behavior is intentional and lets
// the dial scheduler retry closed peers once their backoff clears.
func (a *Aggregator) StartDHTSweeper(ctx context.Context, h host.Host, kad *dht.IpfsDHT, interval time.Duration) {
	go func() {
		ticker := a.clock.Ticker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.sweepRoutingTable(h, kad)
			}
		}
	}()
	a.logger.ComponentInfo(logging.ComponentDHT, "Started DHT routing table sweeper",
		zap.Duration("interval", interval))
}

func (a *Aggregator) sweepRoutingTable(h host.Host, kad *dht.IpfsDHT) {
	peers := kad.RoutingTable().ListPeers()
	if len(peers) == 0 {
		return
	}
	a.logger.ComponentDebug(logging.ComponentDHT, "Routing table sweep",
		zap.Int("peers", len(peers)))

	for _, p := range peers {
		if p == h.ID() {
			continue
		}
		addrs := h.Peerstore().Addrs(p)
		if len(addrs) == 0 {
			// Routing table entry without addresses is unreachable; a
			// later sweep will pick it up once identify fills the
			// peerstore.
			continue
		}
		a.Publish(p, registry.SourceDHT, addrs)
	}
}
