package discovery

import (
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"go.uber.org/zap"

	"github.com/connhealth/probe/pkg/logging"
	"github.com/connhealth/probe/pkg/registry"
)

// StartMDNS wires the libp2p mDNS service into the aggregator. Every
// local-network announcement becomes a SourceMDNS event.
func (a *Aggregator) StartMDNS(h host.Host, serviceTag string) (mdns.Service, error) {
	svc := mdns.NewMdnsService(h, serviceTag, &mdnsNotifee{agg: a, self: h.ID()})
	if err := svc.Start(); err != nil {
		return nil, err
	}
	a.logger.ComponentInfo(logging.ComponentMDNS, "Started mDNS discovery",
		zap.String("service_tag", serviceTag))
	return svc, nil
}

// mdnsNotifee forwards mDNS peer announcements downstream.
type mdnsNotifee struct {
	agg  *Aggregator
	self peer.ID
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.self || len(pi.Addrs) == 0 {
		return
	}
	n.agg.logger.ComponentDebug(logging.ComponentMDNS, "mDNS discovered peer",
		zap.String("peer", pi.ID.String()),
		zap.Int("addrs", len(pi.Addrs)))
	n.agg.Publish(pi.ID, registry.SourceMDNS, pi.Addrs)
}
