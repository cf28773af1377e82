package node

import (
	"context"
	"time"

	"github.com/mackerelio/go-osstat/memory"
	"go.uber.org/zap"

	"github.com/connhealth/probe/pkg/logging"
)

// startHealthReporter emits one health record per interval. It is a pure
// observer: each tick takes a single consistent snapshot of the registry
// and never writes back.
func (n *Node) startHealthReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(n.config.Health.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n.reportHealth()
			}
		}
	}()
}

func (n *Node) reportHealth() {
	snap := n.reg.Snapshot()

	fields := []zap.Field{
		zap.Int("connected", snap.Connected),
		zap.Int("mdns_discovered", snap.MDNSDiscovered),
		zap.Int("kad_discovered", snap.KadDiscovered),
		zap.Duration("uptime", snap.Uptime),
	}
	if mem, err := memory.Get(); err == nil && mem.Total > 0 {
		fields = append(fields, zap.Uint64("mem_used_pct", mem.Used*100/mem.Total))
	}

	n.logger.ComponentInfo(logging.ComponentHealth, "Discovery health", fields...)

	if snap.Connected == 0 && snap.Uptime > n.config.Discovery.DiscoveryTimeout {
		n.logger.ComponentError(logging.ComponentHealth, "No peers connected past discovery timeout",
			zap.Duration("uptime", snap.Uptime),
			zap.Duration("discovery_timeout", n.config.Discovery.DiscoveryTimeout))
		if len(n.config.Discovery.BootstrapPeers) == 0 && !n.config.Discovery.EnableMDNS {
			n.logger.ComponentError(logging.ComponentHealth,
				"Both mDNS and bootstrap_peers are disabled/empty; enable at least one discovery method")
		}
	}
}
