package node

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/connhealth/probe/pkg/discovery"
	"github.com/connhealth/probe/pkg/logging"
)

const dialTimeout = 10 * time.Second

// startDialer consumes dial requests from the scheduler. Each dial runs in
// its own goroutine: issuing a request is fire-and-forget and a slow
// transport handshake must not hold up dials to other peers.
func (n *Node) startDialer(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-n.dials:
				go n.dialPeer(ctx, req)
			}
		}
	}()
}

// dialPeer attempts one connection. Failure is recorded and left alone:
// the cooldown armed by the scheduler already bounds the retry rate, so
// there is nothing to retract here.
func (n *Node) dialPeer(ctx context.Context, req discovery.DialRequest) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	info := peer.AddrInfo{ID: req.Peer, Addrs: req.Addrs}
	if err := n.host.Connect(dialCtx, info); err != nil {
		n.reg.MarkDialFailed(req.Peer)
		n.logger.ComponentDebug(logging.ComponentDial, "Dial failed",
			zap.String("peer", req.Peer.String()),
			zap.Error(err))
		return
	}
	// Success flows in through the lifecycle tracker's Connected signal.
}

// startLifecycleTracker registers the transport notifiee and starts the
// inbox loop.
func (n *Node) startLifecycleTracker(ctx context.Context) {
	n.tracker = newLifecycleTracker(n.reg, n.opHandler, n.logger)
	n.host.Network().Notify(n.tracker.notifiee())
	go n.tracker.run(ctx)
}
