package discovery

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/connhealth/probe/pkg/logging"
	"github.com/connhealth/probe/pkg/registry"
)

// DialRequest asks the transport layer to connect to a peer. Addrs are
// ordered most-recently-observed first.
type DialRequest struct {
	Peer  peer.ID
	Addrs []multiaddr.Multiaddr
}

// DialScheduler turns discovery events into dial requests. All of its
// preconditions (not already connected or dialing, cooldown elapsed) live
// in the registry's BeginDial so the check-and-transition is a single
// atomic step; the scheduler itself holds no state.
type DialScheduler struct {
	reg    *registry.Registry
	logger *logging.ColoredLogger
}

// NewDialScheduler creates a scheduler backed by the given registry.
func NewDialScheduler(reg *registry.Registry, logger *logging.ColoredLogger) *DialScheduler {
	return &DialScheduler{reg: reg, logger: logger}
}

// OnDiscovery merges one event into the registry and decides whether to
// issue a dial. Returns nil when the peer is already connected, already
// being dialed, or still inside its cooldown window.
func (s *DialScheduler) OnDiscovery(ev Event) *DialRequest {
	s.reg.Observe(ev.Peer, ev.Source, ev.Addrs, ev.At)

	addrs, ok := s.reg.BeginDial(ev.Peer)
	if !ok {
		return nil
	}

	s.logger.ComponentInfo(logging.ComponentDial, "Scheduling dial",
		zap.String("peer", ev.Peer.String()),
		zap.String("source", string(ev.Source)),
		zap.Int("addrs", len(addrs)))

	return &DialRequest{Peer: ev.Peer, Addrs: addrs}
}

// Run consumes the aggregator's event stream until ctx is done or the
// stream closes, forwarding dial requests to out. Issuing a request is
// fire-and-forget: the connect outcome arrives asynchronously through the
// connection lifecycle tracker.
func (s *DialScheduler) Run(ctx context.Context, events <-chan Event, out chan<- DialRequest) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			req := s.OnDiscovery(ev)
			if req == nil {
				continue
			}
			select {
			case out <- *req:
			case <-ctx.Done():
				return
			}
		}
	}
}
