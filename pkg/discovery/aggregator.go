package discovery

import (
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/connhealth/probe/pkg/logging"
	"github.com/connhealth/probe/pkg/registry"
)

// Aggregator merges the raw notifications from the local-network and
// DHT discovery mechanisms into a single stream of normalized Events.
// It keeps no per-peer state: forwarding is at-least-once by design and
// deduplication is the consumer's responsibility.
type Aggregator struct {
	logger *logging.ColoredLogger
	clock  clock.Clock

	events chan Event

	mu     sync.Mutex
	closed bool
}

// NewAggregator creates an aggregator with a buffered event stream.
func NewAggregator(logger *logging.ColoredLogger) *Aggregator {
	return newAggregatorWithClock(logger, clock.New())
}

func newAggregatorWithClock(logger *logging.ColoredLogger, clk clock.Clock) *Aggregator {
	return &Aggregator{
		logger: logger,
		clock:  clk,
		events: make(chan Event, 64),
	}
}

// Events returns the normalized discovery event stream.
func (a *Aggregator) Events() <-chan Event {
	return a.events
}

// Publish forwards one observation downstream. Observations with no peer
// identity are transient source noise and dropped silently. Publish never
// blocks the calling discovery mechanism: if the consumer has fallen this
// far behind, the observation is dropped and a later one will cover it.
func (a *Aggregator) Publish(p peer.ID, source registry.Source, addrs []multiaddr.Multiaddr) {
	if p == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	ev := Event{Peer: p, Source: source, Addrs: addrs, At: a.clock.Now()}
	select {
	case a.events <- ev:
	default:
		a.logger.ComponentDebug(logging.ComponentGeneral, "Discovery event dropped, consumer lagging",
			zap.String("peer", p.String()),
			zap.String("source", string(source)))
	}
}

// Close stops the event stream. Publishers become no-ops afterwards.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	close(a.events)
}
