package node

import (
	"context"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/connhealth/probe/pkg/logging"
	"github.com/connhealth/probe/pkg/protocol"
	"github.com/connhealth/probe/pkg/registry"
)

type connEventKind int

const (
	connEstablished connEventKind = iota
	connClosed
)

// connEvent is one transport-layer notification. Callback-style notify
// events are converted to messages on the tracker inbox and applied in
// the order received; per-peer atomicity comes from the registry's
// mutation discipline, not from ordering across peers.
type connEvent struct {
	kind     connEventKind
	peer     peer.ID
	addr     multiaddr.Multiaddr
	outbound bool
	// stillConnected is sampled at notification time: with multiple
	// connections to one peer, closing one of them must not mark the
	// peer closed while others remain.
	stillConnected bool
}

// lifecycleTracker observes connection-established and connection-closed
// signals from the transport and keeps the registry's connection state in
// step. On newly established outbound connections it kicks off the op
// exchange in a per-peer goroutine so a slow ack never blocks other
// peers' processing.
type lifecycleTracker struct {
	reg       *registry.Registry
	opHandler *protocol.Handler
	logger    *logging.ColoredLogger
	inbox     chan connEvent
}

func newLifecycleTracker(reg *registry.Registry, opHandler *protocol.Handler, logger *logging.ColoredLogger) *lifecycleTracker {
	return &lifecycleTracker{
		reg:       reg,
		opHandler: opHandler,
		logger:    logger,
		inbox:     make(chan connEvent, 64),
	}
}

// notifiee adapts the tracker to the libp2p network notification API.
func (t *lifecycleTracker) notifiee() network.Notifiee {
	return &network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			t.push(connEvent{
				kind:     connEstablished,
				peer:     c.RemotePeer(),
				addr:     c.RemoteMultiaddr(),
				outbound: c.Stat().Direction == network.DirOutbound,
			})
		},
		DisconnectedF: func(net network.Network, c network.Conn) {
			t.push(connEvent{
				kind:           connClosed,
				peer:           c.RemotePeer(),
				stillConnected: net.Connectedness(c.RemotePeer()) == network.Connected,
			})
		},
	}
}

// push enqueues an event, blocking when the inbox is full. Applying out
// of order is not an option: a close overtaking a queued establish would
// leave the peer marked connected with no later notification to correct
// it. The run loop guarantees the send makes progress.
func (t *lifecycleTracker) push(ev connEvent) {
	t.inbox <- ev
}

// run applies inbox events in order until ctx is done.
func (t *lifecycleTracker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-t.inbox:
			t.apply(ctx, ev)
		}
	}
}

func (t *lifecycleTracker) apply(ctx context.Context, ev connEvent) {
	switch ev.kind {
	case connEstablished:
		became := t.reg.MarkConnected(ev.peer, ev.addr)
		if !became {
			return
		}
		t.logger.ComponentInfo(logging.ComponentLibP2P, "Connection established",
			zap.String("peer", ev.peer.String()),
			zap.Bool("outbound", ev.outbound))
		if ev.outbound && t.opHandler != nil {
			// The side that discovered-and-dialed sends first.
			go t.opHandler.Exchange(ctx, ev.peer)
		}
	case connClosed:
		if ev.stillConnected {
			return
		}
		t.reg.MarkClosed(ev.peer)
		t.logger.ComponentWarn(logging.ComponentLibP2P, "Connection closed",
			zap.String("peer", ev.peer.String()))
	}
}
