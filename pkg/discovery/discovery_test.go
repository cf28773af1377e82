package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/connhealth/probe/pkg/logging"
	"github.com/connhealth/probe/pkg/registry"
)

func testLogger(t *testing.T) *logging.ColoredLogger {
	t.Helper()
	logger, err := logging.NewColoredLogger(logging.ComponentGeneral, false)
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return logger
}

func mustAddr(t *testing.T, s string) multiaddr.Multiaddr {
	t.Helper()
	ma, err := multiaddr.NewMultiaddr(s)
	if err != nil {
		t.Fatalf("bad multiaddr %q: %v", s, err)
	}
	return ma
}

func TestAggregatorPublish(t *testing.T) {
	a := NewAggregator(testLogger(t))
	defer a.Close()

	addr := mustAddr(t, "/ip4/192.168.1.10/tcp/4001")
	a.Publish(peer.ID("peer-a"), registry.SourceMDNS, []multiaddr.Multiaddr{addr})

	select {
	case ev := <-a.Events():
		if ev.Peer != peer.ID("peer-a") || ev.Source != registry.SourceMDNS {
			t.Fatalf("event = %+v", ev)
		}
		if ev.At.IsZero() {
			t.Fatal("event has no timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestAggregatorDropsEmptyPeer(t *testing.T) {
	a := NewAggregator(testLogger(t))
	defer a.Close()

	a.Publish("", registry.SourceDHT, nil)

	select {
	case ev := <-a.Events():
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAggregatorNeverBlocks(t *testing.T) {
	a := NewAggregator(testLogger(t))
	defer a.Close()

	// No consumer; once the buffer is full Publish must drop, not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			a.Publish(peer.ID("peer-a"), registry.SourceDHT, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full stream")
	}
}

func TestAggregatorPublishAfterClose(t *testing.T) {
	a := NewAggregator(testLogger(t))
	a.Close()
	a.Close() // double close is a no-op

	// Must not panic on the closed channel.
	a.Publish(peer.ID("peer-a"), registry.SourceMDNS, nil)

	if _, ok := <-a.Events(); ok {
		t.Fatal("stream still open after Close")
	}
}

func TestSchedulerDialsOncePerCooldown(t *testing.T) {
	clk := clock.NewMock()
	reg := registry.NewWithClock(30*time.Second, clk)
	s := NewDialScheduler(reg, testLogger(t))

	addr := mustAddr(t, "/ip4/192.168.1.10/tcp/4001")
	ev := Event{Peer: peer.ID("peer-a"), Source: registry.SourceMDNS, Addrs: []multiaddr.Multiaddr{addr}, At: clk.Now()}

	req := s.OnDiscovery(ev)
	if req == nil {
		t.Fatal("first event produced no dial")
	}
	if req.Peer != ev.Peer || len(req.Addrs) != 1 {
		t.Fatalf("request = %+v", req)
	}

	// Duplicate events inside the cooldown are merged, never dialed.
	for i := 0; i < 3; i++ {
		clk.Add(time.Second)
		ev.At = clk.Now()
		if dup := s.OnDiscovery(ev); dup != nil {
			t.Fatalf("duplicate event produced dial: %+v", dup)
		}
	}

	reg.MarkDialFailed(ev.Peer)
	clk.Add(30 * time.Second)
	ev.At = clk.Now()
	if req := s.OnDiscovery(ev); req == nil {
		t.Fatal("no redial after cooldown")
	}
}

func TestSchedulerSkipsConnectedPeer(t *testing.T) {
	clk := clock.NewMock()
	reg := registry.NewWithClock(30*time.Second, clk)
	s := NewDialScheduler(reg, testLogger(t))

	addr := mustAddr(t, "/ip4/192.168.1.10/tcp/4001")
	p := peer.ID("peer-a")
	reg.MarkConnected(p, addr)

	ev := Event{Peer: p, Source: registry.SourceDHT, Addrs: []multiaddr.Multiaddr{addr}, At: clk.Now()}
	if req := s.OnDiscovery(ev); req != nil {
		t.Fatalf("dial issued for connected peer: %+v", req)
	}

	// The observation still lands in the registry.
	if snap := reg.Snapshot(); snap.KadDiscovered != 1 {
		t.Fatalf("kad_discovered = %d, want 1", snap.KadDiscovered)
	}
}

func TestSchedulerRun(t *testing.T) {
	clk := clock.NewMock()
	reg := registry.NewWithClock(30*time.Second, clk)
	s := NewDialScheduler(reg, testLogger(t))

	a := newAggregatorWithClock(testLogger(t), clk)
	out := make(chan DialRequest, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx, a.Events(), out)
		close(done)
	}()

	addr := mustAddr(t, "/ip4/192.168.1.10/tcp/4001")
	a.Publish(peer.ID("peer-a"), registry.SourceMDNS, []multiaddr.Multiaddr{addr})
	a.Publish(peer.ID("peer-a"), registry.SourceDHT, []multiaddr.Multiaddr{addr})
	a.Publish(peer.ID("peer-b"), registry.SourceDHT, []multiaddr.Multiaddr{addr})

	var got []DialRequest
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case req := <-out:
			got = append(got, req)
		case <-timeout:
			t.Fatalf("requests = %v, want 2", got)
		}
	}

	select {
	case req := <-out:
		t.Fatalf("extra dial request: %+v", req)
	case <-time.After(50 * time.Millisecond):
	}

	// Closing the stream stops the loop.
	a.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on stream close")
	}
}
