package protocol

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/connhealth/probe/pkg/logging"
	"github.com/connhealth/probe/pkg/oplog"
	"github.com/connhealth/probe/pkg/registry"
)

func testLogger(t *testing.T) *logging.ColoredLogger {
	t.Helper()
	logger, err := logging.NewColoredLogger(logging.ComponentProtocol, false)
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return logger
}

func testHost(t *testing.T) host.Host {
	t.Helper()
	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func connect(t *testing.T, a, b host.Host) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.Connect(ctx, peer.AddrInfo{ID: b.ID(), Addrs: b.Addrs()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
}

func TestExchange(t *testing.T) {
	ha := testHost(t)
	hb := testHost(t)
	connect(t, ha, hb)

	logA := testLogger(t)
	logB := testLogger(t)

	opsA, err := oplog.Open(t.TempDir(), logA)
	if err != nil {
		t.Fatalf("oplog: %v", err)
	}
	defer opsA.Close()

	regA := registry.New(30 * time.Second)
	regB := registry.New(30 * time.Second)

	NewHandler(hb, regB, nil, logB, 5*time.Second).Register()

	h := NewHandler(ha, regA, opsA, logA, 5*time.Second)
	regA.MarkConnected(hb.ID(), nil)
	h.Exchange(context.Background(), hb.ID())

	rec, ok := regA.Get(hb.ID())
	if !ok {
		t.Fatal("peer missing from registry")
	}
	if rec.OpAcked == nil || !*rec.OpAcked {
		t.Fatalf("OpAcked = %v, want true", rec.OpAcked)
	}

	entries, err := opsA.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("op log entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Direction != oplog.DirectionOutbound || e.Kind != "ConnProbe" || !e.Acked {
		t.Fatalf("entry = %+v", e)
	}
}

func TestExchangeMissingAckKeepsConnection(t *testing.T) {
	ha := testHost(t)
	hb := testHost(t)
	connect(t, ha, hb)

	// Remote accepts the stream but never acknowledges.
	hb.SetStreamHandler(ID, func(s network.Stream) {
		var msg Message
		_ = json.NewDecoder(s).Decode(&msg)
		s.Close()
	})

	regA := registry.New(30 * time.Second)
	regA.MarkConnected(hb.ID(), nil)

	h := NewHandler(ha, regA, nil, testLogger(t), 2*time.Second)
	h.Exchange(context.Background(), hb.ID())

	rec, _ := regA.Get(hb.ID())
	if rec.OpAcked == nil || *rec.OpAcked {
		t.Fatalf("OpAcked = %v, want false", rec.OpAcked)
	}
	// Degraded, not disconnected.
	if rec.State != registry.StateConnected {
		t.Fatalf("state = %s, want %s", rec.State, registry.StateConnected)
	}
}

func TestInboundHandlerAcks(t *testing.T) {
	ha := testHost(t)
	hb := testHost(t)
	connect(t, ha, hb)

	logB := testLogger(t)
	opsB, err := oplog.Open(t.TempDir(), logB)
	if err != nil {
		t.Fatalf("oplog: %v", err)
	}
	defer opsB.Close()

	regB := registry.New(30 * time.Second)
	NewHandler(hb, regB, opsB, logB, 5*time.Second).Register()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := ha.NewStream(ctx, hb.ID(), ID)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer s.Close()

	op := NewProbeOp("op-1", ha.ID().String(), time.Now())
	submit := Message{Type: KindOpSubmit, Op: &op}
	if err := json.NewEncoder(s).Encode(&submit); err != nil {
		t.Fatalf("encode: %v", err)
	}

	var resp Message
	if err := json.NewDecoder(s).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Type != KindOpAck || resp.Ack == nil {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Ack.OpID != "op-1" || !resp.Ack.OK {
		t.Fatalf("ack = %+v", resp.Ack)
	}

	entries, err := opsB.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Direction != oplog.DirectionInbound {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestNewProbeOp(t *testing.T) {
	now := time.Now()
	op := NewProbeOp("op-1", "actor-1", now)
	if op.Kind != "ConnProbe" || op.Entity != "health" {
		t.Fatalf("op = %+v", op)
	}
	if op.CreatedAtMs != now.UnixMilli() {
		t.Fatalf("created_at = %d", op.CreatedAtMs)
	}
}
