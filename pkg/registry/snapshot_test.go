package registry

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

func testPeerID(t *testing.T) peer.ID {
	t.Helper()
	_, pub, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		t.Fatalf("peer id: %v", err)
	}
	return id
}

func TestNetworkSnapshot(t *testing.T) {
	r := New(30 * time.Second)
	self := testPeerID(t)
	boot := testPeerID(t)
	other := testPeerID(t)

	bootAddr := "/ip4/10.0.0.1/tcp/4001/p2p/" + boot.String()
	r.SetLocalInfo(self, "client", []string{"/ip4/0.0.0.0/tcp/0"}, []string{bootAddr})

	a := mustAddr(t, "/ip4/10.0.0.1/tcp/4001")
	r.Observe(boot, SourceDHT, []multiaddr.Multiaddr{a}, time.Now())
	if _, ok := r.BeginDial(boot); !ok {
		t.Fatal("dial refused")
	}
	r.MarkConnected(boot, a)
	r.Observe(other, SourceMDNS, []multiaddr.Multiaddr{mustAddr(t, "/ip4/192.168.1.20/tcp/4001")}, time.Now())
	r.MarkOpResult(boot, true)

	snap := r.NetworkSnapshot()

	if snap.LocalPeerID != self.String() {
		t.Fatalf("local peer id = %s", snap.LocalPeerID)
	}
	if snap.Role != "client" {
		t.Fatalf("role = %s", snap.Role)
	}
	if len(snap.Peers) != 2 {
		t.Fatalf("peers = %d, want 2", len(snap.Peers))
	}

	var bootRow *PeerRow
	for i := range snap.Peers {
		if snap.Peers[i].PeerID == boot.String() {
			bootRow = &snap.Peers[i]
		}
	}
	if bootRow == nil {
		t.Fatal("bootstrap peer missing from snapshot")
	}
	if bootRow.State != string(StateConnected) {
		t.Fatalf("bootstrap state = %s", bootRow.State)
	}
	if len(bootRow.DiscoveredVia) != 1 || bootRow.DiscoveredVia[0] != string(SourceDHT) {
		t.Fatalf("discovered_via = %v", bootRow.DiscoveredVia)
	}
	if bootRow.OpAcked == nil || !*bootRow.OpAcked {
		t.Fatalf("op_acked = %v", bootRow.OpAcked)
	}

	if len(snap.BootstrapPeers) != 1 {
		t.Fatalf("bootstrap rows = %d", len(snap.BootstrapPeers))
	}
	row := snap.BootstrapPeers[0]
	if row.Multiaddr != bootAddr || row.PeerID != boot.String() {
		t.Fatalf("bootstrap row = %+v", row)
	}
	if !row.Connected {
		t.Fatal("bootstrap row not marked connected")
	}
}

func TestNetworkSnapshotSorted(t *testing.T) {
	r := New(30 * time.Second)
	for i := 0; i < 5; i++ {
		p := testPeerID(t)
		r.Observe(p, SourceMDNS, []multiaddr.Multiaddr{mustAddr(t, "/ip4/192.168.1.10/tcp/4001")}, time.Now())
	}

	snap := r.NetworkSnapshot()
	for i := 1; i < len(snap.Peers); i++ {
		if snap.Peers[i-1].PeerID > snap.Peers[i].PeerID {
			t.Fatal("peers not sorted by id")
		}
	}
}
