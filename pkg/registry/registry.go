package registry

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// Source tags which discovery mechanism reported a peer.
type Source string

const (
	SourceMDNS Source = "mdns"
	SourceDHT  Source = "kad"
)

// ConnState is the connection state of a known peer.
//
// Records start in StateDiscovered and cycle through
// Dialing -> Connected -> Closed for the process lifetime; there is no
// terminal state and records are never removed.
type ConnState string

const (
	StateDiscovered ConnState = "discovered"
	StateDialing    ConnState = "dialing"
	StateConnected  ConnState = "connected"
	StateClosed     ConnState = "closed"
)

// PeerRecord is the registry's view of a single peer. Values returned by
// the registry are copies; all mutation goes through registry methods.
type PeerRecord struct {
	ID           peer.ID
	Addrs        []multiaddr.Multiaddr // deduplicated, most recently observed last
	Provenance   map[Source]time.Time  // source -> last seen
	State        ConnState
	LastDialAt   time.Time
	BackoffUntil time.Time
	OpAcked      *bool // nil until an op exchange completes or times out
	LastSeen     time.Time
}

// HealthSnapshot is an immutable point-in-time read of the registry
// counters. Discovery counts are derived from provenance, so they never
// decrease during the process lifetime.
type HealthSnapshot struct {
	Connected      int           `json:"connected"`
	MDNSDiscovered int           `json:"mdns_discovered"`
	KadDiscovered  int           `json:"kad_discovered"`
	Uptime         time.Duration `json:"uptime"`
}

// Registry is the authoritative map of known peers. It is the single
// shared mutable resource between the discovery, dialing, lifecycle and
// reporting flows; every read and mutation happens under one mutex so
// per-record transitions are atomic.
type Registry struct {
	mu       sync.Mutex
	peers    map[peer.ID]*PeerRecord
	cooldown time.Duration
	clock    clock.Clock
	started  time.Time

	localID   peer.ID
	role      string
	listen    []string
	bootstrap []bootstrapPeer
}

type bootstrapPeer struct {
	multiaddr string
	peerID    peer.ID
}

// New creates a registry enforcing the given dial cooldown.
func New(cooldown time.Duration) *Registry {
	return NewWithClock(cooldown, clock.New())
}

// NewWithClock creates a registry with an injected clock, used by tests to
// step through backoff windows deterministically.
func NewWithClock(cooldown time.Duration, clk clock.Clock) *Registry {
	return &Registry{
		peers:    make(map[peer.ID]*PeerRecord),
		cooldown: cooldown,
		clock:    clk,
		started:  clk.Now(),
	}
}

// SetLocalInfo records the local node's identity and static configuration
// for network snapshots.
func (r *Registry) SetLocalInfo(id peer.ID, role string, listen []string, bootstrapAddrs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.localID = id
	r.role = role
	r.listen = append([]string(nil), listen...)
	r.bootstrap = r.bootstrap[:0]
	for _, s := range bootstrapAddrs {
		bp := bootstrapPeer{multiaddr: s}
		if ma, err := multiaddr.NewMultiaddr(s); err == nil {
			if info, err := peer.AddrInfoFromP2pAddr(ma); err == nil {
				bp.peerID = info.ID
			}
		}
		r.bootstrap = append(r.bootstrap, bp)
	}
}

// Cooldown returns the configured dial cooldown.
func (r *Registry) Cooldown() time.Duration {
	return r.cooldown
}

// Observe merges one discovery observation into the registry, creating the
// record on first sight. Duplicate observations are expected; the address
// set is deduplicated here and provenance keeps only the latest timestamp
// per source.
func (r *Registry) Observe(p peer.ID, source Source, addrs []multiaddr.Multiaddr, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p == r.localID {
		return
	}

	rec := r.peers[p]
	if rec == nil {
		rec = &PeerRecord{
			ID:         p,
			Provenance: make(map[Source]time.Time),
			State:      StateDiscovered,
		}
		r.peers[p] = rec
	}

	rec.Provenance[source] = at
	rec.LastSeen = at

	for _, a := range addrs {
		if a == nil {
			continue
		}
		dup := false
		for i, known := range rec.Addrs {
			if known.Equal(a) {
				// Re-observed: move to the end so address preference
				// tracks recency.
				rec.Addrs = append(append(rec.Addrs[:i:i], rec.Addrs[i+1:]...), a)
				dup = true
				break
			}
		}
		if !dup {
			rec.Addrs = append(rec.Addrs, a)
		}
	}
}

// BeginDial atomically checks the dial preconditions for a peer and, when
// they pass, transitions it to Dialing, stamps the attempt time and arms
// the cooldown window. The window is armed on attempt, not on outcome, so
// a peer is dialed at most once per cooldown regardless of how the dial
// goes. Returns the peer's addresses most-recently-observed first, and
// false when no dial may be issued.
func (r *Registry) BeginDial(p peer.ID) ([]multiaddr.Multiaddr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.peers[p]
	if rec == nil || len(rec.Addrs) == 0 {
		return nil, false
	}
	if rec.State == StateConnected || rec.State == StateDialing {
		return nil, false
	}
	now := r.clock.Now()
	if now.Before(rec.BackoffUntil) {
		return nil, false
	}

	rec.State = StateDialing
	rec.LastDialAt = now
	rec.BackoffUntil = now.Add(r.cooldown)

	// Most recently observed address first.
	addrs := make([]multiaddr.Multiaddr, 0, len(rec.Addrs))
	for i := len(rec.Addrs) - 1; i >= 0; i-- {
		addrs = append(addrs, rec.Addrs[i])
	}
	return addrs, true
}

// MarkConnected records an established connection and reports whether the
// peer newly entered the Connected state. It is idempotent and also
// handles inbound connections from peers no discovery source has reported
// yet, creating their record on the spot.
func (r *Registry) MarkConnected(p peer.ID, addr multiaddr.Multiaddr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p == r.localID {
		return false
	}

	rec := r.peers[p]
	if rec == nil {
		rec = &PeerRecord{
			ID:         p,
			Provenance: make(map[Source]time.Time),
		}
		r.peers[p] = rec
	}
	if addr != nil {
		dup := false
		for _, known := range rec.Addrs {
			if known.Equal(addr) {
				dup = true
				break
			}
		}
		if !dup {
			rec.Addrs = append(rec.Addrs, addr)
		}
	}
	became := rec.State != StateConnected
	rec.State = StateConnected
	rec.LastSeen = r.clock.Now()
	return became
}

// MarkDialFailed records a dial that the transport could not complete.
// The armed backoff window stays in place; the next eligible attempt waits
// it out.
func (r *Registry) MarkDialFailed(p peer.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.peers[p]
	if rec == nil || rec.State != StateDialing {
		return
	}
	rec.State = StateClosed
}

// MarkClosed records a dropped connection.
func (r *Registry) MarkClosed(p peer.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.peers[p]
	if rec == nil {
		return
	}
	if rec.State == StateConnected || rec.State == StateDialing {
		rec.State = StateClosed
	}
}

// MarkOpResult records the outcome of the op exchange for a peer. This is
// observational only and never changes connection state.
func (r *Registry) MarkOpResult(p peer.ID, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.peers[p]
	if rec == nil {
		return
	}
	v := ok
	rec.OpAcked = &v
}

// Get returns a copy of the record for a peer, if known.
func (r *Registry) Get(p peer.ID) (PeerRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.peers[p]
	if rec == nil {
		return PeerRecord{}, false
	}
	return copyRecord(rec), true
}

// Snapshot derives the current health counters in one pass under the lock.
// Counts are computed from record state and provenance rather than kept in
// parallel counters, so they cannot drift.
func (r *Registry) Snapshot() HealthSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := HealthSnapshot{Uptime: r.clock.Since(r.started)}
	for _, rec := range r.peers {
		if rec.State == StateConnected {
			snap.Connected++
		}
		if _, ok := rec.Provenance[SourceMDNS]; ok {
			snap.MDNSDiscovered++
		}
		if _, ok := rec.Provenance[SourceDHT]; ok {
			snap.KadDiscovered++
		}
	}
	return snap
}

func copyRecord(rec *PeerRecord) PeerRecord {
	cp := PeerRecord{
		ID:           rec.ID,
		Addrs:        append([]multiaddr.Multiaddr(nil), rec.Addrs...),
		Provenance:   make(map[Source]time.Time, len(rec.Provenance)),
		State:        rec.State,
		LastDialAt:   rec.LastDialAt,
		BackoffUntil: rec.BackoffUntil,
		LastSeen:     rec.LastSeen,
	}
	for s, t := range rec.Provenance {
		cp.Provenance[s] = t
	}
	if rec.OpAcked != nil {
		v := *rec.OpAcked
		cp.OpAcked = &v
	}
	return cp
}
