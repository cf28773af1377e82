package node

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	noise "github.com/libp2p/go-libp2p/p2p/security/noise"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/connhealth/probe/pkg/api"
	"github.com/connhealth/probe/pkg/config"
	"github.com/connhealth/probe/pkg/discovery"
	"github.com/connhealth/probe/pkg/identity"
	"github.com/connhealth/probe/pkg/logging"
	"github.com/connhealth/probe/pkg/oplog"
	"github.com/connhealth/probe/pkg/protocol"
	"github.com/connhealth/probe/pkg/registry"
)

// Node is a connection-health probe: a libp2p host that discovers peers
// over mDNS and the Kademlia DHT, dials them with a per-peer cooldown, and
// reports aggregate connectivity health.
type Node struct {
	config *config.Config
	logger *logging.ColoredLogger

	host      host.Host
	dht       *dht.IpfsDHT
	reg       *registry.Registry
	agg       *discovery.Aggregator
	scheduler *discovery.DialScheduler
	tracker   *lifecycleTracker
	opHandler *protocol.Handler
	ops       *oplog.Log
	apiServer *api.Server
	mdnsSvc   mdns.Service
	presence  *presenceAnnouncer

	dials  chan discovery.DialRequest
	cancel context.CancelFunc
}

// NewNode creates a new probe node.
func NewNode(cfg *config.Config) (*Node, error) {
	logger, err := logging.NewColoredLogger(logging.ComponentNode, cfg.Logging.Colors)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return &Node{
		config: cfg,
		logger: logger,
		dials:  make(chan discovery.DialRequest, 32),
	}, nil
}

// Start brings up the host, discovery sources and background flows.
func (n *Node) Start(ctx context.Context) error {
	n.logger.ComponentInfo(logging.ComponentNode, "Starting probe node",
		zap.String("role", string(n.config.Node.Role)),
		zap.String("data_dir", n.config.Node.DataDir))

	if err := os.MkdirAll(n.config.Node.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	if err := n.startLibP2P(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start LibP2P: %w", err)
	}

	n.startOpLog()
	n.startProtocol()
	n.startLifecycleTracker(runCtx)
	n.startDiscovery(runCtx)
	n.startDialer(runCtx)
	n.connectToBootstrapPeers(runCtx)
	n.startHealthReporter(runCtx)
	n.startPresence(runCtx)
	n.startAPI()

	var listenAddrs []string
	for _, addr := range n.host.Addrs() {
		listenAddrs = append(listenAddrs, addr.String())
	}
	n.logger.ComponentInfo(logging.ComponentNode, "Probe node started",
		zap.String("peer_id", n.host.ID().String()),
		zap.Strings("listen_addrs", listenAddrs))

	return nil
}

// startLibP2P builds the host, registry and DHT.
func (n *Node) startLibP2P(ctx context.Context) error {
	n.logger.ComponentInfo(logging.ComponentLibP2P, "Starting LibP2P host")

	listenAddrs, err := n.config.ParseMultiaddrs()
	if err != nil {
		return fmt.Errorf("failed to parse listen addresses: %w", err)
	}

	ident, err := identity.LoadOrCreate(n.config.Node.DataDir)
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}
	n.logger.ComponentInfo(logging.ComponentLibP2P, "Loaded identity",
		zap.String("peer_id", ident.PeerID.String()))

	h, err := libp2p.New(
		libp2p.Identity(ident.PrivateKey),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(libp2pquic.NewTransport),
		libp2p.DefaultMuxers,
	)
	if err != nil {
		return err
	}
	n.host = h

	n.reg = registry.New(n.config.Discovery.DialCooldown)
	n.reg.SetLocalInfo(h.ID(), string(n.config.Node.Role),
		n.config.Node.ListenAddresses, n.config.Discovery.BootstrapPeers)

	if n.config.Discovery.EnableDHT {
		// Gateways serve the DHT, clients only query it.
		mode := dht.ModeClient
		if n.config.Node.Role == config.RoleGateway {
			mode = dht.ModeServer
		}
		kad, err := dht.New(ctx, h, dht.Mode(mode))
		if err != nil {
			return fmt.Errorf("failed to create DHT: %w", err)
		}
		n.dht = kad
	}

	return nil
}

func (n *Node) startOpLog() {
	ops, err := oplog.Open(n.config.Node.DataDir, n.logger)
	if err != nil {
		// The op log is observational; run without it rather than fail.
		n.logger.ComponentWarn(logging.ComponentOpLog, "Op log unavailable", zap.Error(err))
		return
	}
	n.ops = ops
}

func (n *Node) startProtocol() {
	n.opHandler = protocol.NewHandler(n.host, n.reg, n.ops, n.logger, n.config.Protocol.OpTimeout)
	n.opHandler.Register()
}

// startDiscovery wires the enabled discovery sources into the aggregator
// and starts the dial scheduler on its event stream.
func (n *Node) startDiscovery(ctx context.Context) {
	n.agg = discovery.NewAggregator(n.logger)
	n.scheduler = discovery.NewDialScheduler(n.reg, n.logger)

	if n.config.Discovery.EnableMDNS {
		svc, err := n.agg.StartMDNS(n.host, n.config.Discovery.MDNSServiceTag)
		if err != nil {
			n.logger.ComponentWarn(logging.ComponentMDNS, "Failed to start mDNS discovery", zap.Error(err))
		} else {
			n.mdnsSvc = svc
		}
	}

	if n.dht != nil {
		n.agg.StartDHTSweeper(ctx, n.host, n.dht, n.config.Discovery.DHTSweepInterval)
	}

	go n.scheduler.Run(ctx, n.agg.Events(), n.dials)
}

// connectToBootstrapPeers seeds the peerstore and DHT routing table with
// the configured bootstrap peers and connects to them. Bootstrap peers get
// no special casing beyond being the first seed; once the routing table
// carries them, they flow through the same discovery path as anyone else.
func (n *Node) connectToBootstrapPeers(ctx context.Context) {
	if len(n.config.Discovery.BootstrapPeers) == 0 {
		n.logger.ComponentDebug(logging.ComponentDHT, "No bootstrap peers configured")
		return
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, bootstrapAddr := range n.config.Discovery.BootstrapPeers {
		ma, err := multiaddr.NewMultiaddr(bootstrapAddr)
		if err != nil {
			n.logger.ComponentWarn(logging.ComponentDHT, "Invalid bootstrap multiaddr",
				zap.String("addr", bootstrapAddr),
				zap.Error(err))
			continue
		}
		peerInfo, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			n.logger.ComponentWarn(logging.ComponentDHT, "Bootstrap multiaddr missing peer identity",
				zap.String("addr", bootstrapAddr),
				zap.Error(err))
			continue
		}
		if peerInfo.ID == n.host.ID() {
			continue
		}

		n.host.Peerstore().AddAddrs(peerInfo.ID, peerInfo.Addrs, 24*time.Hour)

		if err := n.host.Connect(connectCtx, *peerInfo); err != nil {
			n.logger.ComponentWarn(logging.ComponentDHT, "Failed to connect to bootstrap peer",
				zap.String("addr", bootstrapAddr),
				zap.Error(err))
		} else {
			n.logger.ComponentInfo(logging.ComponentDHT, "Connected to bootstrap peer",
				zap.String("peer", peerInfo.ID.String()))
		}

		if n.dht != nil {
			if _, err := n.dht.RoutingTable().TryAddPeer(peerInfo.ID, true, true); err != nil {
				n.logger.ComponentDebug(logging.ComponentDHT, "Failed to add bootstrap peer to routing table",
					zap.String("peer", peerInfo.ID.String()),
					zap.Error(err))
			}
		}
	}

	if n.dht != nil {
		if err := n.dht.Bootstrap(ctx); err != nil {
			n.logger.ComponentWarn(logging.ComponentDHT, "Failed to bootstrap DHT", zap.Error(err))
		} else {
			n.logger.ComponentInfo(logging.ComponentDHT, "DHT bootstrap initiated")
		}
	}
}

func (n *Node) startAPI() {
	if n.config.Health.APIListen == "" {
		return
	}
	n.apiServer = api.New(n.config.Health.APIListen, n.reg, n.ops, n.logger)
	n.apiServer.Start()
}

// Registry exposes the peer registry, mainly for tests and the API.
func (n *Node) Registry() *registry.Registry {
	return n.reg
}

// GetPeerID returns the peer ID of this node.
func (n *Node) GetPeerID() string {
	if n.host == nil {
		return ""
	}
	return n.host.ID().String()
}

// ListenAddrs returns the addresses the host actually bound, which differ
// from the configured ones when the listen port is 0.
func (n *Node) ListenAddrs() []string {
	if n.host == nil {
		return nil
	}
	var out []string
	for _, a := range n.host.Addrs() {
		out = append(out, a.String())
	}
	return out
}

// Stop stops the node and all its background flows.
func (n *Node) Stop() error {
	n.logger.ComponentInfo(logging.ComponentNode, "Stopping probe node")

	if n.cancel != nil {
		n.cancel()
	}
	if n.apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = n.apiServer.Stop(shutdownCtx)
		cancel()
	}
	if n.mdnsSvc != nil {
		_ = n.mdnsSvc.Close()
	}
	if n.agg != nil {
		n.agg.Close()
	}
	if n.dht != nil {
		_ = n.dht.Close()
	}
	if n.host != nil {
		_ = n.host.Close()
	}
	if n.ops != nil {
		_ = n.ops.Close()
	}

	n.logger.ComponentInfo(logging.ComponentNode, "Probe node stopped")
	return nil
}
