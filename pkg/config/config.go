package config

import (
	"time"

	"github.com/multiformats/go-multiaddr"
)

// Role selects which discovery/bootstrap behavior is active.
type Role string

const (
	RoleGateway Role = "gateway"
	RoleClient  Role = "client"
)

// Config represents the full configuration for a probe node
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Health    HealthConfig    `yaml:"health"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// NodeConfig contains node-specific configuration
type NodeConfig struct {
	Role            Role     `yaml:"role"`             // gateway | client
	ListenAddresses []string `yaml:"listen_addresses"` // LibP2P listen multiaddrs
	DataDir         string   `yaml:"data_dir"`         // Identity key and op log live here
}

// DiscoveryConfig contains peer discovery configuration
type DiscoveryConfig struct {
	BootstrapPeers   []string      `yaml:"bootstrap_peers"`    // Multiaddrs with /p2p/ suffix
	EnableMDNS       bool          `yaml:"enable_mdns"`        // Local-network discovery
	EnableDHT        bool          `yaml:"enable_dht"`         // Kademlia discovery
	EnablePresence   bool          `yaml:"enable_presence"`    // Gossip health announcements
	MDNSServiceTag   string        `yaml:"mdns_service_tag"`   // mDNS service name
	DHTSweepInterval time.Duration `yaml:"dht_sweep_interval"` // Routing table sweep cadence
	DialCooldown     time.Duration `yaml:"dial_cooldown"`      // Minimum gap between dials to one peer
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`  // Warn when still isolated after this
}

// HealthConfig contains health reporting configuration
type HealthConfig struct {
	Interval  time.Duration `yaml:"interval"`   // Health snapshot cadence
	APIListen string        `yaml:"api_listen"` // Local HTTP status API address, empty disables
}

// ProtocolConfig contains op exchange configuration
type ProtocolConfig struct {
	OpTimeout time.Duration `yaml:"op_timeout"` // Bound on the OpAck wait
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Colors bool `yaml:"colors"`
}

// Default returns the configuration defaults for a role.
func Default(role Role) *Config {
	cfg := &Config{
		Node: NodeConfig{
			Role:            role,
			ListenAddresses: []string{"/ip4/0.0.0.0/tcp/0"},
			DataDir:         "./data",
		},
		Discovery: DiscoveryConfig{
			EnableMDNS:       true,
			EnableDHT:        true,
			EnablePresence:   false,
			MDNSServiceTag:   "connhealth",
			DHTSweepInterval: 5 * time.Second,
			DialCooldown:     30 * time.Second,
			DiscoveryTimeout: 60 * time.Second,
		},
		Health: HealthConfig{
			Interval:  10 * time.Second,
			APIListen: "127.0.0.1:8080",
		},
		Protocol: ProtocolConfig{
			OpTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Colors: true,
		},
	}

	if role == RoleGateway {
		cfg.Node.ListenAddresses = []string{"/ip4/0.0.0.0/tcp/4001"}
	}

	return cfg
}

// ParseMultiaddrs parses the configured listen addresses.
func (c *Config) ParseMultiaddrs() ([]multiaddr.Multiaddr, error) {
	addrs := make([]multiaddr.Multiaddr, 0, len(c.Node.ListenAddresses))
	for _, s := range c.Node.ListenAddresses {
		ma, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, ma)
	}
	return addrs, nil
}
