package config

import (
	"fmt"
	"net"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// ValidationError represents a single validation error with context.
type ValidationError struct {
	Path    string // e.g., "discovery.bootstrap_peers[0]"
	Message string // e.g., "invalid multiaddr"
	Hint    string // e.g., "expected /ip4/<addr>/tcp/<port>/p2p/<peerID>"
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s; %s", e.Path, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate performs validation of the entire config. It aggregates all
// errors so the caller can print every issue at once.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateNode()...)
	errs = append(errs, c.validateDiscovery()...)
	errs = append(errs, c.validateHealth()...)
	errs = append(errs, c.validateProtocol()...)

	return errs
}

func (c *Config) validateNode() []error {
	var errs []error
	nc := c.Node

	if nc.Role != RoleGateway && nc.Role != RoleClient {
		errs = append(errs, ValidationError{
			Path:    "node.role",
			Message: fmt.Sprintf("unknown role %q", nc.Role),
			Hint:    "expected gateway or client",
		})
	}

	if len(nc.ListenAddresses) == 0 {
		errs = append(errs, ValidationError{
			Path:    "node.listen_addresses",
			Message: "must not be empty",
			Hint:    "e.g. /ip4/0.0.0.0/tcp/4001",
		})
	}
	for i, addr := range nc.ListenAddresses {
		if _, err := multiaddr.NewMultiaddr(addr); err != nil {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("node.listen_addresses[%d]", i),
				Message: "invalid multiaddr",
				Hint:    err.Error(),
			})
		}
	}

	if nc.DataDir == "" {
		errs = append(errs, ValidationError{
			Path:    "node.data_dir",
			Message: "must not be empty",
		})
	}

	return errs
}

func (c *Config) validateDiscovery() []error {
	var errs []error
	dc := c.Discovery

	for i, addr := range dc.BootstrapPeers {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("discovery.bootstrap_peers[%d]", i),
				Message: "invalid multiaddr",
				Hint:    err.Error(),
			})
			continue
		}
		if _, err := peer.AddrInfoFromP2pAddr(ma); err != nil {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("discovery.bootstrap_peers[%d]", i),
				Message: "missing /p2p/ peer identity",
				Hint:    "expected /ip4/<addr>/tcp/<port>/p2p/<peerID>",
			})
		}
	}

	if !dc.EnableMDNS && !dc.EnableDHT {
		errs = append(errs, ValidationError{
			Path:    "discovery",
			Message: "both mdns and dht discovery disabled",
			Hint:    "enable at least one discovery mechanism",
		})
	}

	if dc.DialCooldown < time.Second {
		errs = append(errs, ValidationError{
			Path:    "discovery.dial_cooldown",
			Message: "must be at least 1s",
		})
	}
	if dc.EnableDHT && dc.DHTSweepInterval < time.Second {
		errs = append(errs, ValidationError{
			Path:    "discovery.dht_sweep_interval",
			Message: "must be at least 1s",
		})
	}

	return errs
}

func (c *Config) validateHealth() []error {
	var errs []error
	hc := c.Health

	if hc.Interval < time.Second {
		errs = append(errs, ValidationError{
			Path:    "health.interval",
			Message: "must be at least 1s",
		})
	}
	if hc.APIListen != "" {
		if _, _, err := net.SplitHostPort(hc.APIListen); err != nil {
			errs = append(errs, ValidationError{
				Path:    "health.api_listen",
				Message: "invalid host:port",
				Hint:    err.Error(),
			})
		}
	}

	return errs
}

func (c *Config) validateProtocol() []error {
	var errs []error

	if c.Protocol.OpTimeout < time.Second {
		errs = append(errs, ValidationError{
			Path:    "protocol.op_timeout",
			Message: "must be at least 1s",
		})
	}

	return errs
}
