package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/connhealth/probe/pkg/config"
	"github.com/connhealth/probe/pkg/logging"
	"github.com/connhealth/probe/pkg/node"
)

// setup_logger initializes a logger for the given component.
func setup_logger(component logging.Component) *logging.ColoredLogger {
	logger, err := logging.NewColoredLogger(component, true)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	return logger
}

func main() {
	configPath := flag.String("config", "", "Path to config YAML file (overrides defaults)")
	role := flag.String("role", "client", "Node role: gateway or client")
	listen := flag.String("listen", "", "LibP2P listen multiaddr (e.g. /ip4/0.0.0.0/tcp/4001)")
	dataDir := flag.String("data", "", "Data directory (identity key and op log)")
	bootstrap := flag.String("bootstrap", "", "Comma-separated bootstrap peer multiaddrs")
	bootstrapFile := flag.String("bootstrap-file", "", "File containing one bootstrap multiaddr per line (e.g. a gateway's peer.info)")
	apiListen := flag.String("api-listen", "", "Local status API address (host:port), empty for default")
	noMDNS := flag.Bool("no-mdns", false, "Disable mDNS local discovery")
	noDHT := flag.Bool("no-dht", false, "Disable Kademlia DHT discovery")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help {
		flag.Usage()
		return
	}

	logger := setup_logger(logging.ComponentNode)

	cfg, err := loadConfig(*configPath, config.Role(*role))
	if err != nil {
		logger.Error("Failed to load config", zap.Error(err))
		os.Exit(1)
	}

	applyFlagOverrides(cfg, *listen, *dataDir, *bootstrap, *bootstrapFile, *apiListen, *noMDNS, *noDHT, logger)

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			logger.Error("Invalid configuration", zap.Error(e))
		}
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runProbe(ctx, cfg, logger); err != nil {
		logger.Error("Probe exited with error", zap.Error(err))
		os.Exit(1)
	}
}

// loadConfig reads the named config file over role defaults. With no
// explicit path, ~/.connhealth/probe.yaml is used when present.
func loadConfig(path string, role config.Role) (*config.Config, error) {
	if path == "" {
		def, err := config.DefaultPath("probe.yaml")
		if err != nil {
			return config.Default(role), nil
		}
		if _, err := os.Stat(def); err != nil {
			return config.Default(role), nil
		}
		path = def
	}
	return config.LoadFromFile(path, role)
}

// applyFlagOverrides applies command line argument overrides to the config.
func applyFlagOverrides(cfg *config.Config, listen, dataDir, bootstrap, bootstrapFile, apiListen string, noMDNS, noDHT bool, logger *logging.ColoredLogger) {
	if listen != "" {
		cfg.Node.ListenAddresses = []string{listen}
		logger.ComponentInfo(logging.ComponentNode, "Overriding listen address", zap.String("addr", listen))
	}
	if dataDir != "" {
		cfg.Node.DataDir = dataDir
	}
	if bootstrap != "" {
		cfg.Discovery.BootstrapPeers = append(cfg.Discovery.BootstrapPeers, strings.Split(bootstrap, ",")...)
	}
	if bootstrapFile != "" {
		addrs, err := readBootstrapFile(bootstrapFile)
		if err != nil {
			logger.ComponentWarn(logging.ComponentNode, "Failed to read bootstrap file",
				zap.String("path", bootstrapFile),
				zap.Error(err))
		} else {
			cfg.Discovery.BootstrapPeers = append(cfg.Discovery.BootstrapPeers, addrs...)
		}
	}
	if apiListen != "" {
		cfg.Health.APIListen = apiListen
	}
	if noMDNS {
		cfg.Discovery.EnableMDNS = false
	}
	if noDHT {
		cfg.Discovery.EnableDHT = false
	}
}

// readBootstrapFile reads bootstrap multiaddrs from a shared file, one per
// line. This is how clients pick up a gateway's identity without static
// configuration.
func readBootstrapFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var addrs []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addrs = append(addrs, line)
	}
	return addrs, nil
}

func runProbe(ctx context.Context, cfg *config.Config, logger *logging.ColoredLogger) error {
	n, err := node.NewNode(cfg)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}

	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	// Save this node's multiaddrs for other probes to bootstrap from.
	writePeerInfo(cfg, n.GetPeerID(), n.ListenAddrs(), logger)

	<-ctx.Done()
	return n.Stop()
}

// writePeerInfo saves the node's bootstrap multiaddrs to peer.info in the
// data directory so other probes can pass it via -bootstrap-file. The
// addresses come from the running host: with a port-0 listen config the
// bound port is only known after start.
func writePeerInfo(cfg *config.Config, peerID string, listenAddrs []string, logger *logging.ColoredLogger) {
	lines := peerInfoLines(peerID, listenAddrs)
	if len(lines) == 0 {
		return
	}
	peerInfoFile := filepath.Join(cfg.Node.DataDir, "peer.info")

	if err := os.WriteFile(peerInfoFile, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		logger.ComponentWarn(logging.ComponentNode, "Failed to save peer info", zap.Error(err))
		return
	}
	logger.ComponentInfo(logging.ComponentNode, "Peer info saved",
		zap.String("path", peerInfoFile),
		zap.Strings("multiaddrs", lines))
}

// peerInfoLines builds one dialable /p2p/ multiaddr per bound address.
func peerInfoLines(peerID string, listenAddrs []string) []string {
	if peerID == "" {
		return nil
	}
	var lines []string
	for _, addr := range listenAddrs {
		if addr == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s/p2p/%s", addr, peerID))
	}
	return lines
}
