package node

import (
	"context"
	"encoding/json"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"go.uber.org/zap"

	"github.com/connhealth/probe/pkg/logging"
	"github.com/connhealth/probe/pkg/registry"
)

const presenceTopicName = "connhealth/presence"

// presenceRecord is the health snapshot a node gossips about itself.
type presenceRecord struct {
	PeerID string                  `json:"peer_id"`
	Role   string                  `json:"role"`
	Health registry.HealthSnapshot `json:"health"`
	SentMs int64                   `json:"sent_ms"`
}

// presenceAnnouncer publishes this node's health snapshot on a gossip
// topic each health interval and logs what other probes report about
// themselves. Purely informational; remote records are never fed back
// into the registry.
type presenceAnnouncer struct {
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *logging.ColoredLogger
}

// startPresence wires GossipSub when presence announcements are enabled.
func (n *Node) startPresence(ctx context.Context) {
	if !n.config.Discovery.EnablePresence {
		return
	}

	ps, err := pubsub.NewGossipSub(ctx, n.host)
	if err != nil {
		n.logger.ComponentWarn(logging.ComponentLibP2P, "Failed to create pubsub", zap.Error(err))
		return
	}
	topic, err := ps.Join(presenceTopicName)
	if err != nil {
		n.logger.ComponentWarn(logging.ComponentLibP2P, "Failed to join presence topic", zap.Error(err))
		return
	}
	sub, err := topic.Subscribe()
	if err != nil {
		n.logger.ComponentWarn(logging.ComponentLibP2P, "Failed to subscribe to presence topic", zap.Error(err))
		return
	}

	n.presence = &presenceAnnouncer{topic: topic, sub: sub, logger: n.logger}
	go n.presence.readLoop(ctx, n.GetPeerID())
	go n.presenceLoop(ctx)

	n.logger.ComponentInfo(logging.ComponentLibP2P, "Presence announcements enabled",
		zap.String("topic", presenceTopicName))
}

func (n *Node) presenceLoop(ctx context.Context) {
	ticker := time.NewTicker(n.config.Health.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rec := presenceRecord{
				PeerID: n.GetPeerID(),
				Role:   string(n.config.Node.Role),
				Health: n.reg.Snapshot(),
				SentMs: time.Now().UnixMilli(),
			}
			data, err := json.Marshal(&rec)
			if err != nil {
				continue
			}
			if err := n.presence.topic.Publish(ctx, data); err != nil {
				n.logger.ComponentDebug(logging.ComponentLibP2P, "Presence publish failed", zap.Error(err))
			}
		}
	}
}

func (p *presenceAnnouncer) readLoop(ctx context.Context, selfID string) {
	for {
		msg, err := p.sub.Next(ctx)
		if err != nil {
			return
		}
		var rec presenceRecord
		if err := json.Unmarshal(msg.Data, &rec); err != nil {
			continue
		}
		if rec.PeerID == selfID {
			continue
		}
		p.logger.ComponentDebug(logging.ComponentHealth, "Remote probe health",
			zap.String("peer", rec.PeerID),
			zap.String("role", rec.Role),
			zap.Int("connected", rec.Health.Connected))
	}
}
