package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/connhealth/probe/pkg/logging"
	"github.com/connhealth/probe/pkg/oplog"
	"github.com/connhealth/probe/pkg/registry"
)

// Handler performs the one-shot submit/acknowledge exchange on newly
// established connections and serves the inbound side of the protocol.
// The exchange validates that the application channel atop the transport
// works; its outcome is recorded as an observation only and never touches
// connection state.
type Handler struct {
	host    host.Host
	reg     *registry.Registry
	ops     *oplog.Log // may be nil
	logger  *logging.ColoredLogger
	timeout time.Duration
}

// NewHandler creates the op protocol handler. ops may be nil when op log
// persistence is disabled.
func NewHandler(h host.Host, reg *registry.Registry, ops *oplog.Log, logger *logging.ColoredLogger, timeout time.Duration) *Handler {
	return &Handler{
		host:    h,
		reg:     reg,
		ops:     ops,
		logger:  logger,
		timeout: timeout,
	}
}

// Register installs the inbound stream handler on the host.
func (h *Handler) Register() {
	h.host.SetStreamHandler(ID, h.handleStream)
}

// handleStream serves one inbound exchange: read an OpSubmit, acknowledge
// it. Malformed frames are dropped along with the stream; the remote's
// timeout covers us.
func (h *Handler) handleStream(s network.Stream) {
	defer s.Close()
	remote := s.Conn().RemotePeer()

	_ = s.SetDeadline(time.Now().Add(h.timeout))

	var msg Message
	if err := json.NewDecoder(s).Decode(&msg); err != nil {
		h.logger.ComponentDebug(logging.ComponentProtocol, "Dropping malformed op stream",
			zap.String("peer", remote.String()),
			zap.Error(err))
		return
	}
	if msg.Type != KindOpSubmit || msg.Op == nil {
		h.logger.ComponentDebug(logging.ComponentProtocol, "Unexpected message on op stream",
			zap.String("peer", remote.String()),
			zap.String("type", msg.Type))
		return
	}

	h.logger.ComponentInfo(logging.ComponentProtocol, "Received op submit",
		zap.String("peer", remote.String()),
		zap.String("op_id", msg.Op.OpID))

	h.appendOp(*msg.Op, remote.String(), oplog.DirectionInbound, true)

	ack := Message{
		Type: KindOpAck,
		Ack:  &Ack{OpID: msg.Op.OpID, OK: true, Msg: "processed"},
	}
	if err := json.NewEncoder(s).Encode(&ack); err != nil {
		h.logger.ComponentWarn(logging.ComponentProtocol, "Failed to send op ack",
			zap.String("peer", remote.String()),
			zap.Error(err))
	}
}

// Exchange runs the outbound side against a freshly connected peer: send
// one OpSubmit, await one OpAck bounded by the configured timeout. A
// missing or invalid ack is a degraded-but-connected condition; the
// connection is left alone and the exchange is not retried on it.
func (h *Handler) Exchange(ctx context.Context, p peer.ID) {
	ok, err := h.exchange(ctx, p)
	h.reg.MarkOpResult(p, ok)
	if err != nil {
		h.logger.ComponentWarn(logging.ComponentProtocol, "Op exchange incomplete, connection degraded but kept",
			zap.String("peer", p.String()),
			zap.Error(err))
		return
	}
	h.logger.ComponentInfo(logging.ComponentProtocol, "Op exchange acknowledged",
		zap.String("peer", p.String()))
}

func (h *Handler) exchange(ctx context.Context, p peer.ID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	s, err := h.host.NewStream(ctx, p, ID)
	if err != nil {
		return false, fmt.Errorf("failed to open op stream: %w", err)
	}
	defer s.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(dl)
	}

	op := NewProbeOp(uuid.NewString(), h.host.ID().String(), time.Now())
	submit := Message{Type: KindOpSubmit, Op: &op}
	if err := json.NewEncoder(s).Encode(&submit); err != nil {
		return false, fmt.Errorf("failed to send op submit: %w", err)
	}
	h.appendOp(op, p.String(), oplog.DirectionOutbound, false)

	var resp Message
	if err := json.NewDecoder(s).Decode(&resp); err != nil {
		if err == io.EOF {
			return false, fmt.Errorf("op stream closed before ack")
		}
		return false, fmt.Errorf("failed to read op ack: %w", err)
	}
	if resp.Type != KindOpAck || resp.Ack == nil {
		return false, fmt.Errorf("unexpected response type %q", resp.Type)
	}
	if resp.Ack.OpID != op.OpID {
		return false, fmt.Errorf("ack op id mismatch: got %s want %s", resp.Ack.OpID, op.OpID)
	}
	if !resp.Ack.OK {
		return false, fmt.Errorf("op rejected: %s", resp.Ack.Msg)
	}

	h.markAcked(op.OpID, true)
	return true, nil
}

func (h *Handler) appendOp(op Op, peerID string, dir oplog.Direction, acked bool) {
	if h.ops == nil {
		return
	}
	err := h.ops.Append(oplog.Entry{
		OpID:      op.OpID,
		PeerID:    peerID,
		Direction: dir,
		Kind:      op.Kind,
		Entity:    op.Entity,
		Acked:     acked,
		CreatedAt: time.UnixMilli(op.CreatedAtMs),
	})
	if err != nil {
		h.logger.ComponentWarn(logging.ComponentOpLog, "Failed to append op", zap.Error(err))
	}
}

func (h *Handler) markAcked(opID string, ok bool) {
	if h.ops == nil {
		return
	}
	if err := h.ops.MarkAcked(opID, ok); err != nil {
		h.logger.ComponentWarn(logging.ComponentOpLog, "Failed to mark op acked", zap.Error(err))
	}
}
