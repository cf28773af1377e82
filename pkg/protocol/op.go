package protocol

import (
	"time"
)

// ID is the libp2p protocol identifier for the op exchange.
const ID = "/connhealth/op/1.0.0"

// Message kinds on the wire. Frames are newline-delimited JSON.
const (
	KindOpSubmit = "op_submit"
	KindOpAck    = "op_ack"
)

// Op describes one submitted operation. The exchange exists to prove the
// application channel works, so the payload carries no meaning beyond
// identifying the exchange.
type Op struct {
	OpID        string `json:"op_id"`
	ActorID     string `json:"actor_id"`
	Kind        string `json:"kind"`
	Entity      string `json:"entity"`
	PayloadJSON string `json:"payload_json"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

// Ack acknowledges a previously submitted op.
type Ack struct {
	OpID string `json:"op_id"`
	OK   bool   `json:"ok"`
	Msg  string `json:"msg"`
}

// Message is one wire frame: exactly one of Op or Ack is set, selected by
// Type.
type Message struct {
	Type string `json:"type"`
	Op   *Op    `json:"op,omitempty"`
	Ack  *Ack   `json:"ack,omitempty"`
}

// NewProbeOp builds the op submitted once per newly connected peer.
func NewProbeOp(opID, actorID string, now time.Time) Op {
	return Op{
		OpID:        opID,
		ActorID:     actorID,
		Kind:        "ConnProbe",
		Entity:      "health",
		PayloadJSON: "{}",
		CreatedAtMs: now.UnixMilli(),
	}
}
