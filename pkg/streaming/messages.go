// Package streaming defines the messages of the frame stream protocol.
package streaming

import (
	"encoding/json"

	"github.com/ctrldec/trafficmirror/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeRunStarted = "run_started"
	TypeRunEnded   = "run_ended"
	TypeFrame      = "frame"
	TypeAck        = "ack"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // TypeAck
	For  string `json:"for"`  // the message type being acknowledged
}

// RunStartedPayload carries the run and the controlled links of every
// signal, so a renderer can lay out the network before the first frame.
type RunStartedPayload struct {
	Run *core.Run `json:"run"`
}

// FramePayload is one tick of a run.
type FramePayload struct {
	RunID string      `json:"runId"`
	Frame *core.Frame `json:"frame"`
}

// RunEndedPayload closes a run.
type RunEndedPayload struct {
	End *core.RunEnd `json:"end"`
}
