// Package websocket streams recorded frames to a remote renderer.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ctrldec/trafficmirror/internal/storage"
	"github.com/ctrldec/trafficmirror/pkg/core"
	"github.com/ctrldec/trafficmirror/pkg/streaming"
)

// Re-exported protocol types, used by tests and callers that only import
// this package.
type (
	Envelope   = streaming.Envelope
	AckMessage = streaming.AckMessage
)

const (
	TypeRunStarted = streaming.TypeRunStarted
	TypeRunEnded   = streaming.TypeRunEnded
	TypeFrame      = streaming.TypeFrame
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
}

// Backend streams run data over WebSocket.
// It implements storage.Backend but not storage.Exportable.
type Backend struct {
	conn *connection
	cfg  Config

	mu    sync.Mutex
	runID string
}

// New creates a new WebSocket storage backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		conn: newConnection(logger.With("backend", "websocket")),
		cfg:  cfg,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// StartRun sends the run header and waits for the server ack.
func (b *Backend) StartRun(run *core.Run) error {
	data, err := marshalEnvelope(streaming.TypeRunStarted, streaming.RunStartedPayload{Run: run})
	if err != nil {
		return err
	}

	b.conn.setHeader(data)

	b.mu.Lock()
	b.runID = run.ID
	b.mu.Unlock()

	return b.conn.sendAndWait(data, streaming.TypeRunStarted, ackTimeout)
}

// RecordFrame pushes a frame to the write loop (fire-and-forget).
func (b *Backend) RecordFrame(f *core.Frame) error {
	b.mu.Lock()
	runID := b.runID
	b.mu.Unlock()
	if runID == "" {
		return storage.ErrNoRun
	}

	data, err := marshalEnvelope(streaming.TypeFrame, streaming.FramePayload{RunID: runID, Frame: f})
	if err != nil {
		return err
	}
	b.conn.send(data)
	return nil
}

// EndRun sends run_ended and waits for the server ack.
func (b *Backend) EndRun(end *core.RunEnd) error {
	data, err := marshalEnvelope(streaming.TypeRunEnded, streaming.RunEndedPayload{End: end})
	if err != nil {
		return err
	}
	err = b.conn.sendAndWait(data, streaming.TypeRunEnded, ackTimeout)

	b.conn.setHeader(nil)
	b.mu.Lock()
	b.runID = ""
	b.mu.Unlock()

	return err
}

// Dropped returns the number of frames dropped because the send queue was
// full.
func (b *Backend) Dropped() uint64 {
	return b.conn.dropped.Load()
}

// Reconnects returns how often the stream was re-established after a failure.
func (b *Backend) Reconnects() uint64 {
	return b.conn.redials.Load()
}
