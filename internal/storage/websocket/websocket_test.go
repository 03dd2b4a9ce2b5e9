package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrldec/trafficmirror/internal/storage"
	"github.com/ctrldec/trafficmirror/pkg/core"
)

// Compile-time interface check.
var _ storage.Backend = (*Backend)(nil)

// testServer creates an httptest server that upgrades to WebSocket,
// records received messages, and sends acks for run_started/run_ended.
func testServer(t *testing.T) (*httptest.Server, *messageLog) {
	t.Helper()
	ml := &messageLog{}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}

			var env Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			ml.add(env)

			if env.Type == TypeRunStarted || env.Type == TypeRunEnded {
				ack := AckMessage{Type: "ack", For: env.Type}
				data, _ := json.Marshal(ack)
				if err := c.WriteMessage(ws.TextMessage, data); err != nil {
					return
				}
			}
		}
	}))

	return srv, ml
}

type messageLog struct {
	mu       sync.Mutex
	messages []Envelope
}

func (m *messageLog) add(env Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, env)
}

func (m *messageLog) all() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]Envelope, len(m.messages))
	copy(cp, m.messages)
	return cp
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testRun() *core.Run {
	return &core.Run{
		ID:        "run-1",
		StartTime: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Signals: []core.SignalState{{
			ID:      "J1",
			Program: "0",
			Links:   []core.Link{{FromLane: "n_0", ToLane: "s_0"}},
		}},
	}
}

func TestStartAndEndRun(t *testing.T) {
	srv, ml := testServer(t)
	defer srv.Close()

	b := New(Config{URL: wsURL(srv), Secret: "test"}, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartRun(testRun()))
	require.NoError(t, b.EndRun(&core.RunEnd{RunID: "run-1", EndTick: 3}))

	msgs := ml.all()
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, TypeRunStarted, msgs[0].Type)
	assert.Equal(t, TypeRunEnded, msgs[len(msgs)-1].Type)

	var started struct {
		Run core.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &started))
	assert.Equal(t, "run-1", started.Run.ID)
	require.Len(t, started.Run.Signals, 1)
	assert.Equal(t, "s_0", started.Run.Signals[0].Links[0].ToLane)
}

func TestFramesAreStreamedInOrder(t *testing.T) {
	srv, ml := testServer(t)
	defer srv.Close()

	b := New(Config{URL: wsURL(srv), Secret: "s"}, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartRun(testRun()))
	for tick := uint64(1); tick <= 3; tick++ {
		require.NoError(t, b.RecordFrame(&core.Frame{
			Tick:     tick,
			Vehicles: []core.VehicleState{{ID: "v0", Position: core.Position2D{X: float64(tick)}, Valid: true}},
		}))
	}
	require.NoError(t, b.EndRun(&core.RunEnd{RunID: "run-1", EndTick: 3}))

	time.Sleep(50 * time.Millisecond)

	var ticks []uint64
	for _, m := range ml.all() {
		if m.Type != TypeFrame {
			continue
		}
		var p struct {
			RunID string     `json:"runId"`
			Frame core.Frame `json:"frame"`
		}
		require.NoError(t, json.Unmarshal(m.Payload, &p))
		assert.Equal(t, "run-1", p.RunID)
		ticks = append(ticks, p.Frame.Tick)
	}
	assert.Equal(t, []uint64{1, 2, 3}, ticks)
}

func TestRecordFrameWithoutRun(t *testing.T) {
	srv, _ := testServer(t)
	defer srv.Close()

	b := New(Config{URL: wsURL(srv), Secret: "s"}, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	err := b.RecordFrame(&core.Frame{Tick: 1})
	assert.ErrorIs(t, err, storage.ErrNoRun)
}

func TestSecretIsSentAsQueryParam(t *testing.T) {
	var got atomic.Value
	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.URL.Query().Get("secret"))
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	b := New(Config{URL: wsURL(srv), Secret: "hunter2"}, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	assert.Equal(t, "hunter2", got.Load())
}

func TestStartRunTimesOutWithoutAck(t *testing.T) {
	old := ackTimeout
	ackTimeout = 50 * time.Millisecond
	t.Cleanup(func() { ackTimeout = old })

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	b := New(Config{URL: wsURL(srv), Secret: "s"}, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	err := b.StartRun(testRun())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout waiting for ack")
}

func TestInitFailsOnBadURL(t *testing.T) {
	b := New(Config{URL: "ws://127.0.0.1:1/none"}, nil)
	assert.Error(t, b.Init())
}

func TestReconnectReplaysRunHeader(t *testing.T) {
	var conns atomic.Int32
	second := &messageLog{}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		n := conns.Add(1)

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var env Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			if n > 1 {
				second.add(env)
			}
			if env.Type == TypeRunStarted && n == 1 {
				data, _ := json.Marshal(AckMessage{Type: "ack", For: env.Type})
				_ = c.WriteMessage(ws.TextMessage, data)
				// drop the first socket once the run is open
				return
			}
		}
	}))
	defer srv.Close()

	b := New(Config{URL: wsURL(srv), Secret: "s"}, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartRun(testRun()))
	require.Eventually(t, func() bool { return b.Reconnects() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, b.RecordFrame(&core.Frame{Tick: 7}))
	require.Eventually(t, func() bool { return len(second.all()) >= 2 }, 2*time.Second, 10*time.Millisecond)

	msgs := second.all()
	assert.Equal(t, TypeRunStarted, msgs[0].Type)
	assert.Equal(t, TypeFrame, msgs[1].Type)
}

func TestCloseIsIdempotent(t *testing.T) {
	srv, _ := testServer(t)
	defer srv.Close()

	b := New(Config{URL: wsURL(srv), Secret: "s"}, nil)
	require.NoError(t, b.Init())
	assert.NoError(t, b.Close())
	assert.NoError(t, b.Close())
}
