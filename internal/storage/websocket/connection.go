package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/ctrldec/trafficmirror/pkg/streaming"
)

const (
	queueSize     = 10_000
	ackBuffer     = 16
	redialLimit   = 10
	redialBackoff = 500 * time.Millisecond
	redialCeiling = 30 * time.Second
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingEvery     = pongWait * 9 / 10
)

var ackTimeout = 10 * time.Second

var errStreamClosed = errors.New("stream closed")

// connection owns one live socket at a time. A single supervisor goroutine
// writes to it and replaces it when it breaks; a reader per socket routes
// acks back to sendAndWait.
type connection struct {
	dialer *ws.Dialer
	target string
	logger *slog.Logger

	out  chan []byte
	acks chan AckMessage
	done chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup

	mu     sync.Mutex
	replay []byte

	dropped atomic.Uint64
	redials atomic.Uint64
}

func newConnection(logger *slog.Logger) *connection {
	return &connection{
		dialer: &ws.Dialer{
			HandshakeTimeout: writeWait,
			Proxy:            ws.DefaultDialer.Proxy,
		},
		logger: logger,
		out:    make(chan []byte, queueSize),
		acks:   make(chan AckMessage, ackBuffer),
		done:   make(chan struct{}),
	}
}

// dial opens the first socket. Later sockets are opened by the supervisor.
func (c *connection) dial(rawURL, secret string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", secret)
	u.RawQuery = q.Encode()
	c.target = u.String()

	sock, err := c.open()
	if err != nil {
		return err
	}
	c.wg.Add(1)
	go c.supervise(sock)
	return nil
}

func (c *connection) open() (*ws.Conn, error) {
	sock, _, err := c.dialer.Dial(c.target, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	_ = sock.SetReadDeadline(time.Now().Add(pongWait))
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(time.Now().Add(pongWait))
	})
	return sock, nil
}

func (c *connection) supervise(sock *ws.Conn) {
	defer c.wg.Done()
	for sock != nil {
		err := c.pump(sock)
		if errors.Is(err, errStreamClosed) {
			return
		}
		c.logger.Warn("Frame stream lost", "error", err)
		sock = c.redial()
	}
}

// pump writes queued messages and keepalive pings to sock until it fails
// or the connection is closed. sock is always closed on return.
func (c *connection) pump(sock *ws.Conn) error {
	defer sock.Close()

	readErr := make(chan error, 1)
	go func() { readErr <- c.readAcks(sock) }()

	ping := time.NewTicker(pingEvery)
	defer ping.Stop()

	for {
		select {
		case <-c.done:
			_ = sock.WriteControl(ws.CloseMessage,
				ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return errStreamClosed
		case err := <-readErr:
			return fmt.Errorf("read: %w", err)
		case <-ping.C:
			if err := sock.WriteControl(ws.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		case msg := <-c.out:
			if err := write(sock, msg); err != nil {
				return err
			}
		}
	}
}

func write(sock *ws.Conn, msg []byte) error {
	if err := sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := sock.WriteMessage(ws.TextMessage, msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *connection) readAcks(sock *ws.Conn) error {
	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			return err
		}
		_ = sock.SetReadDeadline(time.Now().Add(pongWait))

		var ack AckMessage
		if err := json.Unmarshal(raw, &ack); err != nil || ack.Type != streaming.TypeAck {
			c.logger.Debug("Ignoring server message", "raw", string(raw))
			continue
		}
		select {
		case c.acks <- ack:
		default:
			c.logger.Debug("Ack buffer full, dropping", "for", ack.For)
		}
	}
}

// redial opens a new socket with exponential backoff and replays the run
// header on it. It returns nil when closed or out of attempts.
func (c *connection) redial() *ws.Conn {
	wait := redialBackoff
	for attempt := 1; attempt <= redialLimit; attempt++ {
		timer := time.NewTimer(wait)
		select {
		case <-c.done:
			timer.Stop()
			return nil
		case <-timer.C:
		}

		sock, err := c.open()
		if err != nil {
			c.logger.Warn("Frame stream redial failed", "attempt", attempt, "backoff", wait, "error", err)
			wait = min(wait*2, redialCeiling)
			continue
		}
		if header := c.header(); header != nil {
			if err := write(sock, header); err != nil {
				c.logger.Warn("Run header replay failed", "attempt", attempt, "error", err)
				_ = sock.Close()
				continue
			}
		}
		n := c.redials.Add(1)
		c.logger.Info("Frame stream reconnected", "attempt", attempt, "reconnects", n)
		return sock
	}
	c.logger.Error("Frame stream gave up reconnecting", "attempts", redialLimit)
	return nil
}

// setHeader stores the run_started message replayed on every new socket.
// nil clears it.
func (c *connection) setHeader(msg []byte) {
	c.mu.Lock()
	c.replay = msg
	c.mu.Unlock()
}

func (c *connection) header() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replay
}

// send queues msg without blocking. A full queue drops it.
func (c *connection) send(msg []byte) {
	select {
	case c.out <- msg:
	default:
		if n := c.dropped.Add(1); n == 1 || n%1000 == 0 {
			c.logger.Warn("Frame stream queue full, dropping message", "dropped", n)
		}
	}
}

// sendAndWait queues msg and blocks until the server acks ackFor.
func (c *connection) sendAndWait(msg []byte, ackFor string, timeout time.Duration) error {
	c.send(msg)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ack := <-c.acks:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-c.done:
			return fmt.Errorf("%w while waiting for ack of %q", errStreamClosed, ackFor)
		}
	}
}

// close stops the supervisor, which sends a close frame on the live socket.
func (c *connection) close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
	return nil
}
