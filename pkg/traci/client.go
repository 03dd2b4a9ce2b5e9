// Package traci implements the client side of the SUMO TraCI protocol.
//
// A Client owns one TCP connection. Exchanges are strictly serialized: only
// one command is in flight at any time, whichever goroutine issues it.
package traci

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// maxMessageSize bounds a single response. Large networks with many
// subscriptions stay well below this.
const maxMessageSize = 64 << 20

// Client is a TraCI connection.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	broken error
}

// Dial connects to a TraCI server at addr (host:port).
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn}
}

// exchange sends one message made of cmds and returns a reader over the
// response body.
func (c *Client) exchange(ctx context.Context, cmds ...[]byte) (*Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return nil, c.broken
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, c.breakWith(ctx, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if _, err := c.conn.Write(encodeMessage(cmds...)); err != nil {
		return nil, c.breakWith(ctx, err)
	}

	var header [4]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return nil, c.breakWith(ctx, err)
	}
	total := int(binary.BigEndian.Uint32(header[:]))
	if total < 4 || total > maxMessageSize {
		return nil, c.breakWith(ctx, fmt.Errorf("%w: message length %d", ErrMalformed, total))
	}
	body := make([]byte, total-4)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return nil, c.breakWith(ctx, err)
	}
	return NewReader(body), nil
}

// breakWith records a failure that left the stream in an unknown state.
// Callers hold c.mu.
func (c *Client) breakWith(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	} else if _, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) {
		err = context.DeadlineExceeded
	}
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		c.broken = fmt.Errorf("%w: %w", ErrClosed, err)
	default:
		c.broken = fmt.Errorf("%w: %w", ErrBroken, err)
	}
	return c.broken
}

// simple sends a single command whose response is only a status.
func (c *Client) simple(ctx context.Context, cmd byte, content []byte) (*Reader, error) {
	r, err := c.exchange(ctx, encodeCommand(cmd, content))
	if err != nil {
		return nil, err
	}
	if err := r.readStatus(cmd); err != nil {
		return nil, err
	}
	return r, nil
}

// Version returns the API version and the server identifier.
func (c *Client) Version(ctx context.Context) (int, string, error) {
	r, err := c.simple(ctx, CmdGetVersion, nil)
	if err != nil {
		return 0, "", err
	}
	_, body := r.readCommand()
	if r.Err() != nil {
		return 0, "", r.Err()
	}
	api := body.ReadInt()
	ident := body.ReadString()
	return int(api), ident, body.Err()
}

// SetOrder claims a position in the command order of a multi-client run.
func (c *Client) SetOrder(ctx context.Context, order int) error {
	w := NewWriter()
	w.PutInt(int32(order))
	_, err := c.simple(ctx, CmdSetOrder, w.Bytes())
	return err
}

// SimStep advances the simulation. A target of zero performs one step.
// The returned results are the values pushed for active subscriptions.
func (c *Client) SimStep(ctx context.Context, target float64) ([]SubscriptionResult, error) {
	w := NewWriter()
	w.PutDouble(target)
	r, err := c.simple(ctx, CmdSimStep, w.Bytes())
	if err != nil {
		return nil, err
	}
	n := int(r.ReadInt())
	results := make([]SubscriptionResult, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		if res, ok := r.readSubscription(); ok {
			results = append(results, res)
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Get reads one variable of one object. cmd is a get command such as
// CmdGetVehicleVariable.
func (c *Client) Get(ctx context.Context, cmd, varID byte, objID string) (any, error) {
	w := NewWriter()
	w.PutUByte(varID)
	w.PutString(objID)
	r, err := c.simple(ctx, cmd, w.Bytes())
	if err != nil {
		return nil, err
	}
	id, body := r.readCommand()
	if r.Err() != nil {
		return nil, r.Err()
	}
	if id != cmd+responseOffset {
		return nil, fmt.Errorf("%w: response 0x%02x to get 0x%02x", ErrMalformed, id, cmd)
	}
	if got := body.ReadUByte(); got != varID && body.Err() == nil {
		return nil, fmt.Errorf("%w: variable 0x%02x in response, asked 0x%02x", ErrMalformed, got, varID)
	}
	body.ReadString()
	v := body.ReadValue()
	if err := body.Err(); err != nil {
		return nil, err
	}
	return v, nil
}

// Set writes one variable of one object. put encodes the typed value.
func (c *Client) Set(ctx context.Context, cmd, varID byte, objID string, put func(*Writer)) error {
	w := NewWriter()
	w.PutUByte(varID)
	w.PutString(objID)
	put(w)
	_, err := c.simple(ctx, cmd, w.Bytes())
	return err
}

// Subscribe registers a variable subscription on objID. The engine answers
// with the current values, which are returned as the first result.
func (c *Client) Subscribe(ctx context.Context, cmd byte, begin, end float64, objID string, vars []byte) (SubscriptionResult, error) {
	w := NewWriter()
	w.PutDouble(begin)
	w.PutDouble(end)
	w.PutString(objID)
	w.PutUByte(byte(len(vars)))
	w.PutRaw(vars)
	r, err := c.simple(ctx, cmd, w.Bytes())
	if err != nil {
		return SubscriptionResult{}, err
	}
	if r.Remaining() == 0 {
		return SubscriptionResult{Response: cmd + responseOffset, ObjectID: objID, Values: map[byte]any{}}, nil
	}
	res, ok := r.readSubscription()
	if err := r.Err(); err != nil {
		return SubscriptionResult{}, err
	}
	if !ok {
		return SubscriptionResult{}, fmt.Errorf("%w: subscribe 0x%02x answered with a non-variable result", ErrMalformed, cmd)
	}
	return res, nil
}

// Close asks the engine to end the session and closes the socket.
func (c *Client) Close(ctx context.Context) error {
	_, err := c.simple(ctx, CmdClose, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken == nil {
		c.broken = ErrClosed
	}
	if cerr := c.conn.Close(); cerr != nil && err == nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	return err
}
