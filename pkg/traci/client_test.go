package traci

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// request is one command received by the fake server.
type request struct {
	cmd     byte
	content *Reader
}

// fakeServer answers every message on the server end of a pipe with the
// bytes returned by respond. A nil response leaves the client hanging.
func fakeServer(t *testing.T, respond func(req request) []byte) *Client {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	go func() {
		for {
			var header [4]byte
			if _, err := io.ReadFull(server, header[:]); err != nil {
				return
			}
			body := make([]byte, binary.BigEndian.Uint32(header[:])-4)
			if _, err := io.ReadFull(server, body); err != nil {
				return
			}
			id, content := NewReader(body).readCommand()
			resp := respond(request{cmd: id, content: content})
			if resp == nil {
				continue
			}
			if _, err := server.Write(resp); err != nil {
				return
			}
		}
	}()

	return NewClient(client)
}

func okStatus(cmd byte) []byte {
	w := NewWriter()
	w.PutUByte(RTypeOK)
	w.PutString("")
	return encodeCommand(cmd, w.Bytes())
}

func errStatus(cmd byte, msg string) []byte {
	w := NewWriter()
	w.PutUByte(RTypeErr)
	w.PutString(msg)
	return encodeCommand(cmd, w.Bytes())
}

func subscriptionCommand(resp byte, objID string, put func(w *Writer) int) []byte {
	vars := NewWriter()
	n := put(vars)
	w := NewWriter()
	w.PutString(objID)
	w.PutUByte(byte(n))
	w.PutRaw(vars.Bytes())
	return encodeCommand(resp, w.Bytes())
}

func TestClient_GetDecodesTypedValue(t *testing.T) {
	c := fakeServer(t, func(req request) []byte {
		varID := req.content.ReadUByte()
		objID := req.content.ReadString()
		w := NewWriter()
		w.PutUByte(varID)
		w.PutString(objID)
		w.PutTypedColor(Color{R: 10, G: 20, B: 30, A: 255})
		return encodeMessage(okStatus(req.cmd), encodeCommand(req.cmd+responseOffset, w.Bytes()))
	})

	v, err := c.Get(context.Background(), CmdGetVehicleVariable, VarColor, "veh0")
	require.NoError(t, err)
	assert.Equal(t, Color{R: 10, G: 20, B: 30, A: 255}, v)
}

func TestClient_StatusErrorIsReturned(t *testing.T) {
	c := fakeServer(t, func(req request) []byte {
		return encodeMessage(errStatus(req.cmd, "Vehicle 'ghost' is not known"))
	})

	_, err := c.Get(context.Background(), CmdGetVehicleVariable, VarSpeed, "ghost")
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, byte(CmdGetVehicleVariable), se.Command)
	assert.Contains(t, se.Description, "ghost")

	// a status error does not break the stream
	_, err = c.Get(context.Background(), CmdGetVehicleVariable, VarSpeed, "ghost")
	assert.False(t, errors.Is(err, ErrBroken))
}

func TestClient_SimStepReturnsSubscriptionResults(t *testing.T) {
	c := fakeServer(t, func(req request) []byte {
		assert.Equal(t, byte(CmdSimStep), req.cmd)
		count := NewWriter()
		count.PutInt(2)

		sim := subscriptionCommand(ResponseSubSimVariable, "", func(w *Writer) int {
			w.PutUByte(VarDepartedIDs)
			w.PutUByte(RTypeOK)
			w.PutTypedStringList([]string{"a", "b"})
			w.PutUByte(VarArrivedIDs)
			w.PutUByte(RTypeOK)
			w.PutTypedStringList(nil)
			return 2
		})
		veh := subscriptionCommand(ResponseSubVehicleVar, "a", func(w *Writer) int {
			w.PutUByte(VarPosition)
			w.PutUByte(RTypeOK)
			w.PutUByte(TypePosition2D)
			w.PutDouble(1.5)
			w.PutDouble(-2)
			w.PutUByte(VarSpeed)
			w.PutUByte(RTypeErr)
			w.PutTypedString("no speed")
			return 2
		})
		return encodeMessage(okStatus(CmdSimStep), count.Bytes(), sim, veh)
	})

	results, err := c.SimStep(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, byte(CmdSubscribeSimVariable), results[0].Domain())
	assert.Equal(t, []string{"a", "b"}, results[0].Values[VarDepartedIDs])
	assert.Equal(t, []string{}, results[0].Values[VarArrivedIDs])

	assert.Equal(t, "a", results[1].ObjectID)
	assert.Equal(t, Position{X: 1.5, Y: -2}, results[1].Values[VarPosition])
	assert.Equal(t, "no speed", results[1].Errors[VarSpeed])
	assert.NotContains(t, results[1].Values, byte(VarSpeed))
}

func TestClient_SubscribeReturnsInitialValues(t *testing.T) {
	c := fakeServer(t, func(req request) []byte {
		req.content.ReadDouble()
		req.content.ReadDouble()
		objID := req.content.ReadString()
		n := req.content.ReadUByte()
		assert.Equal(t, byte(1), n)
		return encodeMessage(okStatus(req.cmd), subscriptionCommand(req.cmd+responseOffset, objID, func(w *Writer) int {
			w.PutUByte(VarTLRedYellowGreenState)
			w.PutUByte(RTypeOK)
			w.PutTypedString("GrGr")
			return 1
		}))
	})

	res, err := c.Subscribe(context.Background(), CmdSubscribeTLVariable, 0, InvalidDouble, "J1", []byte{VarTLRedYellowGreenState})
	require.NoError(t, err)
	assert.Equal(t, "J1", res.ObjectID)
	assert.Equal(t, "GrGr", res.Values[VarTLRedYellowGreenState])
}

func TestClient_SetEncodesValue(t *testing.T) {
	var got float64
	c := fakeServer(t, func(req request) []byte {
		req.content.ReadUByte()
		req.content.ReadString()
		got = req.content.ReadTypedDouble()
		return encodeMessage(okStatus(req.cmd))
	})

	err := c.Set(context.Background(), CmdSetVehicleVariable, VarSpeed, "veh0", func(w *Writer) {
		w.PutTypedDouble(13.9)
	})
	require.NoError(t, err)
	assert.Equal(t, 13.9, got)
}

func TestClient_DeadlineBreaksConnection(t *testing.T) {
	c := fakeServer(t, func(req request) []byte {
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.SimStep(ctx, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBroken))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	_, err = c.SimStep(context.Background(), 0)
	assert.True(t, errors.Is(err, ErrBroken), "later calls must not reuse a desynchronised stream")
}

func TestClient_SerializesConcurrentCalls(t *testing.T) {
	c := fakeServer(t, func(req request) []byte {
		varID := req.content.ReadUByte()
		objID := req.content.ReadString()
		w := NewWriter()
		w.PutUByte(varID)
		w.PutString(objID)
		w.PutTypedString(objID)
		return encodeMessage(okStatus(req.cmd), encodeCommand(req.cmd+responseOffset, w.Bytes()))
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("veh%d", i)
			v, err := c.Get(context.Background(), CmdGetVehicleVariable, VarType, id)
			assert.NoError(t, err)
			assert.Equal(t, id, v)
		}(i)
	}
	wg.Wait()
}

func TestClient_CloseMarksClosed(t *testing.T) {
	c := fakeServer(t, func(req request) []byte {
		return encodeMessage(okStatus(req.cmd))
	})

	require.NoError(t, c.Close(context.Background()))
	_, err := c.SimStep(context.Background(), 0)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestEncodeCommand_ExtendedLength(t *testing.T) {
	content := make([]byte, 300)
	content[299] = 0x7

	r := NewReader(encodeCommand(0x42, content))
	id, body := r.readCommand()
	require.NoError(t, r.Err())
	assert.Equal(t, byte(0x42), id)
	assert.Equal(t, 300, body.Remaining())
	body.Skip(299)
	assert.Equal(t, byte(0x7), body.ReadUByte())
}

func TestReader_CompoundValue(t *testing.T) {
	w := NewWriter()
	w.PutCompound(3)
	w.PutTypedString("0")
	w.PutTypedInt(2)
	w.PutCompound(1)
	w.PutTypedDouble(31)

	v := NewReader(w.Bytes()).ReadValue()
	assert.Equal(t, Compound{"0", int32(2), Compound{31.0}}, v)
}

func TestReader_ShortInputIsMalformed(t *testing.T) {
	r := NewReader([]byte{0, 0, 0, 9, 'a'})
	assert.Equal(t, "", r.ReadString())
	assert.True(t, errors.Is(r.Err(), ErrMalformed))
}
