package traci

import (
	"encoding/binary"
	"fmt"
)

// encodeCommand frames one command: a one-byte length, or a zero byte
// followed by a four-byte length when the command exceeds 255 bytes.
func encodeCommand(id byte, content []byte) []byte {
	n := 2 + len(content)
	var out []byte
	if n <= 255 {
		out = make([]byte, 0, n)
		out = append(out, byte(n))
	} else {
		n += 4
		out = make([]byte, 0, n)
		out = append(out, 0)
		out = binary.BigEndian.AppendUint32(out, uint32(n))
	}
	out = append(out, id)
	return append(out, content...)
}

// encodeMessage prefixes the concatenated commands with the total length.
func encodeMessage(cmds ...[]byte) []byte {
	total := 4
	for _, c := range cmds {
		total += len(c)
	}
	out := make([]byte, 0, total)
	out = binary.BigEndian.AppendUint32(out, uint32(total))
	for _, c := range cmds {
		out = append(out, c...)
	}
	return out
}

// readCommand consumes one framed command and returns its identifier and a
// reader over its content.
func (r *Reader) readCommand() (byte, *Reader) {
	start := r.pos
	n := int(r.ReadUByte())
	if n == 0 {
		n = int(r.ReadInt())
	}
	if r.err != nil {
		return 0, nil
	}
	headerLen := r.pos - start
	if n < headerLen+1 {
		r.fail(fmt.Errorf("%w: command length %d", ErrMalformed, n))
		return 0, nil
	}
	id := r.ReadUByte()
	body := r.take(n - headerLen - 1)
	if r.err != nil {
		return 0, nil
	}
	return id, NewReader(body)
}

// readStatus consumes the status command answering cmd.
func (r *Reader) readStatus(cmd byte) error {
	id, body := r.readCommand()
	if r.err != nil {
		return r.err
	}
	if id != cmd {
		return fmt.Errorf("%w: status for 0x%02x while expecting 0x%02x", ErrMalformed, id, cmd)
	}
	code := body.ReadUByte()
	desc := body.ReadString()
	if err := body.Err(); err != nil {
		return err
	}
	if code != RTypeOK {
		return &StatusError{Command: cmd, Code: code, Description: desc}
	}
	return nil
}

// SubscriptionResult carries the variables pushed for one object.
type SubscriptionResult struct {
	// Response is the subscription response identifier, e.g. ResponseSubVehicleVar.
	Response byte
	ObjectID string
	Values   map[byte]any
	// Errors holds per-variable failures reported by the engine.
	Errors map[byte]string
}

// Domain returns the subscribe command the result answers.
func (s SubscriptionResult) Domain() byte {
	return s.Response - responseOffset
}

func isVariableSubscription(id byte) bool {
	return id >= 0xe0 && id <= 0xef
}

// readSubscription decodes a variable subscription response. ok is false
// for other subscription kinds, which are skipped.
func (r *Reader) readSubscription() (SubscriptionResult, bool) {
	id, body := r.readCommand()
	if r.err != nil || !isVariableSubscription(id) {
		return SubscriptionResult{}, false
	}
	res := SubscriptionResult{
		Response: id,
		ObjectID: body.ReadString(),
		Values:   make(map[byte]any),
	}
	n := int(body.ReadUByte())
	for i := 0; i < n && body.Err() == nil; i++ {
		varID := body.ReadUByte()
		status := body.ReadUByte()
		v := body.ReadValue()
		if status != RTypeOK {
			if res.Errors == nil {
				res.Errors = make(map[byte]string)
			}
			msg, _ := v.(string)
			res.Errors[varID] = msg
			continue
		}
		res.Values[varID] = v
	}
	if err := body.Err(); err != nil {
		r.fail(err)
		return SubscriptionResult{}, false
	}
	return res, true
}
