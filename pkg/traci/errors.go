package traci

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed reports a response that does not decode.
	ErrMalformed = errors.New("traci: malformed message")
	// ErrBroken is returned once an exchange failed half-way and the stream
	// can no longer be trusted.
	ErrBroken = errors.New("traci: connection broken")
	// ErrClosed is returned after Close or when the engine hung up.
	ErrClosed = errors.New("traci: connection closed")
)

// StatusError is a non-OK status returned by the engine for a command.
type StatusError struct {
	Command     byte
	Code        byte
	Description string
}

func (e *StatusError) Error() string {
	kind := "error"
	if e.Code == RTypeNotImplemented {
		kind = "not implemented"
	}
	return fmt.Sprintf("traci: command 0x%02x %s: %s", e.Command, kind, e.Description)
}
