// Package storage defines the recorder backends' contract.
package storage

import (
	"errors"

	"github.com/ctrldec/trafficmirror/pkg/core"
)

// ErrNoRun is returned when a frame is recorded outside a run.
var ErrNoRun = errors.New("no run in progress")

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Run management
	StartRun(run *core.Run) error
	EndRun(end *core.RunEnd) error

	// State recording
	RecordFrame(f *core.Frame) error
}

// Exportable is an optional interface for backends that produce a file per
// run.
type Exportable interface {
	ExportedFilePath() string
}
