package mirror

import (
	"errors"

	"github.com/ctrldec/trafficmirror/internal/routes"
)

var (
	// ErrNotStarted is returned by calls that need a running session.
	ErrNotStarted     = errors.New("session not started")
	ErrAlreadyStarted = errors.New("session already started")

	ErrUnknownVehicle = errors.New("unknown vehicle")
	ErrUnknownSignal  = errors.New("unknown signal")
	// ErrStateLength is returned when a signal state does not have one
	// character per controlled link.
	ErrStateLength = errors.New("state length does not match controlled links")
	// ErrNoPhases is returned when the active program of a signal has no
	// phases to advance through.
	ErrNoPhases = errors.New("program has no phases")

	ErrNoRoutes   = routes.ErrNoRoutes
	ErrRouteIndex = routes.ErrRouteIndex
)
