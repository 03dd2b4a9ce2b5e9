// Package engine defines the typed connection to the simulation engine used
// by the mirror, and its TraCI implementation.
package engine

import (
	"context"
	"time"

	"github.com/ctrldec/trafficmirror/pkg/core"
	"github.com/ctrldec/trafficmirror/pkg/traci"
)

// ErrClosed is returned once the engine connection is gone.
var ErrClosed = traci.ErrClosed

// Scope selects the object domain of a subscription.
type Scope int

const (
	ScopeSimulation Scope = iota
	ScopeVehicle
	ScopeSignal
)

func (s Scope) String() string {
	switch s {
	case ScopeSimulation:
		return "simulation"
	case ScopeVehicle:
		return "vehicle"
	case ScopeSignal:
		return "signal"
	}
	return "unknown"
}

// Var identifies a subscribed variable within its scope.
type Var byte

const (
	VarPosition    Var = traci.VarPosition
	VarSpeed       Var = traci.VarSpeed
	VarAngle       Var = traci.VarAngle
	VarSignalState Var = traci.VarTLRedYellowGreenState
	VarTime        Var = traci.VarTime
	VarDeparted    Var = traci.VarDepartedIDs
	VarArrived     Var = traci.VarArrivedIDs
)

// Update is one pushed subscription result. Values hold core.Position2D
// for positions, float64 for scalars, string for signal states and []string
// for ID lists.
type Update struct {
	Scope  Scope
	ID     string
	Values map[Var]any
}

// Phase is one phase of a signal program.
type Phase struct {
	Duration float64
	State    string
	MinDur   float64
	MaxDur   float64
	Name     string
}

// Logic is one signal program as reported by the engine.
type Logic struct {
	ProgramID    string
	Type         int
	CurrentPhase int
	Phases       []Phase
}

// VehicleSpec describes a vehicle to insert.
type VehicleSpec struct {
	ID          string
	RouteID     string
	TypeID      string
	Depart      string
	DepartLane  string
	DepartPos   string
	DepartSpeed string
}

// Stepper advances simulated time and manages subscriptions.
type Stepper interface {
	Step(ctx context.Context) ([]Update, error)
	Subscribe(ctx context.Context, scope Scope, id string, vars []Var) (Update, error)
}

// Vehicles issues vehicle commands.
type Vehicles interface {
	VehicleIDs(ctx context.Context) ([]string, error)
	VehicleColor(ctx context.Context, id string) (core.Color, error)
	SetVehicleSpeed(ctx context.Context, id string, speed float64) error
	SetVehicleColor(ctx context.Context, id string, c core.Color) error
	AddVehicle(ctx context.Context, spec VehicleSpec) error
}

// Routes lists routes known to the engine.
type Routes interface {
	RouteIDs(ctx context.Context) ([]string, error)
}

// Signals issues traffic light commands.
type Signals interface {
	SignalIDs(ctx context.Context) ([]string, error)
	SignalProgram(ctx context.Context, id string) (string, error)
	SignalLinks(ctx context.Context, id string) ([]core.Link, error)
	SignalPhase(ctx context.Context, id string) (int, error)
	SignalLogics(ctx context.Context, id string) ([]Logic, error)
	SetSignalState(ctx context.Context, id, state string) error
	SetSignalProgram(ctx context.Context, id, program string) error
	SetSignalPhase(ctx context.Context, id string, index int) error
}

// Conn is a full engine session.
type Conn interface {
	Stepper
	Vehicles
	Routes
	Signals

	Version(ctx context.Context) (int, string, error)
	SetOrder(ctx context.Context, order int) error
	Close(ctx context.Context) error
}

// Config holds the engine address and call limits.
type Config struct {
	Host string
	Port int
	// Timeout bounds each call whose context carries no deadline. Zero
	// disables the default.
	Timeout time.Duration
}

// Dialer opens engine sessions.
type Dialer func(ctx context.Context) (Conn, error)
