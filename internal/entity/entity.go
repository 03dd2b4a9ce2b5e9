// Package entity defines the live records kept in the mirror registries.
// Records are plain values: a registry stores them by value and every
// mutation publishes a new copy, so a record handed out is never changed
// underneath its holder.
package entity

import (
	"slices"

	"github.com/ctrldec/trafficmirror/pkg/core"
)

// Entity is anything the mirror tracks by ID and can hand out as an
// immutable snapshot.
type Entity[S any] interface {
	ID() string
	Snapshot() S
}

var (
	_ Entity[core.VehicleState] = Vehicle{}
	_ Entity[core.SignalState]  = Signal{}
)

// Vehicle is the mirrored state of one vehicle.
type Vehicle struct {
	id       string
	Position core.Position2D
	Speed    float64
	Angle    float64
	Color    core.Color
	Valid    bool
	Tick     uint64
}

// NewVehicle creates a record with an unknown position.
func NewVehicle(id string, color core.Color, tick uint64) Vehicle {
	return Vehicle{
		id:       id,
		Position: core.UnknownPosition,
		Color:    color,
		Valid:    true,
		Tick:     tick,
	}
}

func (v Vehicle) ID() string { return v.id }

func (v Vehicle) Snapshot() core.VehicleState {
	return core.VehicleState{
		ID:       v.id,
		Position: v.Position,
		Speed:    v.Speed,
		Angle:    v.Angle,
		Color:    v.Color,
		Valid:    v.Valid,
		Tick:     v.Tick,
	}
}

// Signal is the mirrored state of one signal controller. Links are fixed at
// creation.
type Signal struct {
	id              string
	OriginalProgram string
	State           string
	links           []core.Link
	Tick            uint64
}

// NewSignal creates a signal record. links is copied.
func NewSignal(id, program string, links []core.Link) Signal {
	return Signal{
		id:              id,
		OriginalProgram: program,
		links:           slices.Clone(links),
	}
}

func (s Signal) ID() string { return s.id }

// LinkCount returns the number of controlled links.
func (s Signal) LinkCount() int { return len(s.links) }

func (s Signal) Snapshot() core.SignalState {
	return core.SignalState{
		ID:      s.id,
		Program: s.OriginalProgram,
		State:   s.State,
		Links:   slices.Clone(s.links),
		Tick:    s.Tick,
	}
}
