// pkg/core/vehicle.go
package core

import (
	"encoding/json"
	"math"
)

// Color is an RGBA color. Set is false when the engine reported no
// explicit color for the entity.
type Color struct {
	R   uint8 `json:"r"`
	G   uint8 `json:"g"`
	B   uint8 `json:"b"`
	A   uint8 `json:"a"`
	Set bool  `json:"set"`
}

// RGBA builds an explicitly set color.
func RGBA(r, g, b, a uint8) Color {
	return Color{R: r, G: g, B: b, A: a, Set: true}
}

// Position2D is a position in network coordinates (meters).
type Position2D struct {
	X float64
	Y float64
}

// UnknownPosition is the position of a vehicle before its first update.
var UnknownPosition = Position2D{X: math.NaN(), Y: math.NaN()}

// Known reports whether both coordinates have been received.
func (p Position2D) Known() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y)
}

// MarshalJSON encodes an unknown position as null.
func (p Position2D) MarshalJSON() ([]byte, error) {
	if !p.Known() {
		return []byte("null"), nil
	}
	return json.Marshal([2]float64{p.X, p.Y})
}

// UnmarshalJSON accepts the [x, y] form written by MarshalJSON.
func (p *Position2D) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = UnknownPosition
		return nil
	}
	var xy [2]float64
	if err := json.Unmarshal(b, &xy); err != nil {
		return err
	}
	p.X, p.Y = xy[0], xy[1]
	return nil
}

// VehicleState is an immutable copy of a mirrored vehicle.
type VehicleState struct {
	ID       string     `json:"id"`
	Position Position2D `json:"position"`
	Speed    float64    `json:"speed"`
	// Angle is the heading in degrees, engine convention (0 is north, clockwise).
	Angle float64 `json:"angle"`
	Color Color   `json:"color"`
	// Valid is reserved for eviction and is always true for live vehicles.
	Valid bool `json:"valid"`
	// Tick is the last tick whose update was applied.
	Tick uint64 `json:"tick"`
}
