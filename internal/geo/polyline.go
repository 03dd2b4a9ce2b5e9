package geo

import (
	"fmt"
	"math"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/ctrldec/trafficmirror/pkg/core"
)

// ParseShape parses a space separated list of "x,y" pairs, the shape format
// of lanes and edges, into a geom.LineString.
func ParseShape(input string) (geom.LineString, error) {
	fields := strings.Fields(input)
	if len(fields) < 2 {
		return geom.LineString{}, fmt.Errorf("shape must have at least 2 points, got %d", len(fields))
	}

	flatCoords := make([]float64, 0, len(fields)*2)
	for i, f := range fields {
		pos, err := PositionFromString(f)
		if err != nil {
			return geom.LineString{}, fmt.Errorf("shape point %d %q: %w", i, f, err)
		}
		flatCoords = append(flatCoords, pos.X, pos.Y)
	}

	seq := geom.NewSequence(flatCoords, geom.DimXY)
	return geom.NewLineString(seq), nil
}

// PositionAlong returns the point at distance d from the start of ls,
// clamped to its ends, and the heading there in degrees (0 is north,
// clockwise).
func PositionAlong(ls geom.LineString, d float64) (core.Position2D, float64) {
	seq := ls.Coordinates()
	n := seq.Length()
	if n == 0 {
		return core.UnknownPosition, 0
	}
	if n == 1 || d <= 0 {
		p := seq.GetXY(0)
		if n == 1 {
			return core.Position2D{X: p.X, Y: p.Y}, 0
		}
		return core.Position2D{X: p.X, Y: p.Y}, heading(p, seq.GetXY(1))
	}

	for i := 1; i < n; i++ {
		a, b := seq.GetXY(i-1), seq.GetXY(i)
		seg := math.Hypot(b.X-a.X, b.Y-a.Y)
		if d <= seg && seg > 0 {
			t := d / seg
			return core.Position2D{X: a.X + t*(b.X-a.X), Y: a.Y + t*(b.Y-a.Y)}, heading(a, b)
		}
		d -= seg
	}
	a, b := seq.GetXY(n-2), seq.GetXY(n-1)
	return core.Position2D{X: b.X, Y: b.Y}, heading(a, b)
}

func heading(a, b geom.XY) float64 {
	deg := math.Atan2(b.X-a.X, b.Y-a.Y) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	return deg
}
