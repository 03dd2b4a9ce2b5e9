// Package geo converts network coordinates to geographic ones.
package geo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"

	"github.com/ctrldec/trafficmirror/pkg/core"
)

// Network positions are cartesian meters. A network converted from a
// geographic source carries a proj string and an offset; subtracting the
// offset gives projected coordinates, which the projection maps to WGS84.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// ErrNoProjection is returned for networks without a geographic reference.
var ErrNoProjection = errors.New("network has no projection")

// ErrUnsupportedProjection is returned for proj strings other than UTM.
var ErrUnsupportedProjection = errors.New("unsupported projection")

const epsgWGS84 = 4326

// PositionFromString parses "x,y" or "x,y,z" into a core.Position2D. A
// third value is accepted and ignored.
func PositionFromString(coords string) (core.Position2D, error) {
	parts := strings.Split(strings.TrimSpace(coords), ",")
	if len(parts) < 2 || len(parts) > 3 {
		return core.Position2D{}, ErrInvalidCoordinates
	}
	x, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return core.Position2D{}, ErrInvalidCoordinates
	}
	y, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return core.Position2D{}, ErrInvalidCoordinates
	}
	if len(parts) == 3 {
		if _, err := strconv.ParseFloat(parts[2], 64); err != nil {
			return core.Position2D{}, ErrInvalidCoordinates
		}
	}
	return core.Position2D{X: x, Y: y}, nil
}

// EPSGFromProj maps a proj string such as
// "+proj=utm +zone=32 +ellps=WGS84 +datum=WGS84 +units=m +no_defs" to its
// EPSG code.
func EPSGFromProj(proj string) (int, error) {
	proj = strings.TrimSpace(proj)
	if proj == "" || proj == "!" {
		return 0, ErrNoProjection
	}

	params := map[string]string{}
	for _, field := range strings.Fields(proj) {
		key, value, _ := strings.Cut(strings.TrimPrefix(field, "+"), "=")
		params[key] = value
	}

	if params["proj"] != "utm" {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedProjection, proj)
	}
	if datum, ok := params["datum"]; ok && datum != "WGS84" {
		return 0, fmt.Errorf("%w: datum %s", ErrUnsupportedProjection, datum)
	}
	zone, err := strconv.Atoi(params["zone"])
	if err != nil || zone < 1 || zone > 60 {
		return 0, fmt.Errorf("%w: zone %q", ErrUnsupportedProjection, params["zone"])
	}
	if _, south := params["south"]; south {
		return 32700 + zone, nil
	}
	return 32600 + zone, nil
}

// Projection maps network positions to WGS84.
type Projection struct {
	epsg    int
	offset  core.Position2D
	forward func(a, b, c float64) (float64, float64, float64)
	inverse func(a, b, c float64) (float64, float64, float64)
}

// NewProjection builds the projection of a network from its proj string
// and net offset.
func NewProjection(proj string, offset core.Position2D) (*Projection, error) {
	code, err := EPSGFromProj(proj)
	if err != nil {
		return nil, err
	}
	epsg := wgs84.EPSG()
	return &Projection{
		epsg:    code,
		offset:  offset,
		forward: epsg.Transform(code, epsgWGS84),
		inverse: epsg.Transform(epsgWGS84, code),
	}, nil
}

// EPSG returns the code of the projected system.
func (p *Projection) EPSG() int {
	return p.epsg
}

// LonLat converts a network position. ok is false for unknown positions.
func (p *Projection) LonLat(pos core.Position2D) (lon, lat float64, ok bool) {
	if !pos.Known() {
		return 0, 0, false
	}
	lon, lat, _ = p.forward(pos.X-p.offset.X, pos.Y-p.offset.Y, 0)
	return lon, lat, true
}

// Position converts a WGS84 location to network coordinates.
func (p *Projection) Position(lon, lat float64) core.Position2D {
	x, y, _ := p.inverse(lon, lat, 0)
	return core.Position2D{X: x + p.offset.X, Y: y + p.offset.Y}
}

// Point converts a network position to a WGS84 point, empty when unknown.
func (p *Projection) Point(pos core.Position2D) geom.Point {
	lon, lat, ok := p.LonLat(pos)
	if !ok {
		return geom.Point{}
	}
	return geom.XY{X: lon, Y: lat}.AsPoint()
}

// Coords3857From4326 creates a web mercator point from a longitude and latitude
func Coords3857From4326(
	longitude float64,
	latitude float64,
) (
	point geom.Point,
	err error,
) {
	epsg := wgs84.EPSG()
	f := epsg.Transform(epsgWGS84, 3857)
	x, y, _ := f(longitude, latitude, 0)
	return geom.XY{X: x, Y: y}.AsPoint(), nil
}
