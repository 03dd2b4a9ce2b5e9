// Package network reads SUMO network files (.net.xml) into lane and
// junction geometry, so controlled links reported by the engine can be
// placed on a map.
package network

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/ctrldec/trafficmirror/internal/geo"
	"github.com/ctrldec/trafficmirror/pkg/core"
)

// ErrUnknownLane is returned for lane IDs missing from the network.
var ErrUnknownLane = errors.New("unknown lane")

// Junction types with a signal controller.
const (
	JunctionTrafficLight      = "traffic_light"
	JunctionTrafficLightRight = "traffic_light_right_on_red"
)

// Location is the georeference of the network.
type Location struct {
	Offset core.Position2D
	// Bounds is minX, minY, maxX, maxY in network coordinates.
	Bounds        [4]float64
	ProjParameter string
}

// Junction is a node of the network.
type Junction struct {
	ID       string
	Type     string
	Position core.Position2D
	// Shape is the outline, empty when the file has none.
	Shape geom.LineString
}

// Lane is one lane of an edge.
type Lane struct {
	ID     string
	EdgeID string
	Index  int
	Speed  float64
	Length float64
	Shape  geom.LineString
}

// Edge is a directed road between two junctions.
type Edge struct {
	ID       string
	From     string
	To       string
	Function string
	Lanes    []*Lane
}

// Internal reports whether the edge lies inside a junction.
func (e *Edge) Internal() bool {
	return e.Function == "internal"
}

// Network is a parsed network file.
type Network struct {
	Location  Location
	Edges     []*Edge
	Junctions []*Junction

	lanes     map[string]*Lane
	edges     map[string]*Edge
	junctions map[string]*Junction
}

type xmlNet struct {
	XMLName   xml.Name      `xml:"net"`
	Location  xmlLocation   `xml:"location"`
	Edges     []xmlEdge     `xml:"edge"`
	Junctions []xmlJunction `xml:"junction"`
}

type xmlLocation struct {
	NetOffset     string `xml:"netOffset,attr"`
	ConvBoundary  string `xml:"convBoundary,attr"`
	ProjParameter string `xml:"projParameter,attr"`
}

type xmlEdge struct {
	ID       string    `xml:"id,attr"`
	From     string    `xml:"from,attr"`
	To       string    `xml:"to,attr"`
	Function string    `xml:"function,attr"`
	Lanes    []xmlLane `xml:"lane"`
}

type xmlLane struct {
	ID     string `xml:"id,attr"`
	Index  int    `xml:"index,attr"`
	Speed  string `xml:"speed,attr"`
	Length string `xml:"length,attr"`
	Shape  string `xml:"shape,attr"`
}

type xmlJunction struct {
	ID    string `xml:"id,attr"`
	Type  string `xml:"type,attr"`
	X     string `xml:"x,attr"`
	Y     string `xml:"y,attr"`
	Shape string `xml:"shape,attr"`
}

// Load reads the network file at path.
func Load(path string) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	n, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}

// Parse decodes a network document.
func Parse(r io.Reader) (*Network, error) {
	var doc xmlNet
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding network: %w", err)
	}

	n := &Network{
		lanes:     make(map[string]*Lane),
		edges:     make(map[string]*Edge, len(doc.Edges)),
		junctions: make(map[string]*Junction, len(doc.Junctions)),
	}

	if err := n.parseLocation(doc.Location); err != nil {
		return nil, err
	}

	for _, xe := range doc.Edges {
		e := &Edge{ID: xe.ID, From: xe.From, To: xe.To, Function: xe.Function}
		for _, xl := range xe.Lanes {
			shape, err := geo.ParseShape(xl.Shape)
			if err != nil {
				return nil, fmt.Errorf("lane %s: %w", xl.ID, err)
			}
			l := &Lane{
				ID:     xl.ID,
				EdgeID: xe.ID,
				Index:  xl.Index,
				Speed:  parseFloat(xl.Speed),
				Length: parseFloat(xl.Length),
				Shape:  shape,
			}
			if l.Length == 0 {
				l.Length = shape.Length()
			}
			e.Lanes = append(e.Lanes, l)
			n.lanes[l.ID] = l
		}
		n.Edges = append(n.Edges, e)
		n.edges[e.ID] = e
	}

	for _, xj := range doc.Junctions {
		j := &Junction{
			ID:       xj.ID,
			Type:     xj.Type,
			Position: core.Position2D{X: parseFloat(xj.X), Y: parseFloat(xj.Y)},
		}
		// junction outlines are optional and often degenerate
		if shape, err := geo.ParseShape(xj.Shape); err == nil {
			j.Shape = shape
		}
		n.Junctions = append(n.Junctions, j)
		n.junctions[j.ID] = j
	}

	if n.Location.Bounds == [4]float64{} {
		n.Location.Bounds = n.computeBounds()
	}
	return n, nil
}

func (n *Network) parseLocation(loc xmlLocation) error {
	n.Location.ProjParameter = loc.ProjParameter
	if loc.NetOffset != "" {
		off, err := geo.PositionFromString(loc.NetOffset)
		if err != nil {
			return fmt.Errorf("netOffset %q: %w", loc.NetOffset, err)
		}
		n.Location.Offset = off
	}
	if loc.ConvBoundary != "" {
		parts := strings.Split(loc.ConvBoundary, ",")
		if len(parts) != 4 {
			return fmt.Errorf("convBoundary %q: %w", loc.ConvBoundary, geo.ErrInvalidCoordinates)
		}
		for i, p := range parts {
			v, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return fmt.Errorf("convBoundary %q: %w", loc.ConvBoundary, geo.ErrInvalidCoordinates)
			}
			n.Location.Bounds[i] = v
		}
	}
	return nil
}

func (n *Network) computeBounds() [4]float64 {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, l := range n.lanes {
		seq := l.Shape.Coordinates()
		for i := 0; i < seq.Length(); i++ {
			xy := seq.GetXY(i)
			minX, maxX = math.Min(minX, xy.X), math.Max(maxX, xy.X)
			minY, maxY = math.Min(minY, xy.Y), math.Max(maxY, xy.Y)
		}
	}
	if math.IsInf(minX, 1) {
		return [4]float64{}
	}
	return [4]float64{minX, minY, maxX, maxY}
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// Lane looks a lane up by ID.
func (n *Network) Lane(id string) (*Lane, bool) {
	l, ok := n.lanes[id]
	return l, ok
}

// Edge looks an edge up by ID.
func (n *Network) Edge(id string) (*Edge, bool) {
	e, ok := n.edges[id]
	return e, ok
}

// Junction looks a junction up by ID.
func (n *Network) Junction(id string) (*Junction, bool) {
	j, ok := n.junctions[id]
	return j, ok
}

// LanePosition returns the point pos meters along a lane and the heading
// there.
func (n *Network) LanePosition(laneID string, pos float64) (core.Position2D, float64, error) {
	l, ok := n.lanes[laneID]
	if !ok {
		return core.UnknownPosition, 0, fmt.Errorf("%w: %s", ErrUnknownLane, laneID)
	}
	// lane lengths may differ from the drawn shape
	if shapeLen := l.Shape.Length(); l.Length > 0 && shapeLen > 0 {
		pos *= shapeLen / l.Length
	}
	p, heading := geo.PositionAlong(l.Shape, pos)
	return p, heading, nil
}

// LinkGeometry returns the incoming and outgoing lanes of a controlled link.
func (n *Network) LinkGeometry(link core.Link) (from, to *Lane, err error) {
	from, ok := n.lanes[link.FromLane]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownLane, link.FromLane)
	}
	to, ok = n.lanes[link.ToLane]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownLane, link.ToLane)
	}
	return from, to, nil
}

// Projection returns the WGS84 projection of the network, or
// geo.ErrNoProjection for networks in plain cartesian coordinates.
func (n *Network) Projection() (*geo.Projection, error) {
	return geo.NewProjection(n.Location.ProjParameter, n.Location.Offset)
}

// Summary counts the parts of a network.
type Summary struct {
	Edges           int
	InternalEdges   int
	Lanes           int
	Junctions       int
	Signals         int
	TotalLaneLength float64
	Bounds          [4]float64
}

// Summary returns counts over the whole network.
func (n *Network) Summary() Summary {
	s := Summary{
		Junctions: len(n.Junctions),
		Lanes:     len(n.lanes),
		Bounds:    n.Location.Bounds,
	}
	for _, e := range n.Edges {
		if e.Internal() {
			s.InternalEdges++
			continue
		}
		s.Edges++
		for _, l := range e.Lanes {
			s.TotalLaneLength += l.Length
		}
	}
	for _, j := range n.Junctions {
		if j.Type == JunctionTrafficLight || j.Type == JunctionTrafficLightRight {
			s.Signals++
		}
	}
	return s
}
