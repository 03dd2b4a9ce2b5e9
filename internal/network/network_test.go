package network

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrldec/trafficmirror/internal/geo"
	"github.com/ctrldec/trafficmirror/pkg/core"
)

const crossNet = `<?xml version="1.0" encoding="UTF-8"?>
<net version="1.20" junctionCornerDetail="5">
    <location netOffset="-400000.00,-5800000.00" convBoundary="0.00,0.00,200.00,200.00" origBoundary="13.0,52.0,13.1,52.1" projParameter="+proj=utm +zone=33 +ellps=WGS84 +datum=WGS84 +units=m +no_defs"/>

    <edge id=":C_0" function="internal">
        <lane id=":C_0_0" index="0" speed="13.89" length="9.50" shape="98.40,104.80 98.40,95.20"/>
    </edge>
    <edge id="N2C" from="N" to="C" priority="1">
        <lane id="N2C_0" index="0" speed="13.89" length="95.20" shape="98.40,200.00 98.40,104.80"/>
        <lane id="N2C_1" index="1" speed="13.89" length="95.20" shape="95.20,200.00 95.20,104.80"/>
    </edge>
    <edge id="C2S" from="C" to="S" priority="1">
        <lane id="C2S_0" index="0" speed="13.89" length="95.20" shape="98.40,95.20 98.40,0.00"/>
    </edge>

    <tlLogic id="C" type="static" programID="0" offset="0">
        <phase duration="31" state="GGr"/>
    </tlLogic>

    <junction id="C" type="traffic_light" x="100.00" y="100.00" incLanes="N2C_0 N2C_1" shape="92,104.8 104,104.8 104,95.2 92,95.2"/>
    <junction id="N" type="dead_end" x="100.00" y="200.00" shape=""/>
    <junction id="S" type="dead_end" x="100.00" y="0.00"/>
</net>`

func TestParse(t *testing.T) {
	n, err := Parse(strings.NewReader(crossNet))
	require.NoError(t, err)

	assert.Equal(t, core.Position2D{X: -400000, Y: -5800000}, n.Location.Offset)
	assert.Equal(t, [4]float64{0, 0, 200, 200}, n.Location.Bounds)
	require.Len(t, n.Edges, 3)
	require.Len(t, n.Junctions, 3)

	l, ok := n.Lane("N2C_1")
	require.True(t, ok)
	assert.Equal(t, "N2C", l.EdgeID)
	assert.Equal(t, 1, l.Index)
	assert.InDelta(t, 13.89, l.Speed, 1e-9)
	assert.InDelta(t, 95.2, l.Shape.Length(), 1e-9)

	e, ok := n.Edge(":C_0")
	require.True(t, ok)
	assert.True(t, e.Internal())

	c, ok := n.Junction("C")
	require.True(t, ok)
	assert.Equal(t, core.Position2D{X: 100, Y: 100}, c.Position)
	assert.False(t, c.Shape.IsEmpty())

	north, _ := n.Junction("N")
	assert.True(t, north.Shape.IsEmpty())
}

func TestSummary(t *testing.T) {
	n, err := Parse(strings.NewReader(crossNet))
	require.NoError(t, err)

	s := n.Summary()
	assert.Equal(t, 2, s.Edges)
	assert.Equal(t, 1, s.InternalEdges)
	assert.Equal(t, 4, s.Lanes)
	assert.Equal(t, 3, s.Junctions)
	assert.Equal(t, 1, s.Signals)
	assert.InDelta(t, 3*95.2, s.TotalLaneLength, 1e-9)
}

func TestLanePosition(t *testing.T) {
	n, err := Parse(strings.NewReader(crossNet))
	require.NoError(t, err)

	p, heading, err := n.LanePosition("C2S_0", 45.2)
	require.NoError(t, err)
	assert.InDelta(t, 98.4, p.X, 1e-9)
	assert.InDelta(t, 50, p.Y, 1e-9)
	assert.InDelta(t, 180, heading, 1e-9)

	_, _, err = n.LanePosition("nope", 1)
	assert.True(t, errors.Is(err, ErrUnknownLane))
}

func TestLinkGeometry(t *testing.T) {
	n, err := Parse(strings.NewReader(crossNet))
	require.NoError(t, err)

	from, to, err := n.LinkGeometry(core.Link{FromLane: "N2C_0", ToLane: "C2S_0", ViaLane: ":C_0_0"})
	require.NoError(t, err)
	assert.Equal(t, "N2C", from.EdgeID)
	assert.Equal(t, "C2S", to.EdgeID)

	_, _, err = n.LinkGeometry(core.Link{FromLane: "N2C_0", ToLane: "x"})
	assert.ErrorIs(t, err, ErrUnknownLane)
}

func TestProjection(t *testing.T) {
	n, err := Parse(strings.NewReader(crossNet))
	require.NoError(t, err)

	p, err := n.Projection()
	require.NoError(t, err)
	assert.Equal(t, 32633, p.EPSG())

	lon, lat, ok := p.LonLat(core.Position2D{X: 100, Y: 100})
	require.True(t, ok)
	assert.InDelta(t, 13.5, lon, 0.5)
	assert.InDelta(t, 52.3, lat, 0.5)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(strings.NewReader("<net><edge id=\"e\"><lane id=\"e_0\" shape=\"1,1\"/></edge></net>"))
	assert.Error(t, err)

	_, err = Parse(strings.NewReader(`<net><location netOffset="a,b"/></net>`))
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinates)

	_, err = Parse(strings.NewReader("not xml"))
	assert.Error(t, err)
}

func TestParse_NoLocation(t *testing.T) {
	n, err := Parse(strings.NewReader(`<net><edge id="e"><lane id="e_0" index="0" shape="0,0 10,5"/></edge></net>`))
	require.NoError(t, err)

	assert.Equal(t, [4]float64{0, 0, 10, 5}, n.Location.Bounds)
	l, _ := n.Lane("e_0")
	assert.Greater(t, l.Length, 0.0)

	_, err = n.Projection()
	assert.ErrorIs(t, err, geo.ErrNoProjection)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cross.net.xml")
	require.NoError(t, os.WriteFile(path, []byte(crossNet), 0o644))

	n, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, n.Edges, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.net.xml"))
	assert.True(t, os.IsNotExist(err))
}
