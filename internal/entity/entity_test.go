package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ctrldec/trafficmirror/pkg/core"
)

func TestVehicle_NewHasUnknownPosition(t *testing.T) {
	v := NewVehicle("veh0", core.Color{}, 4)
	s := v.Snapshot()

	assert.Equal(t, "veh0", s.ID)
	assert.False(t, s.Position.Known())
	assert.True(t, s.Valid)
	assert.Equal(t, uint64(4), s.Tick)
}

func TestVehicle_SnapshotIsIndependent(t *testing.T) {
	v := NewVehicle("veh0", core.RGBA(1, 2, 3, 4), 0)
	v.Speed = 5
	snap := v.Snapshot()

	v.Speed = 9
	v.Position = core.Position2D{X: 1, Y: 1}

	assert.Equal(t, 5.0, snap.Speed)
	assert.False(t, snap.Position.Known())
}

func TestSignal_LinksAreNotShared(t *testing.T) {
	links := []core.Link{{FromLane: "a_0", ToLane: "b_0"}, {FromLane: "a_1", ToLane: "c_0"}}
	s := NewSignal("J1", "0", links)
	s.State = "Gr"

	links[0].FromLane = "changed"
	snap := s.Snapshot()
	assert.Equal(t, "a_0", snap.Links[0].FromLane)
	assert.Equal(t, 2, s.LinkCount())

	snap.Links[1].ToLane = "changed"
	again := s.Snapshot()
	assert.Equal(t, "c_0", again.Links[1].ToLane)
}
