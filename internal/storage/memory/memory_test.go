package memory

import (
	"compress/gzip"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrldec/trafficmirror/internal/config"
	"github.com/ctrldec/trafficmirror/internal/storage"
	"github.com/ctrldec/trafficmirror/pkg/core"
)

// Compile-time interface checks
var (
	_ storage.Backend    = (*Backend)(nil)
	_ storage.Exportable = (*Backend)(nil)
)

func testRun() *core.Run {
	return &core.Run{
		ID:         "run-1",
		StartTime:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		EngineAddr: "localhost:8813",
		StepDelay:  200 * time.Millisecond,
		Signals: []core.SignalState{{
			ID:      "J1",
			Program: "0",
			State:   "Grr",
			Links:   []core.Link{{FromLane: "n_0", ToLane: "s_0"}, {FromLane: "e_0", ToLane: "w_0"}, {FromLane: "w_0", ToLane: "e_0"}},
		}},
	}
}

func frame(tick uint64, state string, vehicles ...core.VehicleState) *core.Frame {
	return &core.Frame{
		Tick:     tick,
		SimTime:  float64(tick),
		Vehicles: vehicles,
		Signals:  []core.SignalState{{ID: "J1", Program: "0", State: state}},
	}
}

func vehicle(id string, x float64) core.VehicleState {
	return core.VehicleState{ID: id, Position: core.Position2D{X: x, Y: 1}, Speed: 10, Angle: 90, Valid: true}
}

func TestRecordFrame_WithoutRun(t *testing.T) {
	b := New(config.MemoryConfig{})
	assert.ErrorIs(t, b.RecordFrame(frame(1, "Grr")), storage.ErrNoRun)
	assert.ErrorIs(t, b.EndRun(&core.RunEnd{}), storage.ErrNoRun)
}

func TestRecordFrame_BuildsTracks(t *testing.T) {
	b := New(config.MemoryConfig{})
	require.NoError(t, b.StartRun(testRun()))

	f1 := frame(1, "Grr", vehicle("v0", 0))
	f1.Departed = []string{"v0"}
	require.NoError(t, b.RecordFrame(f1))
	require.NoError(t, b.RecordFrame(frame(2, "Grr", vehicle("v0", 10), vehicle("v1", 0))))
	f3 := frame(3, "yrr", vehicle("v1", 10))
	f3.Arrived = []string{"v0"}
	require.NoError(t, b.RecordFrame(f3))

	v0, ok := b.Vehicle("v0")
	require.True(t, ok)
	assert.Equal(t, uint64(1), v0.FirstTick)
	assert.Equal(t, uint64(2), v0.LastTick)
	require.Len(t, v0.Samples, 2)
	assert.Equal(t, 10.0, v0.Samples[1].Position.X)

	_, ok = b.Vehicle("nope")
	assert.False(t, ok)

	j1, ok := b.Signal("J1")
	require.True(t, ok)
	assert.Equal(t, []SignalChange{{Tick: 0, State: "Grr"}, {Tick: 3, State: "yrr"}}, j1.Changes)
	assert.Len(t, j1.Links, 3)

	assert.Equal(t, []Event{
		{Tick: 1, Kind: EventDeparted, VehicleID: "v0"},
		{Tick: 3, Kind: EventArrived, VehicleID: "v0"},
	}, b.Events())
}

func TestStartRun_ResetsTracks(t *testing.T) {
	b := New(config.MemoryConfig{})
	require.NoError(t, b.StartRun(testRun()))
	require.NoError(t, b.RecordFrame(frame(1, "Grr", vehicle("v0", 0))))

	require.NoError(t, b.StartRun(testRun()))
	_, ok := b.Vehicle("v0")
	assert.False(t, ok)
	assert.Empty(t, b.Events())
}

func TestEndRun_ExportsJSON(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir})
	require.NoError(t, b.StartRun(testRun()))

	unknown := core.VehicleState{ID: "v0", Position: core.UnknownPosition, Valid: true}
	colored := vehicle("v1", 5)
	colored.Color = core.RGBA(255, 0, 0, 255)
	require.NoError(t, b.RecordFrame(frame(1, "Grr", unknown, colored)))
	require.NoError(t, b.EndRun(&core.RunEnd{RunID: "run-1", EndTick: 1, EndTime: time.Now()}))

	path := b.ExportedFilePath()
	assert.Equal(t, filepath.Join(dir, "20260301_120000_run-1.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var export RunExport
	require.NoError(t, json.Unmarshal(data, &export))
	assert.Equal(t, FormatVersion, export.FormatVersion)
	assert.Equal(t, "run-1", export.RunID)
	assert.Equal(t, int64(200), export.StepDelayMs)
	assert.Equal(t, uint64(1), export.EndTick)
	require.Len(t, export.Vehicles, 2)
	assert.Equal(t, "v0", export.Vehicles[0].ID)
	assert.Nil(t, export.Vehicles[0].Positions[0][1])
	assert.Empty(t, export.Vehicles[0].Color)
	assert.Equal(t, []int{255, 0, 0, 255}, export.Vehicles[1].Color)
	require.Len(t, export.Signals, 1)
	assert.Equal(t, []string{"n_0", "s_0"}, export.Signals[0].Links[0])
}

func TestEndRun_ExportsGzip(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir, CompressOutput: true})
	require.NoError(t, b.StartRun(testRun()))
	require.NoError(t, b.RecordFrame(frame(1, "Grr", vehicle("v0", 0))))
	require.NoError(t, b.EndRun(&core.RunEnd{RunID: "run-1", EndTick: 1}))

	path := b.ExportedFilePath()
	assert.Equal(t, ".gz", filepath.Ext(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	var export RunExport
	require.NoError(t, json.NewDecoder(gz).Decode(&export))
	require.Len(t, export.Vehicles, 1)
	assert.Equal(t, float64(1), export.Vehicles[0].Positions[0][0])
}

func TestCoord(t *testing.T) {
	assert.Nil(t, coord(math.NaN()))
	assert.Equal(t, 1.5, coord(1.5))
}
