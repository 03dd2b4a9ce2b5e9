// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"database/sql"
	"encoding/json"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"

	"github.com/ctrldec/trafficmirror/internal/model"
	"github.com/ctrldec/trafficmirror/pkg/core"
)

// positionToPoint converts a core.Position2D to a geom.Point. An unknown
// position becomes the empty point.
func positionToPoint(p core.Position2D) geom.Point {
	if !p.Known() {
		return geom.Point{}
	}
	return geom.XY{X: p.X, Y: p.Y}.AsPoint()
}

// pointToPosition is the inverse of positionToPoint.
func pointToPosition(pt geom.Point) core.Position2D {
	xy, ok := pt.XY()
	if !ok {
		return core.UnknownPosition
	}
	return core.Position2D{X: xy.X, Y: xy.Y}
}

// colorToJSON converts a color to datatypes.JSON; unset colors are null.
func colorToJSON(c core.Color) datatypes.JSON {
	if !c.Set {
		return datatypes.JSON("null")
	}
	data, _ := json.Marshal([4]uint8{c.R, c.G, c.B, c.A})
	return datatypes.JSON(data)
}

func jsonToColor(j datatypes.JSON) core.Color {
	if len(j) == 0 || string(j) == "null" {
		return core.Color{}
	}
	var rgba [4]uint8
	if err := json.Unmarshal(j, &rgba); err != nil {
		return core.Color{}
	}
	return core.RGBA(rgba[0], rgba[1], rgba[2], rgba[3])
}

func linksToJSON(links []core.Link) datatypes.JSON {
	if len(links) == 0 {
		return datatypes.JSON("[]")
	}
	data, _ := json.Marshal(links)
	return datatypes.JSON(data)
}

// CoreToRun converts a core.Run to a GORM model.Run.
func CoreToRun(r core.Run) model.Run {
	return model.Run{
		ID:            r.ID,
		StartTime:     r.StartTime,
		EngineAddr:    r.EngineAddr,
		EngineVersion: r.EngineVersion,
		StepDelayMs:   r.StepDelay.Milliseconds(),
	}
}

// ApplyRunEnd copies the closing fields of end onto r.
func ApplyRunEnd(r *model.Run, end core.RunEnd) {
	r.EndTime = sql.NullTime{Time: end.EndTime, Valid: !end.EndTime.IsZero()}
	r.EndTick = end.EndTick
	r.SimTime = end.SimTime
}

// CoreToSignals converts the signals enumerated at run start.
func CoreToSignals(runID string, signals []core.SignalState) []model.Signal {
	out := make([]model.Signal, 0, len(signals))
	for _, s := range signals {
		out = append(out, model.Signal{
			RunID:     runID,
			SignalID:  s.ID,
			Program:   s.Program,
			LinkCount: len(s.Links),
			Links:     linksToJSON(s.Links),
		})
	}
	return out
}

// FrameToVehicleStates converts every vehicle of a frame.
func FrameToVehicleStates(runID string, f core.Frame) []model.VehicleState {
	out := make([]model.VehicleState, 0, len(f.Vehicles))
	for _, v := range f.Vehicles {
		out = append(out, model.VehicleState{
			Time:      f.Captured,
			RunID:     runID,
			Tick:      f.Tick,
			SimTime:   f.SimTime,
			VehicleID: v.ID,
			Position:  positionToPoint(v.Position),
			Speed:     v.Speed,
			Angle:     v.Angle,
			Color:     colorToJSON(v.Color),
		})
	}
	return out
}

// VehicleStateToCore converts a stored row back to a snapshot.
func VehicleStateToCore(m model.VehicleState) core.VehicleState {
	return core.VehicleState{
		ID:       m.VehicleID,
		Position: pointToPosition(m.Position),
		Speed:    m.Speed,
		Angle:    m.Angle,
		Color:    jsonToColor(m.Color),
		Valid:    true,
		Tick:     m.Tick,
	}
}

// FrameToSignalStates converts the signals of a frame whose state differs
// from last, and updates last.
func FrameToSignalStates(runID string, f core.Frame, last map[string]string) []model.SignalState {
	var out []model.SignalState
	for _, s := range f.Signals {
		if s.State == "" || last[s.ID] == s.State {
			continue
		}
		last[s.ID] = s.State
		out = append(out, model.SignalState{
			Time:     f.Captured,
			RunID:    runID,
			Tick:     f.Tick,
			SignalID: s.ID,
			State:    s.State,
		})
	}
	return out
}

// FrameToLifecycleEvents converts the departures and arrivals of a frame.
func FrameToLifecycleEvents(runID string, f core.Frame) []model.LifecycleEvent {
	out := make([]model.LifecycleEvent, 0, len(f.Departed)+len(f.Arrived))
	add := func(kind string, ids []string) {
		for _, id := range ids {
			out = append(out, model.LifecycleEvent{
				Time:      f.Captured,
				RunID:     runID,
				Tick:      f.Tick,
				Kind:      kind,
				VehicleID: id,
			})
		}
	}
	add(model.EventDeparted, f.Departed)
	add(model.EventArrived, f.Arrived)
	return out
}
