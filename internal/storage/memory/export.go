package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FormatVersion is written to every export.
const FormatVersion = 1

// RunExport is the root JSON structure
type RunExport struct {
	FormatVersion int           `json:"formatVersion"`
	RunID         string        `json:"runId"`
	EngineAddr    string        `json:"engineAddr"`
	EngineVersion string        `json:"engineVersion"`
	StartTime     time.Time     `json:"startTime"`
	EndTime       time.Time     `json:"endTime"`
	StepDelayMs   int64         `json:"stepDelayMs"`
	EndTick       uint64        `json:"endTick"`
	SimTime       float64       `json:"simTime"`
	Vehicles      []VehicleJSON `json:"vehicles"`
	Signals       []SignalJSON  `json:"signals"`
	// Events are [tick, kind, vehicleId]
	Events [][]any `json:"events"`
}

// VehicleJSON is one vehicle track. Positions are
// [tick, x, y, speed, angle]; x and y are null while unknown.
type VehicleJSON struct {
	ID        string  `json:"id"`
	Color     []int   `json:"color,omitempty"`
	StartTick uint64  `json:"startTick"`
	EndTick   uint64  `json:"endTick"`
	Positions [][]any `json:"positions"`
}

// SignalJSON is one signal track. States are [tick, state].
type SignalJSON struct {
	ID      string     `json:"id"`
	Program string     `json:"program"`
	Links   [][]string `json:"links"`
	States  [][]any    `json:"states"`
}

// exportJSON writes the run data to a (possibly gzipped) JSON file
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	runID := strings.NewReplacer(" ", "_", ":", "_", "/", "_").Replace(b.run.ID)
	timestamp := b.run.StartTime.UTC().Format("20060102_150405")

	var filename string
	if b.cfg.CompressOutput {
		filename = fmt.Sprintf("%s_%s.json.gz", timestamp, runID)
	} else {
		filename = fmt.Sprintf("%s_%s.json", timestamp, runID)
	}

	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if b.cfg.CompressOutput {
		if err := writeGzipJSON(outputPath, export); err != nil {
			return err
		}
	} else {
		if err := writeJSON(outputPath, export); err != nil {
			return err
		}
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildExport() RunExport {
	export := RunExport{
		FormatVersion: FormatVersion,
		RunID:         b.run.ID,
		EngineAddr:    b.run.EngineAddr,
		EngineVersion: b.run.EngineVersion,
		StartTime:     b.run.StartTime,
		StepDelayMs:   b.run.StepDelay.Milliseconds(),
		EndTick:       b.lastTick,
		SimTime:       b.simTime,
		Vehicles:      make([]VehicleJSON, 0, len(b.vehicles)),
		Signals:       make([]SignalJSON, 0, len(b.signals)),
		Events:        make([][]any, 0, len(b.events)),
	}
	if b.end != nil {
		export.EndTime = b.end.EndTime
		if b.end.EndTick > export.EndTick {
			export.EndTick = b.end.EndTick
		}
	}

	for _, track := range b.vehicles {
		v := VehicleJSON{
			ID:        track.ID,
			StartTick: track.FirstTick,
			EndTick:   track.LastTick,
			Positions: make([][]any, 0, len(track.Samples)),
		}
		if track.Color.Set {
			v.Color = []int{int(track.Color.R), int(track.Color.G), int(track.Color.B), int(track.Color.A)}
		}
		for _, s := range track.Samples {
			v.Positions = append(v.Positions, []any{s.Tick, coord(s.Position.X), coord(s.Position.Y), s.Speed, s.Angle})
		}
		export.Vehicles = append(export.Vehicles, v)
	}
	sort.Slice(export.Vehicles, func(i, j int) bool {
		a, c := export.Vehicles[i], export.Vehicles[j]
		if a.StartTick != c.StartTick {
			return a.StartTick < c.StartTick
		}
		return a.ID < c.ID
	})

	for _, track := range b.signals {
		s := SignalJSON{
			ID:      track.ID,
			Program: track.Program,
			Links:   make([][]string, 0, len(track.Links)),
			States:  make([][]any, 0, len(track.Changes)),
		}
		for _, l := range track.Links {
			s.Links = append(s.Links, []string{l.FromLane, l.ToLane})
		}
		for _, c := range track.Changes {
			s.States = append(s.States, []any{c.Tick, c.State})
		}
		export.Signals = append(export.Signals, s)
	}
	sort.Slice(export.Signals, func(i, j int) bool { return export.Signals[i].ID < export.Signals[j].ID })

	for _, e := range b.events {
		export.Events = append(export.Events, []any{e.Tick, e.Kind, e.VehicleID})
	}

	return export
}

// coord returns nil for NaN so unknown positions encode as null.
func coord(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func writeJSON(path string, data RunExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func writeGzipJSON(path string, data RunExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	defer gzWriter.Close()

	encoder := json.NewEncoder(gzWriter)
	return encoder.Encode(data)
}
