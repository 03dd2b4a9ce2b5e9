// Package memory records runs in memory and exports each one to a JSON file
// when it ends.
package memory

import (
	"sync"

	"github.com/ctrldec/trafficmirror/internal/config"
	"github.com/ctrldec/trafficmirror/internal/storage"
	"github.com/ctrldec/trafficmirror/pkg/core"
)

// VehicleSample is one tick of a vehicle's trajectory.
type VehicleSample struct {
	Tick     uint64
	Position core.Position2D
	Speed    float64
	Angle    float64
}

// VehicleTrack groups a vehicle with its trajectory.
type VehicleTrack struct {
	ID        string
	Color     core.Color
	FirstTick uint64
	LastTick  uint64
	Samples   []VehicleSample
}

// SignalChange records a new state string taking effect.
type SignalChange struct {
	Tick  uint64
	State string
}

// SignalTrack groups a signal with its state changes.
type SignalTrack struct {
	ID      string
	Program string
	Links   []core.Link
	Changes []SignalChange
}

// Event is a departure or arrival.
type Event struct {
	Tick      uint64
	Kind      string
	VehicleID string
}

const (
	EventDeparted = "departed"
	EventArrived  = "arrived"
)

// Backend stores run data in memory and exports to JSON
type Backend struct {
	cfg config.MemoryConfig
	run *core.Run
	end *core.RunEnd

	vehicles map[string]*VehicleTrack
	signals  map[string]*SignalTrack
	events   []Event
	lastTick uint64
	simTime  float64

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:      cfg,
		vehicles: make(map[string]*VehicleTrack),
		signals:  make(map[string]*SignalTrack),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartRun begins recording a new run. Signals known at start are tracked
// from tick 0.
func (b *Backend) StartRun(run *core.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.run = run
	b.end = nil
	b.vehicles = make(map[string]*VehicleTrack)
	b.signals = make(map[string]*SignalTrack)
	b.events = nil
	b.lastTick = 0
	b.simTime = 0

	for _, sig := range run.Signals {
		b.trackSignal(0, sig)
	}
	return nil
}

// EndRun finalizes and exports the run data
func (b *Backend) EndRun(end *core.RunEnd) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return storage.ErrNoRun
	}
	b.end = end
	return b.exportJSON()
}

// RecordFrame appends one tick to every track.
func (b *Backend) RecordFrame(f *core.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return storage.ErrNoRun
	}

	for _, id := range f.Departed {
		b.events = append(b.events, Event{Tick: f.Tick, Kind: EventDeparted, VehicleID: id})
	}
	for _, id := range f.Arrived {
		b.events = append(b.events, Event{Tick: f.Tick, Kind: EventArrived, VehicleID: id})
	}

	for _, v := range f.Vehicles {
		track, ok := b.vehicles[v.ID]
		if !ok {
			track = &VehicleTrack{ID: v.ID, FirstTick: f.Tick}
			b.vehicles[v.ID] = track
		}
		track.Color = v.Color
		track.LastTick = f.Tick
		track.Samples = append(track.Samples, VehicleSample{
			Tick:     f.Tick,
			Position: v.Position,
			Speed:    v.Speed,
			Angle:    v.Angle,
		})
	}

	for _, s := range f.Signals {
		b.trackSignal(f.Tick, s)
	}

	b.lastTick = f.Tick
	b.simTime = f.SimTime
	return nil
}

// trackSignal records s when its state differs from the last one seen.
func (b *Backend) trackSignal(tick uint64, s core.SignalState) {
	track, ok := b.signals[s.ID]
	if !ok {
		track = &SignalTrack{
			ID:      s.ID,
			Program: s.Program,
			Links:   append([]core.Link(nil), s.Links...),
		}
		b.signals[s.ID] = track
	}
	if s.State == "" {
		return
	}
	if n := len(track.Changes); n > 0 && track.Changes[n-1].State == s.State {
		return
	}
	track.Changes = append(track.Changes, SignalChange{Tick: tick, State: s.State})
}

// Vehicle returns a copy of the track of vehicle id.
func (b *Backend) Vehicle(id string) (VehicleTrack, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, ok := b.vehicles[id]
	if !ok {
		return VehicleTrack{}, false
	}
	cp := *t
	cp.Samples = append([]VehicleSample(nil), t.Samples...)
	return cp, true
}

// Signal returns a copy of the track of signal id.
func (b *Backend) Signal(id string) (SignalTrack, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, ok := b.signals[id]
	if !ok {
		return SignalTrack{}, false
	}
	cp := *t
	cp.Links = append([]core.Link(nil), t.Links...)
	cp.Changes = append([]SignalChange(nil), t.Changes...)
	return cp, true
}

// Events returns the departures and arrivals recorded so far.
func (b *Backend) Events() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Event(nil), b.events...)
}

// ExportedFilePath returns the path of the last export, empty before the
// first run ended.
func (b *Backend) ExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}
