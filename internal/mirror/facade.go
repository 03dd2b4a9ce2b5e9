package mirror

import (
	"context"

	"github.com/ctrldec/trafficmirror/internal/routes"
	"github.com/ctrldec/trafficmirror/pkg/core"
)

// VehicleIDs returns the IDs of the mirrored vehicles, sorted.
func (s *Session) VehicleIDs() []string {
	return s.vehicles.IDs()
}

// Vehicle returns a handle for a mirrored vehicle.
func (s *Session) Vehicle(id string) (*VehicleHandle, bool) {
	if !s.vehicles.Has(id) {
		return nil, false
	}
	return &VehicleHandle{s: s, id: id}, true
}

// Vehicles returns snapshots of all vehicles from one published tick.
func (s *Session) Vehicles() []core.VehicleState {
	all := s.vehicles.All()
	out := make([]core.VehicleState, len(all))
	for i, v := range all {
		out[i] = v.Snapshot()
	}
	return out
}

// SignalIDs returns the IDs of the mirrored signals, sorted.
func (s *Session) SignalIDs() []string {
	return s.signals.IDs()
}

// Signal returns a handle for a mirrored signal.
func (s *Session) Signal(id string) (*SignalHandle, bool) {
	if !s.signals.Has(id) {
		return nil, false
	}
	return &SignalHandle{s: s, id: id}, true
}

// Signals returns snapshots of all signals from one published tick.
func (s *Session) Signals() []core.SignalState {
	all := s.signals.All()
	out := make([]core.SignalState, len(all))
	for i, v := range all {
		out[i] = v.Snapshot()
	}
	return out
}

// SignalLink returns the state and lanes of link index of signal id. ok is
// false for unknown signals and out of range indexes.
func (s *Session) SignalLink(id string, index int) (core.LinkState, bool) {
	rec, ok := s.signals.Get(id)
	if !ok {
		return core.LinkState{}, false
	}
	return rec.Snapshot().Link(index)
}

// DroppedUpdates returns how many pushed updates referenced unknown IDs.
func (s *Session) DroppedUpdates() uint64 {
	return s.manager.Dropped()
}

// Routes returns the route catalog.
func (s *Session) Routes() *routes.Catalog {
	return s.catalog
}

// InjectBasic adds a vehicle on the first route. It appears in VehicleIDs
// after the next step.
func (s *Session) InjectBasic(ctx context.Context, vehicleID string) error {
	if _, err := s.connection(); err != nil {
		return err
	}
	return s.catalog.InjectBasic(ctx, vehicleID)
}

// InjectOnRoute adds a vehicle on route index i of the catalog.
func (s *Session) InjectOnRoute(ctx context.Context, vehicleID string, i int) error {
	if _, err := s.connection(); err != nil {
		return err
	}
	return s.catalog.InjectOnRoute(ctx, vehicleID, i)
}
