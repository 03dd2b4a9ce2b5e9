package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ctrldec/trafficmirror/internal/entity"
	"github.com/ctrldec/trafficmirror/pkg/core"
)

// VehicleHandle addresses one vehicle. Getters read the mirror, setters
// write through to the engine. A handle outlives its vehicle: after arrival
// getters return zero values and setters return ErrUnknownVehicle.
type VehicleHandle struct {
	s  *Session
	id string
}

func (h *VehicleHandle) ID() string { return h.id }

// Snapshot returns an immutable copy of the vehicle. ok is false once the
// vehicle has left the network.
func (h *VehicleHandle) Snapshot() (core.VehicleState, bool) {
	rec, ok := h.s.vehicles.Get(h.id)
	if !ok {
		return core.VehicleState{}, false
	}
	return rec.Snapshot(), true
}

// Position is core.UnknownPosition until the first update lands.
func (h *VehicleHandle) Position() core.Position2D {
	rec, ok := h.s.vehicles.Get(h.id)
	if !ok {
		return core.UnknownPosition
	}
	return rec.Position
}

func (h *VehicleHandle) Speed() float64 {
	rec, _ := h.s.vehicles.Get(h.id)
	return rec.Speed
}

func (h *VehicleHandle) Angle() float64 {
	rec, _ := h.s.vehicles.Get(h.id)
	return rec.Angle
}

func (h *VehicleHandle) Color() core.Color {
	rec, _ := h.s.vehicles.Get(h.id)
	return rec.Color
}

func (h *VehicleHandle) SetSpeed(ctx context.Context, speed float64) error {
	if err := h.check(); err != nil {
		return err
	}
	conn, err := h.s.connection()
	if err != nil {
		return err
	}
	if err := conn.SetVehicleSpeed(ctx, h.id, speed); err != nil {
		h.s.logger.Warn("set speed failed", "vehicle", h.id, "error", err)
		return err
	}
	h.s.vehicles.Update(h.id, func(v *entity.Vehicle) { v.Speed = speed })
	return nil
}

func (h *VehicleHandle) SetColor(ctx context.Context, c core.Color) error {
	if err := h.check(); err != nil {
		return err
	}
	conn, err := h.s.connection()
	if err != nil {
		return err
	}
	c.Set = true
	if err := conn.SetVehicleColor(ctx, h.id, c); err != nil {
		h.s.logger.Warn("set color failed", "vehicle", h.id, "error", err)
		return err
	}
	h.s.vehicles.Update(h.id, func(v *entity.Vehicle) { v.Color = c })
	return nil
}

func (h *VehicleHandle) check() error {
	if !h.s.vehicles.Has(h.id) {
		return fmt.Errorf("%w: %q", ErrUnknownVehicle, h.id)
	}
	return nil
}

// SignalHandle addresses one signal controller.
type SignalHandle struct {
	s  *Session
	id string
}

func (h *SignalHandle) ID() string { return h.id }

func (h *SignalHandle) Snapshot() (core.SignalState, bool) {
	rec, ok := h.s.signals.Get(h.id)
	if !ok {
		return core.SignalState{}, false
	}
	return rec.Snapshot(), true
}

// State returns one character per controlled link.
func (h *SignalHandle) State() string {
	rec, _ := h.s.signals.Get(h.id)
	return rec.State
}

func (h *SignalHandle) LinkCount() int {
	rec, _ := h.s.signals.Get(h.id)
	return rec.LinkCount()
}

// Link returns the state and lanes of link index.
func (h *SignalHandle) Link(index int) (core.LinkState, bool) {
	return h.s.SignalLink(h.id, index)
}

func (h *SignalHandle) record() (entity.Signal, error) {
	rec, ok := h.s.signals.Get(h.id)
	if !ok {
		return entity.Signal{}, fmt.Errorf("%w: %q", ErrUnknownSignal, h.id)
	}
	return rec, nil
}

// SetState puts the signal under manual control with def, one character
// per controlled link.
func (h *SignalHandle) SetState(ctx context.Context, def string) error {
	rec, err := h.record()
	if err != nil {
		return err
	}
	if len(def) != rec.LinkCount() {
		return fmt.Errorf("%w: %q has %d characters, %q controls %d links",
			ErrStateLength, def, len(def), h.id, rec.LinkCount())
	}
	conn, err := h.s.connection()
	if err != nil {
		return err
	}
	if err := conn.SetSignalState(ctx, h.id, def); err != nil {
		h.s.logger.Warn("set signal state failed", "signal", h.id, "error", err)
		return err
	}
	h.s.signals.Update(h.id, func(s *entity.Signal) { s.State = def })
	return nil
}

// SetStateFor holds def for ticks steps of the current delay, then restores
// the original program. It blocks for the whole duration. When ctx ends
// early the program is still restored, under RestoreTimeout, and the
// context error is returned.
func (h *SignalHandle) SetStateFor(ctx context.Context, def string, ticks int) error {
	if err := h.SetState(ctx, def); err != nil {
		return err
	}

	hold := time.Duration(ticks) * h.s.Delay()
	timer := time.NewTimer(hold)
	defer timer.Stop()

	select {
	case <-timer.C:
		return h.RestoreProgram(ctx)
	case <-ctx.Done():
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.s.cfg.RestoreTimeout)
		defer cancel()
		if err := h.RestoreProgram(rctx); err != nil {
			return errors.Join(ctx.Err(), err)
		}
		return ctx.Err()
	}
}

// RestoreProgram hands the signal back to its original program.
func (h *SignalHandle) RestoreProgram(ctx context.Context) error {
	rec, err := h.record()
	if err != nil {
		return err
	}
	conn, err := h.s.connection()
	if err != nil {
		return err
	}
	if err := conn.SetSignalProgram(ctx, h.id, rec.OriginalProgram); err != nil {
		h.s.logger.Warn("restore program failed", "signal", h.id, "program", rec.OriginalProgram, "error", err)
		return err
	}
	return nil
}

// AdvancePhase moves the signal to the next phase of its active program,
// wrapping to the first. Program and phase are read from the engine.
func (h *SignalHandle) AdvancePhase(ctx context.Context) error {
	rec, err := h.record()
	if err != nil {
		return err
	}
	conn, err := h.s.connection()
	if err != nil {
		return err
	}

	program, err := conn.SignalProgram(ctx, h.id)
	if err != nil {
		return err
	}
	index, err := conn.SignalPhase(ctx, h.id)
	if err != nil {
		return err
	}
	logics, err := conn.SignalLogics(ctx, h.id)
	if err != nil {
		return err
	}

	var phases int
	var states []string
	for _, l := range logics {
		if l.ProgramID == program {
			phases = len(l.Phases)
			for _, p := range l.Phases {
				states = append(states, p.State)
			}
			break
		}
	}
	if phases == 0 {
		return fmt.Errorf("%w: program %q of %q", ErrNoPhases, program, h.id)
	}

	next := ((index+1)%phases + phases) % phases
	if err := conn.SetSignalPhase(ctx, h.id, next); err != nil {
		h.s.logger.Warn("set phase failed", "signal", h.id, "phase", next, "error", err)
		return err
	}
	if len(states[next]) == rec.LinkCount() {
		h.s.signals.Update(h.id, func(s *entity.Signal) { s.State = states[next] })
	}
	return nil
}
