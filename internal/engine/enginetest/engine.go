// Package enginetest provides an in-memory engine for tests. Vehicles depart
// on the tick after they are added, drive in a straight line and arrive
// after a configurable number of ticks. Signals hold static programs.
package enginetest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ctrldec/trafficmirror/internal/engine"
	"github.com/ctrldec/trafficmirror/pkg/core"
)

// Signal seeds a traffic light.
type Signal struct {
	ID      string
	Links   []core.Link
	Logics  []engine.Logic
	Program string
	Phase   int
}

type signal struct {
	Signal
	manual string
}

func (s *signal) logic() (engine.Logic, bool) {
	for _, l := range s.Logics {
		if l.ProgramID == s.Program {
			return l, true
		}
	}
	return engine.Logic{}, false
}

func (s *signal) state() string {
	if s.manual != "" {
		return s.manual
	}
	l, ok := s.logic()
	if !ok || s.Phase >= len(l.Phases) {
		return ""
	}
	return l.Phases[s.Phase].State
}

type vehicle struct {
	spec      engine.VehicleSpec
	pos       core.Position2D
	speed     float64
	color     core.Color
	remaining int
}

// Engine is a fake engine.Conn.
type Engine struct {
	mu sync.Mutex

	closed    bool
	time      float64
	tripTicks int
	version   string

	routes      []string
	signals     map[string]*signal
	signalOrder []string

	pending  []engine.VehicleSpec
	vehicles map[string]*vehicle
	order    []string
	colors   map[string]core.Color

	simVars     []engine.Var
	vehicleSubs map[string][]engine.Var
	signalSubs  map[string][]engine.Var
	extra       []engine.Update

	failures map[string][]error
	calls    map[string]int

	// Added records every accepted AddVehicle call.
	Added []engine.VehicleSpec
}

var _ engine.Conn = (*Engine)(nil)

// New returns an engine whose vehicles stay in the network for tripTicks
// ticks.
func New(tripTicks int) *Engine {
	if tripTicks < 1 {
		tripTicks = 1
	}
	return &Engine{
		tripTicks:   tripTicks,
		version:     "SUMO fake",
		signals:     make(map[string]*signal),
		vehicles:    make(map[string]*vehicle),
		colors:      make(map[string]core.Color),
		vehicleSubs: make(map[string][]engine.Var),
		signalSubs:  make(map[string][]engine.Var),
		failures:    make(map[string][]error),
		calls:       make(map[string]int),
	}
}

// Dialer returns a dialer handing out e.
func (e *Engine) Dialer() engine.Dialer {
	return func(ctx context.Context) (engine.Conn, error) {
		if err := e.fail("Dial"); err != nil {
			return nil, err
		}
		e.mu.Lock()
		e.closed = false
		e.mu.Unlock()
		return e, nil
	}
}

// AddRoutes registers raw route IDs, including internal ones.
func (e *Engine) AddRoutes(ids ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.routes = append(e.routes, ids...)
}

// AddSignal registers a traffic light.
func (e *Engine) AddSignal(s Signal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.signals[s.ID] = &signal{Signal: s}
	e.signalOrder = append(e.signalOrder, s.ID)
}

// SetColor fixes the color reported for vehicle id.
func (e *Engine) SetColor(id string, c core.Color) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.colors[id] = c
}

// Fail makes the next call of method return err. Calls queue up.
func (e *Engine) Fail(method string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[method] = append(e.failures[method], err)
}

// Push appends an update to the results of the next Step.
func (e *Engine) Push(u engine.Update) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.extra = append(e.extra, u)
}

// Calls returns how often method was invoked.
func (e *Engine) Calls(method string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[method]
}

// SignalPhaseOf returns the engine side phase of a signal.
func (e *Engine) SignalPhaseOf(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signals[id].Phase
}

// SignalProgramOf returns the engine side program of a signal.
func (e *Engine) SignalProgramOf(id string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signals[id].Program
}

// Live returns the IDs of vehicles currently in the network.
func (e *Engine) Live() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.order)
}

// enter records the call and returns a queued failure. Callers hold no lock.
func (e *Engine) enter(method string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[method]++
	if e.closed && method != "Close" {
		return engine.ErrClosed
	}
	return e.popFailure(method)
}

func (e *Engine) fail(method string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[method]++
	return e.popFailure(method)
}

func (e *Engine) popFailure(method string) error {
	q := e.failures[method]
	if len(q) == 0 {
		return nil
	}
	e.failures[method] = q[1:]
	return q[0]
}

func (e *Engine) Version(ctx context.Context) (int, string, error) {
	if err := e.enter("Version"); err != nil {
		return 0, "", err
	}
	return 21, e.version, nil
}

func (e *Engine) SetOrder(ctx context.Context, order int) error {
	return e.enter("SetOrder")
}

func (e *Engine) Close(ctx context.Context) error {
	if err := e.enter("Close"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return engine.ErrClosed
	}
	e.closed = true
	return nil
}

// Step advances one tick: moving vehicles, arrivals, then departures.
func (e *Engine) Step(ctx context.Context) ([]engine.Update, error) {
	if err := e.enter("Step"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.time++

	var arrived []string
	live := e.order[:0]
	for _, id := range e.order {
		v := e.vehicles[id]
		v.remaining--
		v.pos.X += v.speed
		if v.remaining <= 0 {
			arrived = append(arrived, id)
			delete(e.vehicles, id)
			delete(e.vehicleSubs, id)
			continue
		}
		live = append(live, id)
	}
	e.order = live

	departed := make([]string, 0, len(e.pending))
	for _, spec := range e.pending {
		e.vehicles[spec.ID] = &vehicle{
			spec:      spec,
			pos:       core.Position2D{X: 0, Y: float64(len(e.order))},
			speed:     10,
			color:     e.colors[spec.ID],
			remaining: e.tripTicks,
		}
		e.order = append(e.order, spec.ID)
		departed = append(departed, spec.ID)
	}
	e.pending = nil

	var updates []engine.Update
	if e.simVars != nil {
		values := map[engine.Var]any{}
		for _, v := range e.simVars {
			switch v {
			case engine.VarDeparted:
				values[v] = departed
			case engine.VarArrived:
				values[v] = arrived
			case engine.VarTime:
				values[v] = e.time
			}
		}
		updates = append(updates, engine.Update{Scope: engine.ScopeSimulation, Values: values})
	}
	for _, id := range e.order {
		if vars, ok := e.vehicleSubs[id]; ok {
			updates = append(updates, e.vehicleUpdate(id, vars))
		}
	}
	for _, id := range e.signalOrder {
		if vars, ok := e.signalSubs[id]; ok {
			updates = append(updates, e.signalUpdate(id, vars))
		}
	}
	updates = append(updates, e.extra...)
	e.extra = nil
	return updates, nil
}

func (e *Engine) vehicleUpdate(id string, vars []engine.Var) engine.Update {
	v := e.vehicles[id]
	values := map[engine.Var]any{}
	for _, k := range vars {
		switch k {
		case engine.VarPosition:
			values[k] = v.pos
		case engine.VarSpeed:
			values[k] = v.speed
		case engine.VarAngle:
			values[k] = 90.0
		}
	}
	return engine.Update{Scope: engine.ScopeVehicle, ID: id, Values: values}
}

func (e *Engine) signalUpdate(id string, vars []engine.Var) engine.Update {
	values := map[engine.Var]any{}
	for _, k := range vars {
		if k == engine.VarSignalState {
			values[k] = e.signals[id].state()
		}
	}
	return engine.Update{Scope: engine.ScopeSignal, ID: id, Values: values}
}

func (e *Engine) Subscribe(ctx context.Context, scope engine.Scope, id string, vars []engine.Var) (engine.Update, error) {
	if err := e.enter("Subscribe"); err != nil {
		return engine.Update{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	switch scope {
	case engine.ScopeSimulation:
		e.simVars = slices.Clone(vars)
		return engine.Update{Scope: scope, Values: map[engine.Var]any{}}, nil
	case engine.ScopeVehicle:
		if _, ok := e.vehicles[id]; !ok {
			return engine.Update{}, fmt.Errorf("vehicle %q is not known", id)
		}
		e.vehicleSubs[id] = slices.Clone(vars)
		return e.vehicleUpdate(id, vars), nil
	case engine.ScopeSignal:
		if _, ok := e.signals[id]; !ok {
			return engine.Update{}, fmt.Errorf("traffic light %q is not known", id)
		}
		e.signalSubs[id] = slices.Clone(vars)
		return e.signalUpdate(id, vars), nil
	}
	return engine.Update{}, fmt.Errorf("unknown scope %d", scope)
}

func (e *Engine) VehicleIDs(ctx context.Context) ([]string, error) {
	if err := e.enter("VehicleIDs"); err != nil {
		return nil, err
	}
	return e.Live(), nil
}

func (e *Engine) VehicleColor(ctx context.Context, id string) (core.Color, error) {
	if err := e.enter("VehicleColor"); err != nil {
		return core.Color{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.vehicles[id]
	if !ok {
		return core.Color{}, fmt.Errorf("vehicle %q is not known", id)
	}
	return v.color, nil
}

func (e *Engine) SetVehicleSpeed(ctx context.Context, id string, speed float64) error {
	if err := e.enter("SetVehicleSpeed"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.vehicles[id]
	if !ok {
		return fmt.Errorf("vehicle %q is not known", id)
	}
	v.speed = speed
	return nil
}

func (e *Engine) SetVehicleColor(ctx context.Context, id string, c core.Color) error {
	if err := e.enter("SetVehicleColor"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.vehicles[id]
	if !ok {
		return fmt.Errorf("vehicle %q is not known", id)
	}
	v.color = c
	return nil
}

func (e *Engine) AddVehicle(ctx context.Context, spec engine.VehicleSpec) error {
	if err := e.enter("AddVehicle"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !slices.Contains(e.routes, spec.RouteID) {
		return fmt.Errorf("route %q is not known", spec.RouteID)
	}
	if _, ok := e.vehicles[spec.ID]; ok {
		return fmt.Errorf("vehicle %q already exists", spec.ID)
	}
	for _, p := range e.pending {
		if p.ID == spec.ID {
			return fmt.Errorf("vehicle %q already exists", spec.ID)
		}
	}
	e.pending = append(e.pending, spec)
	e.Added = append(e.Added, spec)
	return nil
}

func (e *Engine) RouteIDs(ctx context.Context) ([]string, error) {
	if err := e.enter("RouteIDs"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.routes), nil
}

func (e *Engine) SignalIDs(ctx context.Context) ([]string, error) {
	if err := e.enter("SignalIDs"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.signalOrder), nil
}

func (e *Engine) lookupSignal(id string) (*signal, error) {
	s, ok := e.signals[id]
	if !ok {
		return nil, fmt.Errorf("traffic light %q is not known", id)
	}
	return s, nil
}

func (e *Engine) SignalProgram(ctx context.Context, id string) (string, error) {
	if err := e.enter("SignalProgram"); err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.lookupSignal(id)
	if err != nil {
		return "", err
	}
	return s.Program, nil
}

func (e *Engine) SignalLinks(ctx context.Context, id string) ([]core.Link, error) {
	if err := e.enter("SignalLinks"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.lookupSignal(id)
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.Links), nil
}

func (e *Engine) SignalPhase(ctx context.Context, id string) (int, error) {
	if err := e.enter("SignalPhase"); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.lookupSignal(id)
	if err != nil {
		return 0, err
	}
	return s.Phase, nil
}

func (e *Engine) SignalLogics(ctx context.Context, id string) ([]engine.Logic, error) {
	if err := e.enter("SignalLogics"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.lookupSignal(id)
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.Logics), nil
}

func (e *Engine) SetSignalState(ctx context.Context, id, state string) error {
	if err := e.enter("SetSignalState"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.lookupSignal(id)
	if err != nil {
		return err
	}
	if len(state) != len(s.Links) {
		return fmt.Errorf("state %q does not match %d links of %q", state, len(s.Links), id)
	}
	s.manual = state
	s.Program = "online"
	s.Phase = 0
	return nil
}

func (e *Engine) SetSignalProgram(ctx context.Context, id, program string) error {
	if err := e.enter("SetSignalProgram"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.lookupSignal(id)
	if err != nil {
		return err
	}
	for _, l := range s.Logics {
		if l.ProgramID == program {
			s.Program = program
			s.Phase = l.CurrentPhase
			s.manual = ""
			return nil
		}
	}
	return fmt.Errorf("program %q is not known for %q", program, id)
}

func (e *Engine) SetSignalPhase(ctx context.Context, id string, index int) error {
	if err := e.enter("SetSignalPhase"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.lookupSignal(id)
	if err != nil {
		return err
	}
	l, ok := s.logic()
	if !ok || index < 0 || index >= len(l.Phases) {
		return fmt.Errorf("phase %d out of range for %q", index, id)
	}
	s.Phase = index
	return nil
}
