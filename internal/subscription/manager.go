// Package subscription turns pushed engine updates into registry changes.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"sync/atomic"

	"github.com/ctrldec/trafficmirror/internal/cache"
	"github.com/ctrldec/trafficmirror/internal/dispatcher"
	"github.com/ctrldec/trafficmirror/internal/engine"
	"github.com/ctrldec/trafficmirror/internal/entity"
	"github.com/ctrldec/trafficmirror/internal/queue"
	"github.com/ctrldec/trafficmirror/pkg/core"
)

var (
	// VehicleVars are subscribed for every departed vehicle.
	VehicleVars = []engine.Var{engine.VarPosition, engine.VarSpeed, engine.VarAngle}
	// SignalVars are subscribed for every signal at start.
	SignalVars = []engine.Var{engine.VarSignalState}
	// SimulationVars carry the lifecycle lists and the clock.
	SimulationVars = []engine.Var{engine.VarDeparted, engine.VarArrived, engine.VarTime}
)

// Conn is the part of the engine the manager talks to.
type Conn interface {
	Subscribe(ctx context.Context, scope engine.Scope, id string, vars []engine.Var) (engine.Update, error)
	VehicleColor(ctx context.Context, id string) (core.Color, error)
}

// Dependencies holds all dependencies for the manager
type Dependencies struct {
	Conn     Conn
	Inbox    *queue.Queue[engine.Update]
	Vehicles *cache.Registry[entity.Vehicle]
	Signals  *cache.Registry[entity.Signal]
	Logger   *slog.Logger
}

// Result summarises one Apply call.
type Result struct {
	Departed []string
	Arrived  []string
	Updates  int
	Dropped  int
}

// Manager applies inbox updates to the registries. Apply must only be called
// from one goroutine at a time.
type Manager struct {
	deps Dependencies
	d    *dispatcher.Dispatcher

	dropped cache.Counter
	simTime atomic.Uint64

	// live vehicles whose variable subscription failed; retried each Apply
	unsubscribed map[string]struct{}

	// valid only during Apply
	ctx    context.Context
	tick   uint64
	vtx    *cache.Txn[entity.Vehicle]
	stx    *cache.Txn[entity.Signal]
	result *Result
}

// NewManager creates a manager and registers its handlers on d.
func NewManager(deps Dependencies, d *dispatcher.Dispatcher) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	m := &Manager{deps: deps, d: d, unsubscribed: make(map[string]struct{})}
	m.simTime.Store(math.Float64bits(0))
	m.RegisterHandlers(d)
	return m
}

// RegisterHandlers registers the update handlers with the dispatcher. They
// run synchronously so that every update of a tick is applied before Apply
// returns.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	d.Register(dispatcher.KindSimulationVars, m.handleSimulation)
	d.Register(dispatcher.KindVehicleDeparted, m.handleDeparted)
	d.Register(dispatcher.KindVehicleArrived, m.handleArrived)
	d.Register(dispatcher.KindVehicleVars, m.handleVehicleVars)
	d.Register(dispatcher.KindSignalVars, m.handleSignalVars)
}

// Dropped returns the number of updates discarded for unknown IDs.
func (m *Manager) Dropped() uint64 {
	return m.dropped.Value()
}

// Time returns the last simulation time pushed by the engine.
func (m *Manager) Time() float64 {
	return math.Float64frombits(m.simTime.Load())
}

// Unsubscribed returns how many live vehicles still wait for their variable
// subscription. Like Apply, it must not run concurrently with Apply.
func (m *Manager) Unsubscribed() int {
	return len(m.unsubscribed)
}

// Reset clears the drop counter, the clock and the retry set for a new run.
func (m *Manager) Reset() {
	m.dropped.Reset()
	m.simTime.Store(math.Float64bits(0))
	clear(m.unsubscribed)
}

// SubscribeSimulation registers the lifecycle subscription.
func (m *Manager) SubscribeSimulation(ctx context.Context) error {
	u, err := m.deps.Conn.Subscribe(ctx, engine.ScopeSimulation, "", SimulationVars)
	if err != nil {
		return fmt.Errorf("subscribing to simulation: %w", err)
	}
	m.deps.Inbox.Push(u)
	return nil
}

// SubscribeSignal registers the state subscription of one signal. Its
// initial state lands in the inbox.
func (m *Manager) SubscribeSignal(ctx context.Context, id string) error {
	u, err := m.deps.Conn.Subscribe(ctx, engine.ScopeSignal, id, SignalVars)
	if err != nil {
		return fmt.Errorf("subscribing to signal %q: %w", id, err)
	}
	m.deps.Inbox.Push(u)
	return nil
}

// Adopt queues departures for vehicles that were already in the network when
// the mirror attached. They are created by the next Apply.
func (m *Manager) Adopt(ids []string) {
	if len(ids) == 0 {
		return
	}
	m.deps.Inbox.Push(engine.Update{Scope: engine.ScopeSimulation, Values: map[engine.Var]any{
		engine.VarDeparted: slices.Clone(ids),
	}})
}

// Apply drains the inbox and applies every update as one registry version
// per entity class. Updates enqueued by handlers, such as the initial values
// of new vehicle subscriptions, are applied in the same call. Vehicles whose
// subscription failed in an earlier Apply are retried once the inbox is empty.
func (m *Manager) Apply(ctx context.Context, tick uint64) (Result, error) {
	var res Result
	m.ctx, m.tick, m.result = ctx, tick, &res
	m.vtx = m.deps.Vehicles.Begin()
	m.stx = m.deps.Signals.Begin()
	defer func() {
		m.ctx, m.vtx, m.stx, m.result = nil, nil, nil, nil
	}()

	retry := slices.Sorted(maps.Keys(m.unsubscribed))
	var errs []error
	for {
		batch := m.deps.Inbox.Drain()
		if len(batch) == 0 {
			if len(retry) == 0 {
				break
			}
			m.resubscribe(retry)
			retry = nil
			continue
		}
		for _, u := range batch {
			res.Updates++
			for _, e := range events(u, tick) {
				if err := m.d.Dispatch(e); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}

	m.vtx.Commit()
	m.stx.Commit()
	return res, errors.Join(errs...)
}

// events splits one update into dispatcher events. Lifecycle events of a
// simulation update follow its variables: departures first, then arrivals.
// A vehicle listed in both is already gone and raises neither.
func events(u engine.Update, tick uint64) []dispatcher.Event {
	switch u.Scope {
	case engine.ScopeVehicle:
		return []dispatcher.Event{{Kind: dispatcher.KindVehicleVars, ID: u.ID, Tick: tick, Payload: u.Values}}
	case engine.ScopeSignal:
		return []dispatcher.Event{{Kind: dispatcher.KindSignalVars, ID: u.ID, Tick: tick, Payload: u.Values}}
	case engine.ScopeSimulation:
		out := []dispatcher.Event{{Kind: dispatcher.KindSimulationVars, Tick: tick, Payload: u.Values}}
		departed, _ := u.Values[engine.VarDeparted].([]string)
		arrived, _ := u.Values[engine.VarArrived].([]string)
		for _, id := range departed {
			if slices.Contains(arrived, id) {
				continue
			}
			out = append(out, dispatcher.Event{Kind: dispatcher.KindVehicleDeparted, ID: id, Tick: tick})
		}
		for _, id := range arrived {
			if slices.Contains(departed, id) {
				continue
			}
			out = append(out, dispatcher.Event{Kind: dispatcher.KindVehicleArrived, ID: id, Tick: tick})
		}
		return out
	}
	return nil
}

func (m *Manager) handleSimulation(e dispatcher.Event) error {
	values, _ := e.Payload.(map[engine.Var]any)
	if t, ok := values[engine.VarTime].(float64); ok {
		m.simTime.Store(math.Float64bits(t))
	}
	return nil
}

func (m *Manager) handleDeparted(e dispatcher.Event) error {
	if _, ok := m.vtx.Get(e.ID); ok {
		m.deps.Logger.Debug("vehicle departed twice", "vehicle", e.ID)
		return nil
	}

	color, err := m.deps.Conn.VehicleColor(m.ctx, e.ID)
	if err != nil {
		m.deps.Logger.Warn("vehicle color lookup failed, using default", "vehicle", e.ID, "error", err)
		color = core.Color{}
	}
	m.vtx.Put(e.ID, entity.NewVehicle(e.ID, color, e.Tick))
	m.result.Departed = append(m.result.Departed, e.ID)

	if err := m.subscribeVehicle(e.ID); err != nil {
		m.unsubscribed[e.ID] = struct{}{}
		m.deps.Logger.Warn("vehicle subscription failed, retrying next tick", "vehicle", e.ID, "error", err)
	}
	return nil
}

func (m *Manager) subscribeVehicle(id string) error {
	u, err := m.deps.Conn.Subscribe(m.ctx, engine.ScopeVehicle, id, VehicleVars)
	if err != nil {
		return fmt.Errorf("subscribing to vehicle %q: %w", id, err)
	}
	m.deps.Inbox.Push(u)
	return nil
}

// resubscribe retries the vehicles of ids that are still live and still
// unsubscribed. Initial values land in the inbox.
func (m *Manager) resubscribe(ids []string) {
	for _, id := range ids {
		if _, waiting := m.unsubscribed[id]; !waiting {
			continue
		}
		if _, live := m.vtx.Get(id); !live {
			delete(m.unsubscribed, id)
			continue
		}
		if err := m.subscribeVehicle(id); err != nil {
			m.deps.Logger.Debug("vehicle subscription retry failed", "vehicle", id, "tick", m.tick, "error", err)
			continue
		}
		delete(m.unsubscribed, id)
	}
}

func (m *Manager) handleArrived(e dispatcher.Event) error {
	delete(m.unsubscribed, e.ID)
	if m.vtx.Remove(e.ID) {
		m.result.Arrived = append(m.result.Arrived, e.ID)
	}
	return nil
}

func (m *Manager) handleVehicleVars(e dispatcher.Event) error {
	values, _ := e.Payload.(map[engine.Var]any)
	ok := m.vtx.Update(e.ID, func(v *entity.Vehicle) {
		if p, ok := values[engine.VarPosition].(core.Position2D); ok {
			v.Position = p
		}
		if s, ok := values[engine.VarSpeed].(float64); ok {
			v.Speed = s
		}
		if a, ok := values[engine.VarAngle].(float64); ok {
			v.Angle = a
		}
		v.Tick = e.Tick
	})
	if !ok {
		m.drop("vehicle", e)
	}
	return nil
}

func (m *Manager) handleSignalVars(e dispatcher.Event) error {
	values, _ := e.Payload.(map[engine.Var]any)
	state, hasState := values[engine.VarSignalState].(string)
	ok := m.stx.Update(e.ID, func(s *entity.Signal) {
		if hasState {
			s.State = state
		}
		s.Tick = e.Tick
	})
	if !ok {
		m.drop("signal", e)
	}
	return nil
}

func (m *Manager) drop(kind string, e dispatcher.Event) {
	m.dropped.Inc()
	m.result.Dropped++
	m.deps.Logger.Debug("dropped update for unknown id", "kind", kind, "id", e.ID, "tick", e.Tick)
}
