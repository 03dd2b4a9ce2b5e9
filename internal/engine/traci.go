package engine

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ctrldec/trafficmirror/pkg/core"
	"github.com/ctrldec/trafficmirror/pkg/traci"
)

const instrumentationName = "github.com/ctrldec/trafficmirror/internal/engine"

// TraCI is a Conn backed by a TraCI client.
type TraCI struct {
	client *traci.Client
	cfg    Config
	tracer trace.Tracer
}

var _ Conn = (*TraCI)(nil)

// Dial connects to the engine described by cfg.
func Dial(ctx context.Context, cfg Config) (*TraCI, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	if cfg.Timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
		}
	}
	client, err := traci.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return New(client, cfg), nil
}

// New wraps an existing client.
func New(client *traci.Client, cfg Config) *TraCI {
	return &TraCI{
		client: client,
		cfg:    cfg,
		tracer: otel.Tracer(instrumentationName),
	}
}

// NewDialer returns a Dialer for cfg.
func NewDialer(cfg Config) Dialer {
	return func(ctx context.Context) (Conn, error) {
		return Dial(ctx, cfg)
	}
}

// call runs fn inside a span, applying the default timeout when ctx has no
// deadline of its own.
func (t *TraCI) call(ctx context.Context, name, objID string, fn func(ctx context.Context) error) error {
	if t.cfg.Timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
			defer cancel()
		}
	}
	ctx, span := t.tracer.Start(ctx, "traci."+name, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	if objID != "" {
		span.SetAttributes(attribute.String("traci.object", objID))
	}

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (t *TraCI) get(ctx context.Context, name string, cmd, varID byte, objID string) (any, error) {
	var v any
	err := t.call(ctx, name, objID, func(ctx context.Context) error {
		var err error
		v, err = t.client.Get(ctx, cmd, varID, objID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", name, objID, err)
	}
	return v, nil
}

func (t *TraCI) set(ctx context.Context, name string, cmd, varID byte, objID string, put func(*traci.Writer)) error {
	err := t.call(ctx, name, objID, func(ctx context.Context) error {
		return t.client.Set(ctx, cmd, varID, objID, put)
	})
	if err != nil {
		return fmt.Errorf("%s %q: %w", name, objID, err)
	}
	return nil
}

func (t *TraCI) Version(ctx context.Context) (int, string, error) {
	var (
		api   int
		ident string
	)
	err := t.call(ctx, "version", "", func(ctx context.Context) error {
		var err error
		api, ident, err = t.client.Version(ctx)
		return err
	})
	return api, ident, err
}

func (t *TraCI) SetOrder(ctx context.Context, order int) error {
	return t.call(ctx, "set_order", "", func(ctx context.Context) error {
		return t.client.SetOrder(ctx, order)
	})
}

// Step advances the simulation by one tick and returns the pushed updates.
func (t *TraCI) Step(ctx context.Context) ([]Update, error) {
	var results []traci.SubscriptionResult
	err := t.call(ctx, "simstep", "", func(ctx context.Context) error {
		var err error
		results, err = t.client.SimStep(ctx, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	updates := make([]Update, 0, len(results))
	for _, res := range results {
		if u, ok := toUpdate(res); ok {
			updates = append(updates, u)
		}
	}
	return updates, nil
}

// Subscribe registers vars on id for the whole run and returns the current
// values.
func (t *TraCI) Subscribe(ctx context.Context, scope Scope, id string, vars []Var) (Update, error) {
	cmd, err := subscribeCommand(scope)
	if err != nil {
		return Update{}, err
	}
	raw := make([]byte, len(vars))
	for i, v := range vars {
		raw[i] = byte(v)
	}
	var res traci.SubscriptionResult
	err = t.call(ctx, "subscribe_"+scope.String(), id, func(ctx context.Context) error {
		var err error
		res, err = t.client.Subscribe(ctx, cmd, 0, traci.InvalidDouble, id, raw)
		return err
	})
	if err != nil {
		return Update{}, fmt.Errorf("subscribe %s %q: %w", scope, id, err)
	}
	u, _ := toUpdate(res)
	u.Scope = scope
	u.ID = id
	return u, nil
}

func (t *TraCI) Close(ctx context.Context) error {
	return t.call(ctx, "close", "", t.client.Close)
}

func (t *TraCI) VehicleIDs(ctx context.Context) ([]string, error) {
	v, err := t.get(ctx, "vehicle_ids", traci.CmdGetVehicleVariable, traci.VarIDList, "")
	if err != nil {
		return nil, err
	}
	return toStrings(v)
}

func (t *TraCI) VehicleColor(ctx context.Context, id string) (core.Color, error) {
	v, err := t.get(ctx, "vehicle_color", traci.CmdGetVehicleVariable, traci.VarColor, id)
	if err != nil {
		return core.Color{}, err
	}
	return toColor(v)
}

func (t *TraCI) SetVehicleSpeed(ctx context.Context, id string, speed float64) error {
	return t.set(ctx, "set_vehicle_speed", traci.CmdSetVehicleVariable, traci.VarSpeed, id, func(w *traci.Writer) {
		w.PutTypedDouble(speed)
	})
}

func (t *TraCI) SetVehicleColor(ctx context.Context, id string, c core.Color) error {
	return t.set(ctx, "set_vehicle_color", traci.CmdSetVehicleVariable, traci.VarColor, id, func(w *traci.Writer) {
		w.PutTypedColor(traci.Color{R: c.R, G: c.G, B: c.B, A: c.A})
	})
}

// AddVehicle inserts a vehicle with the full parameter set.
func (t *TraCI) AddVehicle(ctx context.Context, spec VehicleSpec) error {
	return t.set(ctx, "add_vehicle", traci.CmdSetVehicleVariable, traci.VarAddFull, spec.ID, func(w *traci.Writer) {
		w.PutCompound(14)
		w.PutTypedString(spec.RouteID)
		w.PutTypedString(spec.TypeID)
		w.PutTypedString(spec.Depart)
		w.PutTypedString(spec.DepartLane)
		w.PutTypedString(spec.DepartPos)
		w.PutTypedString(spec.DepartSpeed)
		w.PutTypedString("current") // arrivalLane
		w.PutTypedString("max")     // arrivalPos
		w.PutTypedString("current") // arrivalSpeed
		w.PutTypedString("")        // fromTaz
		w.PutTypedString("")        // toTaz
		w.PutTypedString("")        // line
		w.PutTypedInt(0)            // personCapacity
		w.PutTypedInt(0)            // personNumber
	})
}

func (t *TraCI) RouteIDs(ctx context.Context) ([]string, error) {
	v, err := t.get(ctx, "route_ids", traci.CmdGetRouteVariable, traci.VarIDList, "")
	if err != nil {
		return nil, err
	}
	return toStrings(v)
}

func (t *TraCI) SignalIDs(ctx context.Context) ([]string, error) {
	v, err := t.get(ctx, "signal_ids", traci.CmdGetTLVariable, traci.VarIDList, "")
	if err != nil {
		return nil, err
	}
	return toStrings(v)
}

func (t *TraCI) SignalProgram(ctx context.Context, id string) (string, error) {
	v, err := t.get(ctx, "signal_program", traci.CmdGetTLVariable, traci.VarTLProgram, id)
	if err != nil {
		return "", err
	}
	return toString(v)
}

func (t *TraCI) SignalLinks(ctx context.Context, id string) ([]core.Link, error) {
	v, err := t.get(ctx, "signal_links", traci.CmdGetTLVariable, traci.VarTLControlledLinks, id)
	if err != nil {
		return nil, err
	}
	return parseControlledLinks(v)
}

func (t *TraCI) SignalPhase(ctx context.Context, id string) (int, error) {
	v, err := t.get(ctx, "signal_phase", traci.CmdGetTLVariable, traci.VarTLPhaseIndex, id)
	if err != nil {
		return 0, err
	}
	n, ok := traci.AsInt(v)
	if !ok {
		return 0, fmt.Errorf("%w: phase index is %T", traci.ErrMalformed, v)
	}
	return n, nil
}

func (t *TraCI) SignalLogics(ctx context.Context, id string) ([]Logic, error) {
	v, err := t.get(ctx, "signal_logics", traci.CmdGetTLVariable, traci.VarTLCompleteDefinition, id)
	if err != nil {
		return nil, err
	}
	return parseLogics(v)
}

func (t *TraCI) SetSignalState(ctx context.Context, id, state string) error {
	return t.set(ctx, "set_signal_state", traci.CmdSetTLVariable, traci.VarTLRedYellowGreenState, id, func(w *traci.Writer) {
		w.PutTypedString(state)
	})
}

func (t *TraCI) SetSignalProgram(ctx context.Context, id, program string) error {
	return t.set(ctx, "set_signal_program", traci.CmdSetTLVariable, traci.VarTLProgram, id, func(w *traci.Writer) {
		w.PutTypedString(program)
	})
}

func (t *TraCI) SetSignalPhase(ctx context.Context, id string, index int) error {
	return t.set(ctx, "set_signal_phase", traci.CmdSetTLVariable, traci.VarTLPhaseIndex, id, func(w *traci.Writer) {
		w.PutTypedInt(int32(index))
	})
}
