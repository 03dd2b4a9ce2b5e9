package engine

import (
	"fmt"

	"github.com/ctrldec/trafficmirror/pkg/core"
	"github.com/ctrldec/trafficmirror/pkg/traci"
)

// defaultColor is the "no color set" marker: -1,-1,0,-1 as signed bytes.
var defaultColor = traci.Color{R: 255, G: 255, B: 0, A: 255}

func toColor(v any) (core.Color, error) {
	c, ok := v.(traci.Color)
	if !ok {
		return core.Color{}, fmt.Errorf("%w: color is %T", traci.ErrMalformed, v)
	}
	if c == defaultColor {
		return core.Color{}, nil
	}
	return core.RGBA(c.R, c.G, c.B, c.A), nil
}

func toStrings(v any) ([]string, error) {
	l, ok := v.([]string)
	if !ok {
		return nil, fmt.Errorf("%w: expected string list, got %T", traci.ErrMalformed, v)
	}
	return l, nil
}

func toString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: expected string, got %T", traci.ErrMalformed, v)
	}
	return s, nil
}

// parseControlledLinks flattens the controlled links compound to one link
// per signal index, so the result lines up with the state string. An index
// that controls several links keeps the first one.
func parseControlledLinks(v any) ([]core.Link, error) {
	items, ok := v.(traci.Compound)
	if !ok || len(items) == 0 {
		return nil, fmt.Errorf("%w: controlled links is %T", traci.ErrMalformed, v)
	}
	n, ok := traci.AsInt(items[0])
	if !ok || n < 0 {
		return nil, fmt.Errorf("%w: controlled links count", traci.ErrMalformed)
	}
	links := make([]core.Link, 0, n)
	pos := 1
	for i := 0; i < n; i++ {
		if pos >= len(items) {
			return nil, fmt.Errorf("%w: controlled links truncated at signal %d", traci.ErrMalformed, i)
		}
		k, ok := traci.AsInt(items[pos])
		if !ok || k < 0 || pos+k >= len(items) {
			return nil, fmt.Errorf("%w: link count of signal %d", traci.ErrMalformed, i)
		}
		pos++
		var link core.Link
		for j := 0; j < k; j++ {
			lanes, ok := items[pos+j].([]string)
			if !ok {
				return nil, fmt.Errorf("%w: link %d/%d is %T", traci.ErrMalformed, i, j, items[pos+j])
			}
			if j == 0 && len(lanes) >= 2 {
				link = core.Link{FromLane: lanes[0], ToLane: lanes[1]}
				if len(lanes) >= 3 {
					link.ViaLane = lanes[2]
				}
			}
		}
		pos += k
		links = append(links, link)
	}
	return links, nil
}

// parseLogics decodes a complete program definition.
func parseLogics(v any) ([]Logic, error) {
	items, ok := v.(traci.Compound)
	if !ok {
		return nil, fmt.Errorf("%w: program definition is %T", traci.ErrMalformed, v)
	}
	logics := make([]Logic, 0, len(items))
	for i, it := range items {
		fields, ok := it.(traci.Compound)
		if !ok || len(fields) < 4 {
			return nil, fmt.Errorf("%w: logic %d", traci.ErrMalformed, i)
		}
		var l Logic
		l.ProgramID, _ = fields[0].(string)
		l.Type, _ = traci.AsInt(fields[1])
		l.CurrentPhase, _ = traci.AsInt(fields[2])
		phases, ok := fields[3].(traci.Compound)
		if !ok {
			return nil, fmt.Errorf("%w: phases of logic %d", traci.ErrMalformed, i)
		}
		for j, p := range phases {
			pf, ok := p.(traci.Compound)
			if !ok || len(pf) < 2 {
				return nil, fmt.Errorf("%w: phase %d of logic %d", traci.ErrMalformed, j, i)
			}
			var ph Phase
			ph.Duration, _ = traci.AsFloat(pf[0])
			ph.State, _ = pf[1].(string)
			if len(pf) >= 4 {
				ph.MinDur, _ = traci.AsFloat(pf[2])
				ph.MaxDur, _ = traci.AsFloat(pf[3])
			}
			if len(pf) >= 6 {
				ph.Name, _ = pf[5].(string)
			}
			l.Phases = append(l.Phases, ph)
		}
		logics = append(logics, l)
	}
	return logics, nil
}

// toUpdate converts a subscription result. ok is false for domains the
// mirror does not subscribe to.
func toUpdate(res traci.SubscriptionResult) (Update, bool) {
	var scope Scope
	switch res.Domain() {
	case traci.CmdSubscribeSimVariable:
		scope = ScopeSimulation
	case traci.CmdSubscribeVehicleVar:
		scope = ScopeVehicle
	case traci.CmdSubscribeTLVariable:
		scope = ScopeSignal
	default:
		return Update{}, false
	}
	u := Update{Scope: scope, ID: res.ObjectID, Values: make(map[Var]any, len(res.Values))}
	for id, v := range res.Values {
		if p, ok := v.(traci.Position); ok {
			u.Values[Var(id)] = core.Position2D{X: p.X, Y: p.Y}
			continue
		}
		u.Values[Var(id)] = v
	}
	return u, true
}

func subscribeCommand(scope Scope) (byte, error) {
	switch scope {
	case ScopeSimulation:
		return traci.CmdSubscribeSimVariable, nil
	case ScopeVehicle:
		return traci.CmdSubscribeVehicleVar, nil
	case ScopeSignal:
		return traci.CmdSubscribeTLVariable, nil
	}
	return 0, fmt.Errorf("unknown subscription scope %d", scope)
}
