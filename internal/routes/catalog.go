// Package routes keeps the list of routes vehicles can be injected on.
package routes

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/ctrldec/trafficmirror/internal/engine"
)

// InternalPrefix marks routes the engine generates for its own use.
const InternalPrefix = "!"

// DefaultVehicleType is the engine's built-in vehicle type.
const DefaultVehicleType = "DEFAULT_VEHTYPE"

var (
	ErrNoRoutes   = errors.New("no routes available")
	ErrRouteIndex = errors.New("route index out of range")
)

// Conn is the part of the engine the catalog uses.
type Conn interface {
	RouteIDs(ctx context.Context) ([]string, error)
	AddVehicle(ctx context.Context, spec engine.VehicleSpec) error
}

// Catalog is a refreshable, filtered list of route IDs.
type Catalog struct {
	conn        Conn
	vehicleType string
	routes      atomic.Pointer[[]string]
}

// New creates an empty catalog. An empty vehicleType selects
// DefaultVehicleType.
func New(conn Conn, vehicleType string) *Catalog {
	if vehicleType == "" {
		vehicleType = DefaultVehicleType
	}
	c := &Catalog{conn: conn, vehicleType: vehicleType}
	c.routes.Store(&[]string{})
	return c
}

// Filter drops internal routes and duplicates, keeping first occurrences in
// engine order.
func Filter(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, id := range raw {
		if strings.HasPrefix(id, InternalPrefix) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Refresh replaces the catalog with the engine's current route list. On
// error the previous list is kept.
func (c *Catalog) Refresh(ctx context.Context) error {
	raw, err := c.conn.RouteIDs(ctx)
	if err != nil {
		return fmt.Errorf("refreshing routes: %w", err)
	}
	filtered := Filter(raw)
	c.routes.Store(&filtered)
	return nil
}

func (c *Catalog) Count() int {
	return len(*c.routes.Load())
}

// Routes returns a copy of the current list.
func (c *Catalog) Routes() []string {
	return slices.Clone(*c.routes.Load())
}

// Route returns the route at index i.
func (c *Catalog) Route(i int) (string, bool) {
	r := *c.routes.Load()
	if i < 0 || i >= len(r) {
		return "", false
	}
	return r[i], true
}

// InjectBasic adds a vehicle on the first route.
func (c *Catalog) InjectBasic(ctx context.Context, vehicleID string) error {
	return c.InjectOnRoute(ctx, vehicleID, 0)
}

// InjectOnRoute refreshes the catalog and adds a vehicle on route index i,
// departing now from lane 0 at rest. The vehicle shows up as departed on
// the next tick.
func (c *Catalog) InjectOnRoute(ctx context.Context, vehicleID string, i int) error {
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	r := *c.routes.Load()
	if len(r) == 0 {
		return ErrNoRoutes
	}
	if i < 0 || i >= len(r) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrRouteIndex, i, len(r))
	}
	spec := engine.VehicleSpec{
		ID:          vehicleID,
		RouteID:     r[i],
		TypeID:      c.vehicleType,
		Depart:      "now",
		DepartLane:  "0",
		DepartPos:   "0",
		DepartSpeed: "0",
	}
	if err := c.conn.AddVehicle(ctx, spec); err != nil {
		return fmt.Errorf("adding vehicle %q on route %q: %w", vehicleID, r[i], err)
	}
	return nil
}
