// Package dispatcher fans mirror events out to registered handlers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/ctrldec/trafficmirror/internal/dispatcher"

// Event kinds raised by the mirror.
const (
	KindVehicleDeparted = "vehicle.departed"
	KindVehicleArrived  = "vehicle.arrived"
	KindVehicleVars     = "vehicle.vars"
	KindSignalVars      = "signal.vars"
	KindSimulationVars  = "simulation.vars"
	KindTick            = "tick"
	KindRunStarted      = "run.started"
	KindRunEnded        = "run.ended"
)

var (
	// ErrNoHandler is returned when an event kind has no registered handler.
	ErrNoHandler = errors.New("no handler registered")
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("dispatcher closed")
)

// Event is one unit of work routed by kind.
type Event struct {
	Kind    string
	ID      string
	Tick    uint64
	Payload any
}

// HandlerFunc processes an event.
type HandlerFunc func(Event) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	logged bool
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Dispatcher routes events to every handler registered for their kind, in
// registration order, on the caller's goroutine. Sinks that must not hold
// up the stepper keep their own queue.
type Dispatcher struct {
	logger Logger

	dispatched metric.Int64Counter
	failed     metric.Int64Counter

	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
	closed   bool
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string][]HandlerFunc),
		logger:   logger,
	}

	m := otel.Meter(instrumentationName)

	var err error
	d.dispatched, err = m.Int64Counter(
		"dispatcher.events.dispatched",
		metric.WithDescription("Events routed to at least one handler"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dispatched counter: %w", err)
	}

	d.failed, err = m.Int64Counter(
		"dispatcher.events.failed",
		metric.WithDescription("Events for which a handler returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given kind with optional configuration.
func (d *Dispatcher) Register(kind string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h
	if cfg.logged && d.logger != nil {
		handler = d.withLogging(kind, handler)
	}

	d.mu.Lock()
	d.handlers[kind] = append(d.handlers[kind], handler)
	d.mu.Unlock()
}

// Dispatch runs every handler of the event's kind and joins their errors.
func (d *Dispatcher) Dispatch(e Event) error {
	d.mu.RLock()
	hs, closed := d.handlers[e.Kind], d.closed
	d.mu.RUnlock()
	if closed {
		return fmt.Errorf("%w: %s", ErrClosed, e.Kind)
	}
	if len(hs) == 0 {
		return fmt.Errorf("%w: %s", ErrNoHandler, e.Kind)
	}

	var errs []error
	for _, h := range hs {
		if err := h(e); err != nil {
			errs = append(errs, err)
		}
	}

	kind := metric.WithAttributes(attribute.String("kind", e.Kind))
	d.dispatched.Add(context.Background(), 1, kind)
	if len(errs) > 0 {
		d.failed.Add(context.Background(), 1, kind)
	}
	return errors.Join(errs...)
}

// HasHandler returns true if a handler is registered for the kind.
func (d *Dispatcher) HasHandler(kind string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[kind]) > 0
}

// Close makes later Dispatch calls fail with ErrClosed. It is safe to call
// more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

func (d *Dispatcher) withLogging(kind string, h HandlerFunc) HandlerFunc {
	return func(e Event) error {
		start := time.Now()
		d.logger.Debug("handling event", "kind", kind, "id", e.ID, "tick", e.Tick)

		err := h(e)

		if err != nil {
			d.logger.Error("event failed", "kind", kind, "id", e.ID, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "kind", kind, "duration", time.Since(start))
		}

		return err
	}
}
