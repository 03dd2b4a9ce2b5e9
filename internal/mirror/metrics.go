package mirror

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/ctrldec/trafficmirror/internal/mirror"

type metrics struct {
	steps        metric.Int64Counter
	failedSteps  metric.Int64Counter
	stepDuration metric.Float64Histogram
}

// newMetrics creates the session instruments on the global meter and
// registers gauges reading from s.
func newMetrics(s *Session) (*metrics, error) {
	m := otel.Meter(instrumentationName)
	out := &metrics{}

	var err error
	out.steps, err = m.Int64Counter("mirror.steps",
		metric.WithDescription("Simulation steps completed"))
	if err != nil {
		return nil, fmt.Errorf("creating steps counter: %w", err)
	}
	out.failedSteps, err = m.Int64Counter("mirror.steps.failed",
		metric.WithDescription("Simulation steps that returned an error"))
	if err != nil {
		return nil, fmt.Errorf("creating failed steps counter: %w", err)
	}
	out.stepDuration, err = m.Float64Histogram("mirror.step.duration",
		metric.WithDescription("Time spent in the engine and applying updates per step"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating step duration histogram: %w", err)
	}

	vehicles, err := m.Int64ObservableGauge("mirror.vehicles",
		metric.WithDescription("Vehicles currently mirrored"))
	if err != nil {
		return nil, fmt.Errorf("creating vehicles gauge: %w", err)
	}
	signals, err := m.Int64ObservableGauge("mirror.signals",
		metric.WithDescription("Signals mirrored"))
	if err != nil {
		return nil, fmt.Errorf("creating signals gauge: %w", err)
	}
	dropped, err := m.Int64ObservableCounter("mirror.updates.dropped",
		metric.WithDescription("Pushed updates dropped for unknown IDs"))
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(vehicles, int64(s.vehicles.Len()))
			o.ObserveInt64(signals, int64(s.signals.Len()))
			o.ObserveInt64(dropped, int64(s.manager.Dropped()))
			return nil
		},
		vehicles, signals, dropped,
	)
	if err != nil {
		return nil, fmt.Errorf("registering mirror callback: %w", err)
	}
	return out, nil
}
