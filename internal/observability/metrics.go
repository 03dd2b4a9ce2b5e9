// Package observability exposes mirror statistics as Prometheus metrics.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ctrldec/trafficmirror/internal/dispatcher"
	"github.com/ctrldec/trafficmirror/internal/mirror"
)

// StatsSource reports the current mirror statistics.
type StatsSource interface {
	Stats() mirror.Stats
}

// MirrorCollector reads mirror statistics at scrape time and records step
// durations from tick frames.
type MirrorCollector struct {
	gatherer prometheus.Gatherer
	source   StatsSource

	vehicles    *prometheus.Desc
	signals     *prometheus.Desc
	tick        *prometheus.Desc
	simTime     *prometheus.Desc
	steps       *prometheus.Desc
	failedSteps *prometheus.Desc
	dropped     *prometheus.Desc
	inbox       *prometheus.Desc
	paused      *prometheus.Desc

	StepDuration prometheus.Histogram
}

// NewMirrorCollector registers the mirror metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewMirrorCollector(reg prometheus.Registerer, source StatsSource) (*MirrorCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &MirrorCollector{
		gatherer:    gatherer,
		source:      source,
		vehicles:    prometheus.NewDesc("mirror_vehicles", "Vehicles currently in the mirror.", nil, nil),
		signals:     prometheus.NewDesc("mirror_signals", "Signal controllers currently in the mirror.", nil, nil),
		tick:        prometheus.NewDesc("mirror_tick", "Ticks applied since the run started.", nil, nil),
		simTime:     prometheus.NewDesc("mirror_sim_time_seconds", "Simulation time reported by the engine.", nil, nil),
		steps:       prometheus.NewDesc("mirror_steps_total", "Time advances issued to the engine.", nil, nil),
		failedSteps: prometheus.NewDesc("mirror_steps_failed_total", "Time advances that failed.", nil, nil),
		dropped:     prometheus.NewDesc("mirror_updates_dropped_total", "Pushed updates for unknown entities.", nil, nil),
		inbox:       prometheus.NewDesc("mirror_inbox_pending", "Pushed updates waiting to be applied.", nil, nil),
		paused:      prometheus.NewDesc("mirror_paused", "1 while stepping is paused.", nil, nil),
	}
	if err := reg.Register(c); err != nil {
		return nil, fmt.Errorf("registering mirror collector: %w", err)
	}

	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mirror_step_duration_seconds",
		Help:    "Duration of one time advance including update application.",
		Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})
	hist, err := registerHistogram(reg, hist, "mirror_step_duration_seconds")
	if err != nil {
		return nil, err
	}
	c.StepDuration = hist
	return c, nil
}

func (c *MirrorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.vehicles
	ch <- c.signals
	ch <- c.tick
	ch <- c.simTime
	ch <- c.steps
	ch <- c.failedSteps
	ch <- c.dropped
	ch <- c.inbox
	ch <- c.paused
}

func (c *MirrorCollector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}
	st := c.source.Stats()
	paused := 0.0
	if st.Paused {
		paused = 1
	}
	ch <- prometheus.MustNewConstMetric(c.vehicles, prometheus.GaugeValue, float64(st.Vehicles))
	ch <- prometheus.MustNewConstMetric(c.signals, prometheus.GaugeValue, float64(st.Signals))
	ch <- prometheus.MustNewConstMetric(c.tick, prometheus.GaugeValue, float64(st.Tick))
	ch <- prometheus.MustNewConstMetric(c.simTime, prometheus.GaugeValue, st.SimTime)
	ch <- prometheus.MustNewConstMetric(c.steps, prometheus.CounterValue, float64(st.Steps))
	ch <- prometheus.MustNewConstMetric(c.failedSteps, prometheus.CounterValue, float64(st.FailedSteps))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(st.Dropped))
	ch <- prometheus.MustNewConstMetric(c.inbox, prometheus.GaugeValue, float64(st.InboxPending))
	ch <- prometheus.MustNewConstMetric(c.paused, prometheus.GaugeValue, paused)
}

// HandleTick observes the duration of the step that produced a tick frame.
// Register it for dispatcher.KindTick.
func (c *MirrorCollector) HandleTick(dispatcher.Event) error {
	if c == nil || c.source == nil {
		return nil
	}
	c.StepDuration.Observe(c.source.Stats().LastStep.Seconds())
	return nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *MirrorCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
