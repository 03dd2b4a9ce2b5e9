package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ctrldec/trafficmirror/internal/config"
	"github.com/ctrldec/trafficmirror/internal/dispatcher"
	"github.com/ctrldec/trafficmirror/internal/mirror"
	"github.com/ctrldec/trafficmirror/internal/monitor"
	"github.com/ctrldec/trafficmirror/internal/network"
	"github.com/ctrldec/trafficmirror/internal/observability"
)

var (
	runSteps int
	runDelay time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Mirror the simulation headless, recording frames and exposing metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runMirror(ctx)
	},
}

func init() {
	runCmd.Flags().IntVar(&runSteps, "steps", 0, "Number of steps to run; 0 runs until interrupted or the engine closes")
	runCmd.Flags().DurationVar(&runDelay, "delay", -1, "Delay before each step; negative keeps the configured engine.stepDelay")
}

func runMirror(ctx context.Context) error {
	if path := config.GetString("network.file"); path != "" {
		logNetwork(path)
	}

	engineCfg := config.GetEngineConfig()
	if runDelay >= 0 {
		engineCfg.StepDelay = runDelay
	}
	session, d, err := newSession(engineCfg)
	if err != nil {
		return err
	}
	if runDelay == 0 {
		session.SetDelay(0)
	}

	if storageCfg := config.GetStorageConfig(); storageCfg.Enabled {
		_, stopStorage, err := initStorage(storageCfg, d)
		if err != nil {
			d.Close()
			return err
		}
		// runs after endSession so the end of the run is recorded
		defer func() {
			uploadRecording(config.GetAPIConfig(), stopStorage(), session)
		}()
	}

	if metricsCfg := config.GetMetricsConfig(); metricsCfg.Enabled {
		shutdownMetrics, err := serveMetrics(metricsCfg, session, d)
		if err != nil {
			d.Close()
			return err
		}
		defer shutdownMetrics()
	}

	if monitorCfg := config.GetMonitorConfig(); monitorCfg.Enabled {
		monitorService := monitor.NewService(monitor.Dependencies{
			Source:     session,
			Logger:     Logger,
			StatusFile: monitorCfg.StatusFile,
			Interval:   monitorCfg.Interval,
		})
		if err := monitorService.Start(); err != nil {
			Logger.Warn("Failed to start status monitor", "error", err)
		} else {
			defer monitorService.Stop()
		}
	}

	if err := session.Start(ctx); err != nil {
		d.Close()
		return err
	}
	defer endSession(session, d)

	if runSteps > 0 {
		return stepN(ctx, session, runSteps)
	}
	err = session.Run(ctx)
	if errors.Is(err, context.Canceled) {
		Logger.Info("Interrupted, ending session", "tick", session.Tick())
		return nil
	}
	return err
}

// stepN issues n steps. Failed steps are logged and counted, like Run does.
func stepN(ctx context.Context, session *mirror.Session, n int) error {
	for i := 0; i < n; i++ {
		if err := session.Step(ctx); err != nil {
			if ctx.Err() != nil {
				Logger.Info("Interrupted, ending session", "tick", session.Tick())
				return nil
			}
			if errors.Is(err, mirror.ErrNotStarted) {
				return err
			}
			Logger.Warn("Step failed", "step", i+1, "error", err)
		}
	}
	stats := session.Stats()
	Logger.Info("Steps done", "steps", stats.Steps, "failed", stats.FailedSteps, "vehicles", stats.Vehicles)
	return nil
}

// serveMetrics registers the mirror collector on a private registry and
// serves it until the returned function is called.
func serveMetrics(cfg config.MetricsConfig, session *mirror.Session, d *dispatcher.Dispatcher) (func(), error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	collector, err := observability.NewMirrorCollector(reg, session)
	if err != nil {
		return nil, err
	}
	d.Register(dispatcher.KindTick, collector.HandleTick)

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, collector.Handler())
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Error("Metrics server stopped", "error", err)
		}
	}()
	Logger.Info("Serving metrics", "listen", cfg.Listen, "path", cfg.Path)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func logNetwork(path string) {
	net, err := network.Load(path)
	if err != nil {
		Logger.Warn("Failed to load network", "path", path, "error", err)
		return
	}
	s := net.Summary()
	Logger.Info("Network loaded", "path", path, "edges", s.Edges, "lanes", s.Lanes, "junctions", s.Junctions, "signals", s.Signals)
}
