package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ctrldec/trafficmirror/internal/config"
	"github.com/ctrldec/trafficmirror/internal/dispatcher"
	"github.com/ctrldec/trafficmirror/internal/engine"
	"github.com/ctrldec/trafficmirror/internal/logging"
	"github.com/ctrldec/trafficmirror/internal/mirror"
)

// endTimeout bounds closing the engine connection after the context of the
// command is gone.
const endTimeout = 5 * time.Second

// newSession builds an idle session for the configured engine. Sinks
// register on the returned dispatcher before the session starts.
func newSession(engineCfg config.EngineConfig) (*mirror.Session, *dispatcher.Dispatcher, error) {
	d, err := dispatcher.New(logging.NewDispatcherLogger(Logger))
	if err != nil {
		return nil, nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	session, err := mirror.New(mirror.Config{
		Order:       engineCfg.Order,
		StepDelay:   engineCfg.StepDelay,
		VehicleType: engineCfg.VehicleType,
		EngineAddr:  fmt.Sprintf("%s:%d", engineCfg.Host, engineCfg.Port),
	}, mirror.Dependencies{
		Dial: engine.NewDialer(engine.Config{
			Host:    engineCfg.Host,
			Port:    engineCfg.Port,
			Timeout: engineCfg.Timeout,
		}),
		Logger:     Logger,
		Dispatcher: d,
	})
	if err != nil {
		d.Close()
		return nil, nil, err
	}
	SlogManager.SetContextProvider(session.LogAttrs)
	return session, d, nil
}

// startSession connects a fresh session; the returned function ends it.
func startSession(ctx context.Context) (*mirror.Session, func(), error) {
	engineCfg := config.GetEngineConfig()
	session, d, err := newSession(engineCfg)
	if err != nil {
		return nil, nil, err
	}
	if err := session.Start(ctx); err != nil {
		d.Close()
		return nil, nil, err
	}
	return session, func() { endSession(session, d) }, nil
}

func endSession(session *mirror.Session, d *dispatcher.Dispatcher) {
	ctx, cancel := context.WithTimeout(context.Background(), endTimeout)
	defer cancel()
	if err := session.End(ctx); err != nil && !errors.Is(err, mirror.ErrNotStarted) {
		Logger.Warn("Ending session", "error", err)
	}
	SlogManager.SetContextProvider(nil)
	d.Close()
}
