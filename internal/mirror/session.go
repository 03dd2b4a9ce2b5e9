// Package mirror keeps an in-process copy of the vehicles and signals of a
// running simulation and forwards commands to the engine.
//
// One goroutine drives the clock through Step or Run. Readers may call the
// getters from any goroutine at any time: they read an atomically published
// registry version and never talk to the engine. Setters block for one or
// more engine round trips.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ctrldec/trafficmirror/internal/cache"
	"github.com/ctrldec/trafficmirror/internal/dispatcher"
	"github.com/ctrldec/trafficmirror/internal/engine"
	"github.com/ctrldec/trafficmirror/internal/entity"
	"github.com/ctrldec/trafficmirror/internal/queue"
	"github.com/ctrldec/trafficmirror/internal/routes"
	"github.com/ctrldec/trafficmirror/internal/subscription"
	"github.com/ctrldec/trafficmirror/pkg/core"
)

const (
	DefaultStepDelay      = 200 * time.Millisecond
	DefaultRestoreTimeout = 5 * time.Second

	// failureBackoff bounds how fast Run retries a failing step.
	failureBackoff = 100 * time.Millisecond
	// pausePoll is how often a paused Run checks for Resume.
	pausePoll = 20 * time.Millisecond
)

// Config controls a session.
type Config struct {
	// Order is the client index claimed with SetOrder. Zero skips it.
	Order       int
	StepDelay   time.Duration
	VehicleType string
	// RestoreTimeout bounds the program restore of SetStateFor after its
	// context was cancelled.
	RestoreTimeout time.Duration
	// EngineAddr is informational and ends up in the run record.
	EngineAddr string
}

// Dependencies holds all dependencies for a session
type Dependencies struct {
	Dial       engine.Dialer
	Logger     *slog.Logger
	Dispatcher *dispatcher.Dispatcher
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateEnded
)

// Session is a mirrored simulation run.
type Session struct {
	cfg    Config
	deps   Dependencies
	logger *slog.Logger
	d      *dispatcher.Dispatcher

	mu    sync.Mutex
	state state
	run   *core.Run

	conn atomic.Pointer[engine.Conn]

	stepMu sync.Mutex
	tick   atomic.Uint64
	paused atomic.Bool
	delay  atomic.Int64

	steps        cache.Counter
	failedSteps  cache.Counter
	lastStepNano atomic.Int64

	inbox    *queue.Queue[engine.Update]
	vehicles *cache.Registry[entity.Vehicle]
	signals  *cache.Registry[entity.Signal]
	manager  *subscription.Manager
	catalog  *routes.Catalog
	metrics  *metrics
}

// New creates an idle session. Nothing talks to the engine before Start.
func New(cfg Config, deps Dependencies) (*Session, error) {
	if deps.Dial == nil {
		return nil, errors.New("mirror: no dialer")
	}
	if cfg.StepDelay <= 0 {
		cfg.StepDelay = DefaultStepDelay
	}
	if cfg.RestoreTimeout <= 0 {
		cfg.RestoreTimeout = DefaultRestoreTimeout
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Dispatcher == nil {
		d, err := dispatcher.New(nil)
		if err != nil {
			return nil, err
		}
		deps.Dispatcher = d
	}

	s := &Session{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger,
		d:        deps.Dispatcher,
		inbox:    queue.New[engine.Update](),
		vehicles: cache.NewRegistry[entity.Vehicle](),
		signals:  cache.NewRegistry[entity.Signal](),
	}
	s.delay.Store(int64(cfg.StepDelay))

	live := liveConn{s}
	s.manager = subscription.NewManager(subscription.Dependencies{
		Conn:     live,
		Inbox:    s.inbox,
		Vehicles: s.vehicles,
		Signals:  s.signals,
		Logger:   s.logger,
	}, s.d)
	s.catalog = routes.New(live, cfg.VehicleType)

	m, err := newMetrics(s)
	if err != nil {
		return nil, err
	}
	s.metrics = m
	return s, nil
}

// Dispatcher returns the dispatcher carrying tick frames and run events.
// Sinks register on it before Start.
func (s *Session) Dispatcher() *dispatcher.Dispatcher {
	return s.d
}

// connection returns the live engine connection.
func (s *Session) connection() (engine.Conn, error) {
	p := s.conn.Load()
	if p == nil {
		return nil, ErrNotStarted
	}
	return *p, nil
}

// Start connects to the engine, subscribes to lifecycle events and mirrors
// every signal. On failure the connection is closed and the registries are
// left empty.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateRunning {
		return ErrAlreadyStarted
	}

	s.reset()
	conn, err := s.deps.Dial(ctx)
	if err != nil {
		return fmt.Errorf("connecting to engine: %w", err)
	}
	s.conn.Store(&conn)

	run, err := s.bootstrap(ctx, conn)
	if err != nil {
		s.conn.Store(nil)
		if cerr := conn.Close(context.WithoutCancel(ctx)); cerr != nil && !errors.Is(cerr, engine.ErrClosed) {
			s.logger.Warn("closing engine after failed start", "error", cerr)
		}
		s.reset()
		return err
	}

	s.run = run
	s.state = stateRunning
	s.emit(dispatcher.Event{Kind: dispatcher.KindRunStarted, ID: run.ID, Payload: run})
	s.logger.Info("session started", "run", run.ID, "engine", run.EngineVersion, "signals", s.signals.Len())
	return nil
}

func (s *Session) reset() {
	s.inbox.Clear()
	s.vehicles.Clear()
	s.signals.Clear()
	s.manager.Reset()
	s.tick.Store(0)
	s.steps.Reset()
	s.failedSteps.Reset()
	s.paused.Store(false)
}

func (s *Session) bootstrap(ctx context.Context, conn engine.Conn) (*core.Run, error) {
	_, version, err := conn.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading engine version: %w", err)
	}
	if s.cfg.Order > 0 {
		if err := conn.SetOrder(ctx, s.cfg.Order); err != nil {
			return nil, fmt.Errorf("claiming order %d: %w", s.cfg.Order, err)
		}
	}
	if err := s.manager.SubscribeSimulation(ctx); err != nil {
		return nil, err
	}
	present, err := conn.VehicleIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing vehicles: %w", err)
	}
	s.manager.Adopt(present)

	ids, err := conn.SignalIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing signals: %w", err)
	}
	for _, id := range ids {
		program, err := conn.SignalProgram(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("reading program of signal %q: %w", id, err)
		}
		links, err := conn.SignalLinks(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("reading links of signal %q: %w", id, err)
		}
		s.signals.Put(id, entity.NewSignal(id, program, links))
		if err := s.manager.SubscribeSignal(ctx, id); err != nil {
			return nil, err
		}
	}

	if _, err := s.manager.Apply(ctx, 0); err != nil {
		return nil, fmt.Errorf("applying initial state: %w", err)
	}

	if err := s.catalog.Refresh(ctx); err != nil {
		s.logger.Warn("route refresh failed", "error", err)
	}

	run := &core.Run{
		ID:            uuid.NewString(),
		StartTime:     time.Now().UTC(),
		EngineAddr:    s.cfg.EngineAddr,
		EngineVersion: version,
		StepDelay:     s.Delay(),
		Signals:       s.Signals(),
	}
	return run, nil
}

// End closes the engine connection. Calling it on a session that is not
// running returns ErrNotStarted.
func (s *Session) End(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.state = stateEnded
	run := s.run
	p := s.conn.Swap(nil)
	s.mu.Unlock()

	var err error
	if p != nil {
		err = (*p).Close(ctx)
		if errors.Is(err, engine.ErrClosed) {
			err = nil
		}
	}

	// Wait for an in-flight step so its frame precedes the end of the run.
	s.stepMu.Lock()
	tick := s.tick.Load()
	s.stepMu.Unlock()

	s.emit(dispatcher.Event{Kind: dispatcher.KindRunEnded, ID: run.ID, Tick: tick, Payload: &core.RunEnd{
		RunID:   run.ID,
		EndTime: time.Now().UTC(),
		EndTick: tick,
		SimTime: s.Time(),
	}})
	s.logger.Info("session ended", "run", run.ID, "ticks", tick, "dropped", s.manager.Dropped())
	if err != nil {
		return fmt.Errorf("closing engine: %w", err)
	}
	return nil
}

// Started reports whether the session is running.
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

// RunInfo returns the record of the current run, or nil before Start.
func (s *Session) RunInfo() *core.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run
}

// Pause makes Step a no-op until Resume.
func (s *Session) Pause()  { s.paused.Store(true) }
func (s *Session) Resume() { s.paused.Store(false) }

func (s *Session) Paused() bool { return s.paused.Load() }

// SetDelay changes the wait before each step. It applies from the next step.
func (s *Session) SetDelay(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.delay.Store(int64(d))
}

func (s *Session) Delay() time.Duration {
	return time.Duration(s.delay.Load())
}

// Tick returns the number of completed steps.
func (s *Session) Tick() uint64 {
	return s.tick.Load()
}

// Time returns the simulation time in seconds pushed with the last step.
func (s *Session) Time() float64 {
	return s.manager.Time()
}

// LogAttrs returns the current tick and simulation time for log context.
func (s *Session) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.Uint64("tick", s.tick.Load()),
		slog.Float64("simTime", s.manager.Time()),
	}
}

// Step waits the configured delay and advances the simulation by one tick.
// Every update pushed for the tick is applied before Step returns. A paused
// session skips the step and returns nil.
func (s *Session) Step(ctx context.Context) error {
	if s.paused.Load() {
		return nil
	}
	conn, err := s.connection()
	if err != nil {
		return err
	}

	s.stepMu.Lock()
	defer s.stepMu.Unlock()

	if d := s.Delay(); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if s.conn.Load() == nil {
		return ErrNotStarted
	}

	start := time.Now()
	updates, err := conn.Step(ctx)
	if err != nil {
		s.failedSteps.Inc()
		s.metrics.failedSteps.Add(ctx, 1)
		s.logger.Warn("step failed", "tick", s.tick.Load()+1, "error", err)
		return fmt.Errorf("step %d: %w", s.tick.Load()+1, err)
	}

	tick := s.tick.Add(1)
	s.inbox.Push(updates...)
	res, applyErr := s.manager.Apply(ctx, tick)
	elapsed := time.Since(start)

	s.steps.Inc()
	s.lastStepNano.Store(int64(elapsed))
	s.metrics.steps.Add(ctx, 1)
	s.metrics.stepDuration.Record(ctx, elapsed.Seconds())

	if s.d.HasHandler(dispatcher.KindTick) {
		frame := s.frame(tick, res)
		s.emit(dispatcher.Event{Kind: dispatcher.KindTick, Tick: tick, Payload: &frame})
	}

	if applyErr != nil {
		s.failedSteps.Inc()
		s.metrics.failedSteps.Add(ctx, 1)
		s.logger.Warn("applying updates failed", "tick", tick, "error", applyErr)
		return fmt.Errorf("step %d: %w", tick, applyErr)
	}
	return nil
}

// Run steps until ctx is done, the session is ended or the engine goes away.
// Single step failures are retried. Ending the session returns nil.
func (s *Session) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.Started() {
			return nil
		}
		if s.paused.Load() {
			if !sleep(ctx, pausePoll) {
				return ctx.Err()
			}
			continue
		}

		err := s.Step(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrNotStarted) || !s.Started():
			return nil
		case errors.Is(err, engine.ErrClosed):
			s.logger.Info("engine closed the connection", "tick", s.tick.Load())
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			if !sleep(ctx, failureBackoff) {
				return ctx.Err()
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Session) frame(tick uint64, res subscription.Result) core.Frame {
	return core.Frame{
		Tick:     tick,
		SimTime:  s.manager.Time(),
		Captured: time.Now().UTC(),
		Vehicles: s.Vehicles(),
		Signals:  s.Signals(),
		Departed: res.Departed,
		Arrived:  res.Arrived,
	}
}

func (s *Session) emit(e dispatcher.Event) {
	if !s.d.HasHandler(e.Kind) {
		return
	}
	if err := s.d.Dispatch(e); err != nil {
		s.logger.Warn("sink failed", "kind", e.Kind, "error", err)
	}
}

// Stats is a point in time summary of the session.
type Stats struct {
	Tick         uint64
	SimTime      float64
	Vehicles     int
	Signals      int
	Steps        uint64
	FailedSteps  uint64
	Dropped      uint64
	LastStep     time.Duration
	Paused       bool
	Delay        time.Duration
	Started      bool
	InboxPending int
}

func (s *Session) Stats() Stats {
	return Stats{
		Tick:         s.tick.Load(),
		SimTime:      s.manager.Time(),
		Vehicles:     s.vehicles.Len(),
		Signals:      s.signals.Len(),
		Steps:        s.steps.Value(),
		FailedSteps:  s.failedSteps.Value(),
		Dropped:      s.manager.Dropped(),
		LastStep:     time.Duration(s.lastStepNano.Load()),
		Paused:       s.paused.Load(),
		Delay:        s.Delay(),
		Started:      s.Started(),
		InboxPending: s.inbox.Len(),
	}
}

// liveConn forwards to whatever connection the session currently holds.
type liveConn struct{ s *Session }

func (l liveConn) Subscribe(ctx context.Context, scope engine.Scope, id string, vars []engine.Var) (engine.Update, error) {
	conn, err := l.s.connection()
	if err != nil {
		return engine.Update{}, err
	}
	return conn.Subscribe(ctx, scope, id, vars)
}

func (l liveConn) VehicleColor(ctx context.Context, id string) (core.Color, error) {
	conn, err := l.s.connection()
	if err != nil {
		return core.Color{}, err
	}
	return conn.VehicleColor(ctx, id)
}

func (l liveConn) RouteIDs(ctx context.Context) ([]string, error) {
	conn, err := l.s.connection()
	if err != nil {
		return nil, err
	}
	return conn.RouteIDs(ctx)
}

func (l liveConn) AddVehicle(ctx context.Context, spec engine.VehicleSpec) error {
	conn, err := l.s.connection()
	if err != nil {
		return err
	}
	return conn.AddVehicle(ctx, spec)
}
