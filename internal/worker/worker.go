// Package worker feeds run and tick events from the dispatcher into a
// storage backend on a single goroutine, so the backend sees them in the
// order the mirror raised them.
package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ctrldec/trafficmirror/internal/cache"
	"github.com/ctrldec/trafficmirror/internal/dispatcher"
	"github.com/ctrldec/trafficmirror/internal/storage"
	"github.com/ctrldec/trafficmirror/pkg/core"
)

// DefaultQueueSize is used when Dependencies.QueueSize is zero.
const DefaultQueueSize = 1024

// ErrStopped is returned by handlers once the manager was stopped.
var ErrStopped = errors.New("worker stopped")

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Logger *slog.Logger
	// Every keeps the frames whose tick is a multiple of Every. Values
	// below 2 keep every frame.
	Every int
	// QueueSize bounds the events waiting for the backend. Frames that do
	// not fit are dropped; run events wait.
	QueueSize int
}

// Stats counts what happened to the events seen so far.
type Stats struct {
	Recorded uint64
	Skipped  uint64
	Dropped  uint64
	Failed   uint64
	Pending  int
}

// Manager owns the goroutine writing to the backend.
type Manager struct {
	deps    Dependencies
	backend storage.Backend
	log     *slog.Logger

	events chan dispatcher.Event
	done   chan struct{}

	mu      sync.RWMutex
	started bool
	closed  bool

	recorded cache.Counter
	skipped  cache.Counter
	dropped  cache.Counter
	failed   cache.Counter
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies, backend storage.Backend) *Manager {
	if deps.QueueSize <= 0 {
		deps.QueueSize = DefaultQueueSize
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		deps:    deps,
		backend: backend,
		log:     log.With("component", "worker"),
		events:  make(chan dispatcher.Event, deps.QueueSize),
		done:    make(chan struct{}),
	}
}

// RegisterHandlers registers the run and tick handlers with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	d.Register(dispatcher.KindRunStarted, m.handleRunStarted, dispatcher.Logged())
	d.Register(dispatcher.KindTick, m.handleTick)
	d.Register(dispatcher.KindRunEnded, m.handleRunEnded, dispatcher.Logged())
}

// Start launches the writer goroutine.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true
	go m.loop()
}

// Stop lets the writer finish the queued events and waits for it.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		<-m.done
		return
	}
	m.closed = true
	close(m.events)
	started := m.started
	m.mu.Unlock()

	if !started {
		close(m.done)
		return
	}
	<-m.done
}

func (m *Manager) handleRunStarted(e dispatcher.Event) error {
	if _, ok := e.Payload.(*core.Run); !ok {
		return fmt.Errorf("%s: unexpected payload %T", e.Kind, e.Payload)
	}
	return m.enqueue(e, true)
}

func (m *Manager) handleRunEnded(e dispatcher.Event) error {
	if _, ok := e.Payload.(*core.RunEnd); !ok {
		return fmt.Errorf("%s: unexpected payload %T", e.Kind, e.Payload)
	}
	return m.enqueue(e, true)
}

func (m *Manager) handleTick(e dispatcher.Event) error {
	if _, ok := e.Payload.(*core.Frame); !ok {
		return fmt.Errorf("%s: unexpected payload %T", e.Kind, e.Payload)
	}
	if every := uint64(m.deps.Every); every > 1 && e.Tick%every != 0 {
		m.skipped.Inc()
		return nil
	}
	return m.enqueue(e, false)
}

func (m *Manager) enqueue(e dispatcher.Event, wait bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrStopped
	}
	if wait {
		m.events <- e
		return nil
	}
	select {
	case m.events <- e:
	default:
		if n := m.dropped.Inc(); n == 1 || n%100 == 0 {
			m.log.Warn("backend too slow, dropping frames", "tick", e.Tick, "dropped", n)
		}
	}
	return nil
}

func (m *Manager) loop() {
	defer close(m.done)
	for e := range m.events {
		if err := m.write(e); err != nil {
			m.failed.Inc()
			m.log.Error("storage write failed", "kind", e.Kind, "tick", e.Tick, "error", err)
		}
	}
}

func (m *Manager) write(e dispatcher.Event) error {
	switch p := e.Payload.(type) {
	case *core.Run:
		m.log.Info("recording run", "run", p.ID)
		return m.backend.StartRun(p)
	case *core.Frame:
		if err := m.backend.RecordFrame(p); err != nil {
			return err
		}
		m.recorded.Inc()
		return nil
	case *core.RunEnd:
		if err := m.backend.EndRun(p); err != nil {
			return err
		}
		attrs := []any{"run", p.RunID, "frames", m.recorded.Value()}
		if exp, ok := m.backend.(storage.Exportable); ok && exp.ExportedFilePath() != "" {
			attrs = append(attrs, "file", exp.ExportedFilePath())
		}
		m.log.Info("run recorded", attrs...)
		return nil
	}
	return fmt.Errorf("%s: unexpected payload %T", e.Kind, e.Payload)
}

// Stats returns the event counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Recorded: m.recorded.Value(),
		Skipped:  m.skipped.Value(),
		Dropped:  m.dropped.Value(),
		Failed:   m.failed.Value(),
		Pending:  len(m.events),
	}
}

// WriteDurationProvider is an optional interface that backends can implement
// to expose their last write duration for monitoring.
type WriteDurationProvider interface {
	LastWriteDuration() time.Duration
}

// LastWriteDuration returns the duration of the last backend write cycle.
// Returns 0 if the backend doesn't support this metric.
func (m *Manager) LastWriteDuration() time.Duration {
	if p, ok := m.backend.(WriteDurationProvider); ok {
		return p.LastWriteDuration()
	}
	return 0
}
