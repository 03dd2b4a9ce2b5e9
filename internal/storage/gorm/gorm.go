// Package gormstorage implements storage.Backend on top of GORM, with
// internal queues drained by a background writer goroutine. The sqlite and
// postgres backends embed it.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/ctrldec/trafficmirror/internal/model"
	"github.com/ctrldec/trafficmirror/internal/model/convert"
	"github.com/ctrldec/trafficmirror/internal/queue"
	"github.com/ctrldec/trafficmirror/internal/storage"
	"github.com/ctrldec/trafficmirror/pkg/core"
)

// DefaultFlushInterval is used when Dependencies.FlushInterval is zero.
const DefaultFlushInterval = 2 * time.Second

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	// DB may be nil, in which case rows are converted and queued but never
	// written.
	DB            *gorm.DB
	Logger        *slog.Logger
	FlushInterval time.Duration
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	VehicleStates   *queue.Queue[model.VehicleState]
	SignalStates    *queue.Queue[model.SignalState]
	LifecycleEvents *queue.Queue[model.LifecycleEvent]
}

func newQueues() *queues {
	return &queues{
		VehicleStates:   queue.New[model.VehicleState](),
		SignalStates:    queue.New[model.SignalState](),
		LifecycleEvents: queue.New[model.LifecycleEvent](),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps   Dependencies
	log    *slog.Logger
	queues *queues

	mu         sync.Mutex
	run        *model.Run
	lastSignal map[string]string

	flushMu   sync.Mutex
	lastWrite atomic.Int64

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

var _ storage.Backend = (*Backend)(nil)

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Backend{
		deps: deps,
		log:  log.With("component", "storage.gorm"),
	}
}

// DB returns the underlying connection, nil in queue-only mode.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init creates internal queues, runs schema migration, and starts the DB
// writer goroutine.
func (b *Backend) Init() error {
	b.queues = newQueues()
	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})

	if b.deps.DB == nil {
		close(b.done)
		return nil
	}

	b.log.Info("migrating schema", "dialect", b.deps.DB.Name())
	if err := b.deps.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	go b.writer()
	return nil
}

// Close stops the writer goroutine and writes whatever is still queued.
func (b *Backend) Close() error {
	if b.stopChan == nil {
		return nil
	}
	b.stopOnce.Do(func() { close(b.stopChan) })
	<-b.done
	return b.Flush()
}

// StartRun inserts the run and its signals synchronously and opens the
// frame queues for it.
func (b *Backend) StartRun(run *core.Run) error {
	m := convert.CoreToRun(*run)
	if db := b.deps.DB; db != nil {
		if err := db.Create(&m).Error; err != nil {
			return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
		}
		if signals := convert.CoreToSignals(run.ID, run.Signals); len(signals) > 0 {
			if err := db.Create(&signals).Error; err != nil {
				return fmt.Errorf("failed to insert signals of run %s: %w", run.ID, err)
			}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.run != nil {
		b.log.Warn("run started while another is open", "previous", b.run.ID, "run", run.ID)
	}
	b.run = &m
	b.lastSignal = make(map[string]string, len(run.Signals))

	initial := core.Frame{Captured: run.StartTime, Signals: run.Signals}
	b.queues.SignalStates.Push(convert.FrameToSignalStates(run.ID, initial, b.lastSignal)...)
	return nil
}

// RecordFrame converts f and queues its rows.
func (b *Backend) RecordFrame(f *core.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.run == nil {
		return storage.ErrNoRun
	}
	runID := b.run.ID
	b.queues.VehicleStates.Push(convert.FrameToVehicleStates(runID, *f)...)
	b.queues.SignalStates.Push(convert.FrameToSignalStates(runID, *f, b.lastSignal)...)
	b.queues.LifecycleEvents.Push(convert.FrameToLifecycleEvents(runID, *f)...)
	return nil
}

// EndRun writes the queued rows and closes the run row.
func (b *Backend) EndRun(end *core.RunEnd) error {
	b.mu.Lock()
	run := b.run
	b.run = nil
	b.mu.Unlock()
	if run == nil {
		return storage.ErrNoRun
	}

	flushErr := b.Flush()
	convert.ApplyRunEnd(run, *end)
	if db := b.deps.DB; db != nil {
		if err := db.Save(run).Error; err != nil {
			return errors.Join(flushErr, fmt.Errorf("failed to close run %s: %w", run.ID, err))
		}
	}
	return flushErr
}

// Flush writes every queued row now.
func (b *Backend) Flush() error {
	db := b.deps.DB
	if db == nil || b.queues == nil {
		return nil
	}

	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	start := time.Now()
	err := errors.Join(
		writeQueue(db, b.queues.VehicleStates, "vehicle states"),
		writeQueue(db, b.queues.SignalStates, "signal states"),
		writeQueue(db, b.queues.LifecycleEvents, "lifecycle events"),
	)
	b.lastWrite.Store(int64(time.Since(start)))
	if err != nil {
		b.log.Error("write failed, rows requeued", "error", err)
	}
	return err
}

// LastWriteDuration is how long the most recent flush took.
func (b *Backend) LastWriteDuration() time.Duration {
	return time.Duration(b.lastWrite.Load())
}

// Pending returns the number of queued rows.
func (b *Backend) Pending() int {
	if b.queues == nil {
		return 0
	}
	return b.queues.VehicleStates.Len() + b.queues.SignalStates.Len() + b.queues.LifecycleEvents.Len()
}

// writeQueue writes all items from a queue to the database in a transaction.
// On failure the items go back to the head of the queue for the next attempt.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string) error {
	items := q.Drain()
	if len(items) == 0 {
		return nil
	}

	tx := db.Begin()
	if err := tx.Error; err != nil {
		q.Requeue(items)
		return fmt.Errorf("error opening transaction for %s: %w", name, err)
	}
	if err := tx.Create(&items).Error; err != nil {
		tx.Rollback()
		q.Requeue(items)
		return fmt.Errorf("error creating %s: %w", name, err)
	}
	if err := tx.Commit().Error; err != nil {
		q.Requeue(items)
		return fmt.Errorf("error committing %s: %w", name, err)
	}
	return nil
}

// writer periodically drains the queues into the DB.
func (b *Backend) writer() {
	defer close(b.done)
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			_ = b.Flush()
		}
	}
}
