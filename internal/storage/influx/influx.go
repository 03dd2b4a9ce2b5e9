// Package influxstorage implements storage.Backend on InfluxDB v2. Each
// frame becomes one point per vehicle plus points for signal changes and
// lifecycle events. When the server is unreachable at Init, points are
// written as gzipped line protocol to a backup file instead.
package influxstorage

import (
	"compress/gzip"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"

	"github.com/ctrldec/trafficmirror/internal/config"
	"github.com/ctrldec/trafficmirror/internal/storage"
	"github.com/ctrldec/trafficmirror/pkg/core"
)

// Measurement names.
const (
	MeasurementRun       = "run"
	MeasurementFrame     = "frame"
	MeasurementVehicle   = "vehicle"
	MeasurementSignal    = "signal"
	MeasurementLifecycle = "lifecycle"
)

// RetentionDays is applied to buckets created by Init.
const RetentionDays = 90

var pingTimeout = 5 * time.Second

// pointWriter is the non-blocking write API, narrowed for tests.
type pointWriter interface {
	WritePoint(point *influxdb2_write.Point)
	Flush()
}

// Backend writes frames to InfluxDB.
type Backend struct {
	cfg        config.InfluxConfig
	backupPath string
	log        *slog.Logger

	client influxdb2.Client
	writer pointWriter

	backupFile *os.File
	backup     *gzip.Writer

	mu         sync.Mutex
	runID      string
	lastSignal map[string]string

	written atomic.Uint64
}

var _ storage.Backend = (*Backend)(nil)

// New creates an InfluxDB backend. backupPath receives line protocol when
// the server cannot be reached; empty disables the fallback.
func New(cfg config.InfluxConfig, backupPath string, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		cfg:        cfg,
		backupPath: backupPath,
		log:        logger.With("component", "storage.influx"),
	}
}

// Init connects to the server, creating the org and bucket if needed.
func (b *Backend) Init() error {
	if b.writer != nil {
		return nil
	}

	b.client = influxdb2.NewClientWithOptions(
		b.cfg.URL(),
		b.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	running, err := b.client.Ping(ctx)
	if err != nil || !running {
		b.client.Close()
		b.client = nil
		if b.backupPath == "" {
			return fmt.Errorf("influxdb at %s not reachable: %v", b.cfg.URL(), err)
		}
		b.log.Warn("influxdb not reachable, writing to backup file", "url", b.cfg.URL(), "backupPath", b.backupPath, "error", err)
		return b.openBackup()
	}

	if err := b.setupOrganizationAndBucket(ctx); err != nil {
		b.client.Close()
		b.client = nil
		return err
	}

	api := b.client.WriteAPI(b.cfg.Org, b.cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			b.log.Error("error sending data to influxdb", "bucket", b.cfg.Bucket, "error", writeErr)
		}
	}(api.Errors())
	b.writer = api

	b.log.Info("influxdb client initialized", "url", b.cfg.URL(), "bucket", b.cfg.Bucket)
	return nil
}

func (b *Backend) openBackup() error {
	if err := os.MkdirAll(filepath.Dir(b.backupPath), 0o755); err != nil {
		return fmt.Errorf("error creating backup directory: %w", err)
	}
	file, err := os.OpenFile(b.backupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	b.backupFile = file
	b.backup = gzip.NewWriter(file)
	return nil
}

func (b *Backend) setupOrganizationAndBucket(ctx context.Context) error {
	orgs := b.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, b.cfg.Org)
	if err != nil {
		b.log.Info("organization not found, creating", "org", b.cfg.Org)
		org, err = orgs.CreateOrganizationWithName(ctx, b.cfg.Org)
		if err != nil {
			return fmt.Errorf("error creating organization %s: %w", b.cfg.Org, err)
		}
	}

	buckets := b.client.BucketsAPI()
	if _, err := buckets.FindBucketByName(ctx, b.cfg.Bucket); err != nil {
		b.log.Info("bucket not found, creating", "bucket", b.cfg.Bucket)
		rule := domain.RetentionRuleTypeExpire
		_, err = buckets.CreateBucketWithName(ctx, org, b.cfg.Bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: 60 * 60 * 24 * RetentionDays,
		})
		if err != nil {
			return fmt.Errorf("error creating bucket %s: %w", b.cfg.Bucket, err)
		}
	}
	return nil
}

// Close flushes pending points and releases the client or backup file.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.writer != nil {
		b.writer.Flush()
	}
	if b.client != nil {
		b.client.Close()
		b.client = nil
	}
	if b.backup != nil {
		err := b.backup.Close()
		if cerr := b.backupFile.Close(); err == nil {
			err = cerr
		}
		b.backup = nil
		b.backupFile = nil
		return err
	}
	return nil
}

// Written returns the number of points handed to the writer or backup.
func (b *Backend) Written() uint64 {
	return b.written.Load()
}

// writePoint must be called with mu held.
func (b *Backend) writePoint(p *influxdb2_write.Point) error {
	switch {
	case b.writer != nil:
		b.writer.WritePoint(p)
	case b.backup != nil:
		line := influxdb2_write.PointToLineProtocol(p, time.Nanosecond)
		if !strings.HasSuffix(line, "\n") {
			line += "\n"
		}
		if _, err := b.backup.Write([]byte(line)); err != nil {
			return fmt.Errorf("error writing to influxdb backup file: %w", err)
		}
	default:
		return fmt.Errorf("influxdb client not initialized and backup writer not available")
	}
	b.written.Add(1)
	return nil
}

// StartRun writes a run point carrying the engine description.
func (b *Backend) StartRun(run *core.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.runID = run.ID
	b.lastSignal = make(map[string]string, len(run.Signals))

	p := influxdb2.NewPoint(MeasurementRun,
		map[string]string{"run": run.ID, "event": "start"},
		map[string]interface{}{
			"engine":     run.EngineAddr,
			"version":    run.EngineVersion,
			"step_delay": run.StepDelay.Seconds(),
			"signals":    len(run.Signals),
		},
		run.StartTime)
	if err := b.writePoint(p); err != nil {
		return err
	}
	return b.writeSignalChanges(run.Signals, 0, run.StartTime)
}

// RecordFrame writes one point per vehicle, one per changed signal and
// one per lifecycle event, plus a frame summary.
func (b *Backend) RecordFrame(f *core.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.runID == "" {
		return storage.ErrNoRun
	}

	ts := f.Captured
	if ts.IsZero() {
		ts = time.Now()
	}

	if err := b.writePoint(influxdb2.NewPoint(MeasurementFrame,
		map[string]string{"run": b.runID},
		map[string]interface{}{
			"tick":     f.Tick,
			"sim_time": f.SimTime,
			"vehicles": len(f.Vehicles),
			"departed": len(f.Departed),
			"arrived":  len(f.Arrived),
		},
		ts)); err != nil {
		return err
	}

	for _, v := range f.Vehicles {
		fields := map[string]interface{}{
			"tick":  f.Tick,
			"speed": v.Speed,
			"angle": v.Angle,
		}
		if v.Position.Known() {
			fields["x"] = v.Position.X
			fields["y"] = v.Position.Y
		}
		if v.Color.Set {
			fields["color"] = fmt.Sprintf("#%02x%02x%02x%02x", v.Color.R, v.Color.G, v.Color.B, v.Color.A)
		}
		p := influxdb2.NewPoint(MeasurementVehicle,
			map[string]string{"run": b.runID, "vehicle": v.ID},
			fields, ts)
		if err := b.writePoint(p); err != nil {
			return err
		}
	}

	if err := b.writeSignalChanges(f.Signals, f.Tick, ts); err != nil {
		return err
	}

	for _, ev := range []struct {
		kind string
		ids  []string
	}{{"departed", f.Departed}, {"arrived", f.Arrived}} {
		for _, id := range ev.ids {
			p := influxdb2.NewPoint(MeasurementLifecycle,
				map[string]string{"run": b.runID, "kind": ev.kind},
				map[string]interface{}{"vehicle": id, "tick": f.Tick},
				ts)
			if err := b.writePoint(p); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeSignalChanges must be called with mu held.
func (b *Backend) writeSignalChanges(signals []core.SignalState, tick uint64, ts time.Time) error {
	for _, s := range signals {
		if s.State == "" || b.lastSignal[s.ID] == s.State {
			continue
		}
		b.lastSignal[s.ID] = s.State
		p := influxdb2.NewPoint(MeasurementSignal,
			map[string]string{"run": b.runID, "signal": s.ID},
			map[string]interface{}{"state": s.State, "tick": tick},
			ts)
		if err := b.writePoint(p); err != nil {
			return err
		}
	}
	return nil
}

// EndRun writes the closing run point and flushes.
func (b *Backend) EndRun(end *core.RunEnd) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.runID == "" {
		return storage.ErrNoRun
	}

	ts := end.EndTime
	if ts.IsZero() {
		ts = time.Now()
	}
	p := influxdb2.NewPoint(MeasurementRun,
		map[string]string{"run": b.runID, "event": "end"},
		map[string]interface{}{
			"end_tick": end.EndTick,
			"sim_time": end.SimTime,
		},
		ts)
	err := b.writePoint(p)
	b.runID = ""

	if b.writer != nil {
		b.writer.Flush()
	}
	if b.backup != nil {
		if ferr := b.backup.Flush(); err == nil {
			err = ferr
		}
	}
	return err
}
