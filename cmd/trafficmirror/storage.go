package main

import (
	"fmt"
	"path/filepath"

	"github.com/ctrldec/trafficmirror/internal/config"
	"github.com/ctrldec/trafficmirror/internal/dispatcher"
	"github.com/ctrldec/trafficmirror/internal/storage"
	influxstorage "github.com/ctrldec/trafficmirror/internal/storage/influx"
	"github.com/ctrldec/trafficmirror/internal/storage/memory"
	pgstorage "github.com/ctrldec/trafficmirror/internal/storage/postgres"
	sqlitestorage "github.com/ctrldec/trafficmirror/internal/storage/sqlite"
	wsstorage "github.com/ctrldec/trafficmirror/internal/storage/websocket"
	"github.com/ctrldec/trafficmirror/internal/worker"
)

// initStorage creates the configured backend and starts a worker feeding
// it from d. The returned function stops the worker, closes the backend and
// returns the path of the exported recording, if any.
func initStorage(storageCfg config.StorageConfig, d *dispatcher.Dispatcher) (*worker.Manager, func() string, error) {
	backend, err := createStorageBackend(storageCfg)
	if err != nil {
		Logger.Error("Failed to create storage backend", "error", err)
		return nil, nil, err
	}
	if err := backend.Init(); err != nil {
		Logger.Error("Failed to initialize storage backend", "type", storageCfg.Type, "error", err)
		return nil, nil, err
	}

	workerManager := worker.NewManager(worker.Dependencies{
		Logger: Logger,
		Every:  storageCfg.Every,
	}, backend)

	Logger.Debug("Registering worker handlers with dispatcher")
	workerManager.RegisterHandlers(d)
	workerManager.Start()
	Logger.Info("Storage ready", "type", storageCfg.Type, "every", storageCfg.Every)

	stop := func() string {
		workerManager.Stop()
		stats := workerManager.Stats()
		Logger.Info("Storage worker stopped", "recorded", stats.Recorded, "skipped", stats.Skipped, "dropped", stats.Dropped, "failed", stats.Failed)
		if err := backend.Close(); err != nil {
			Logger.Error("Failed to close storage backend", "error", err)
		}
		exp, ok := backend.(storage.Exportable)
		if !ok || exp.ExportedFilePath() == "" {
			return ""
		}
		Logger.Info("Recording written", "path", exp.ExportedFilePath())
		return exp.ExportedFilePath()
	}
	return workerManager, stop, nil
}

func createStorageBackend(storageCfg config.StorageConfig) (storage.Backend, error) {
	switch storageCfg.Type {
	case "postgres":
		Logger.Info("Postgres storage backend initialized", "host", storageCfg.DB.Host, "database", storageCfg.DB.Database)
		return pgstorage.New(storageCfg.DB, Logger), nil

	case "sqlite":
		backend, err := sqlitestorage.New(storageCfg.SQLite, Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		Logger.Info("SQLite storage backend initialized", "dir", storageCfg.SQLite.Dir)
		return backend, nil

	case "influx":
		backupPath := filepath.Join(storageCfg.Memory.OutputDir,
			fmt.Sprintf("influx_backup.%s.lp.gz", SessionStartTime.Format("20060102_150405")))
		Logger.Info("InfluxDB storage backend initialized", "url", storageCfg.Influx.URL(), "bucket", storageCfg.Influx.Bucket)
		return influxstorage.New(storageCfg.Influx, backupPath, Logger), nil

	case "websocket":
		Logger.Info("WebSocket storage backend initialized", "url", storageCfg.Websocket.URL)
		return wsstorage.New(wsstorage.Config{
			URL:    storageCfg.Websocket.URL,
			Secret: storageCfg.Websocket.Secret,
		}, Logger), nil

	case "memory", "":
		Logger.Info("Memory storage backend initialized", "dir", storageCfg.Memory.OutputDir)
		return memory.New(storageCfg.Memory), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", storageCfg.Type)
	}
}
