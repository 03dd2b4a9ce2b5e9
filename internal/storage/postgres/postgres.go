// Package postgres implements the storage.Backend interface on PostgreSQL.
// Rows are queued and written by the embedded GORM backend.
package postgres

import (
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/ctrldec/trafficmirror/internal/config"
	"github.com/ctrldec/trafficmirror/internal/database"
	gormstorage "github.com/ctrldec/trafficmirror/internal/storage/gorm"
)

// Backend connects to Postgres at Init and delegates everything else to the
// GORM backend.
type Backend struct {
	*gormstorage.Backend
	cfg config.DBConfig
	db  *gorm.DB
	log *slog.Logger
}

// New creates a Postgres backend for cfg. The connection is opened by Init.
func New(cfg config.DBConfig, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{cfg: cfg, log: logger.With("component", "storage.postgres")}
}

// NewWithDB creates a backend on an existing connection.
func NewWithDB(db *gorm.DB, logger *slog.Logger) *Backend {
	b := New(config.DBConfig{}, logger)
	b.db = db
	return b
}

// Init connects, migrates the schema and starts the writer.
func (b *Backend) Init() error {
	if b.db == nil {
		db, err := database.OpenPostgres(b.cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		b.db = db
		b.log.Info("connected to database", "host", b.cfg.Host, "database", b.cfg.Database)
	}

	b.Backend = gormstorage.New(gormstorage.Dependencies{DB: b.db, Logger: b.log})
	return b.Backend.Init()
}

// Close flushes the queues and closes the connection pool.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	if err := b.Backend.Close(); err != nil {
		return err
	}
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
