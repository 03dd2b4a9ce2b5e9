package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrldec/trafficmirror/internal/config"
	"github.com/ctrldec/trafficmirror/internal/database"
	"github.com/ctrldec/trafficmirror/internal/model"
	"github.com/ctrldec/trafficmirror/internal/storage"
	"github.com/ctrldec/trafficmirror/pkg/core"
)

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

func TestInit_UnreachableServer(t *testing.T) {
	b := New(config.DBConfig{Host: "127.0.0.1", Port: "1", Username: "u", Database: "d"}, nil)
	err := b.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to postgres")
	assert.NoError(t, b.Close())
}

func TestInjectedDB_RecordsRun(t *testing.T) {
	db, err := database.OpenSQLite("")
	require.NoError(t, err)

	b := NewWithDB(db, nil)
	require.NoError(t, b.Init())

	require.NoError(t, b.StartRun(&core.Run{ID: "pg-1", StartTime: time.Now().UTC()}))
	require.NoError(t, b.RecordFrame(&core.Frame{
		Tick:     1,
		Vehicles: []core.VehicleState{{ID: "v0", Position: core.Position2D{X: 5, Y: 5}, Valid: true}},
	}))
	require.NoError(t, b.EndRun(&core.RunEnd{RunID: "pg-1", EndTick: 1, EndTime: time.Now().UTC()}))

	var ids []string
	require.NoError(t, db.Model(&model.VehicleState{}).Pluck("vehicle_id", &ids).Error)
	assert.Equal(t, []string{"v0"}, ids)

	require.NoError(t, b.Close())
}
