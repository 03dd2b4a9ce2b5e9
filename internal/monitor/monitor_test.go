package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrldec/trafficmirror/internal/mirror"
)

type fixedStats mirror.Stats

func (f fixedStats) Stats() mirror.Stats { return mirror.Stats(f) }

func TestGetProgramStatus(t *testing.T) {
	svc := NewService(Dependencies{Source: fixedStats{
		Tick:     12,
		Vehicles: 3,
		Signals:  2,
		Dropped:  1,
		LastStep: 1500 * time.Microsecond,
		Delay:    200 * time.Millisecond,
		Started:  true,
	}})

	lines, st := svc.GetProgramStatus()
	require.Len(t, lines, 1)
	assert.Equal(t, uint64(12), st.Tick)
	assert.Equal(t, 3, st.Vehicles)
	assert.Equal(t, 1.5, st.LastStepMs)
	assert.Equal(t, int64(200), st.DelayMs)

	var decoded Status
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, uint64(1), decoded.Dropped)
	assert.True(t, decoded.Started)
}

func TestWriteStatus_ReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.txt")
	require.NoError(t, os.WriteFile(path, []byte("stale content that is longer than the status"), 0644))

	svc := NewService(Dependencies{Source: fixedStats{Tick: 5}, StatusFile: path})
	require.NoError(t, svc.WriteStatus())

	var decoded Status
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, uint64(5), decoded.Tick)
}

func TestStartStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.txt")
	svc := NewService(Dependencies{
		Source:     fixedStats{Tick: 7},
		StatusFile: path,
		Interval:   5 * time.Millisecond,
	})

	require.NoError(t, svc.Start())
	assert.True(t, svc.IsRunning())
	require.NoError(t, svc.Start())

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	svc.Stop()
	assert.False(t, svc.IsRunning())
	svc.Stop()
}
