package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

func swapStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = old })
	return &buf
}

func TestSetup_Output(t *testing.T) {
	console := swapStdout(t)

	var file bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{Output: &file})
	m.Logger().Info("to file")
	assert.Contains(t, file.String(), "to file")
	assert.Empty(t, console.String())

	m.Setup(Options{})
	m.Logger().Info("to console")
	assert.Contains(t, console.String(), "to console")
	assert.NotContains(t, file.String(), "to console")
}

func TestSetup_Levels(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
	}{
		{"debug", true, true},
		{"DEBUG", true, true},
		{"info", false, true},
		{"warn", false, false},
		{"error", false, false},
		{"", false, true},
		{"verbose", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			m := NewSlogManager()
			m.Setup(Options{Output: &buf, Level: tt.level})
			buf.Reset()

			m.Logger().Debug("dbg")
			m.Logger().Info("inf")
			assert.Equal(t, tt.wantDebug, strings.Contains(buf.String(), "msg=dbg"))
			assert.Equal(t, tt.wantInfo, strings.Contains(buf.String(), "msg=inf"))
		})
	}
}

func TestParseLevel_Offset(t *testing.T) {
	assert.Equal(t, slog.LevelDebug-2, parseLevel("debug-2"))
	assert.Equal(t, slog.LevelWarn, parseLevel(" warn "))
}

func TestSetup_JSONFormatUsesUTC(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{Output: &buf, Format: "json"})
	buf.Reset()

	m.Logger().Info("structured", "vehicles", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "structured", rec["msg"])
	assert.EqualValues(t, 3, rec["vehicles"])
	assert.True(t, strings.HasSuffix(rec["time"].(string), "Z"), rec["time"])
}

func TestSetup_ContextProvider(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{Output: &buf})

	m.Logger().Info("before")
	assert.NotContains(t, buf.String(), "tick=")

	tick := uint64(7)
	m.SetContextProvider(func() []slog.Attr {
		return []slog.Attr{slog.Uint64("tick", tick), slog.Float64("simTime", 3.5)}
	})
	m.Logger().Info("after")
	tick = 8
	m.Logger().With("vehicle", "v0").WithGroup("lane").Info("grouped", "id", "e_0")

	out := buf.String()
	assert.Contains(t, out, "msg=after tick=7 simTime=3.5")
	assert.Contains(t, out, "vehicle=v0 lane.id=e_0 lane.tick=8")

	m.SetContextProvider(nil)
	buf.Reset()
	m.Logger().Info("cleared")
	assert.NotContains(t, buf.String(), "tick=")
}

func TestLogger_DefaultBeforeSetup(t *testing.T) {
	assert.Equal(t, slog.Default(), NewSlogManager().Logger())
}

func TestFlush(t *testing.T) {
	m := NewSlogManager()
	assert.NoError(t, m.Flush(context.Background()))

	var buf bytes.Buffer
	m.Setup(Options{Output: &buf, Provider: sdklog.NewLoggerProvider()})
	m.Logger().Info("bridged")
	assert.Contains(t, buf.String(), "bridged")
	assert.NoError(t, m.Flush(context.Background()))
}

type failingSink struct{ slog.Handler }

func (failingSink) Enabled(context.Context, slog.Level) bool { return true }

func (failingSink) Handle(context.Context, slog.Record) error { return errors.New("sink down") }

func TestFanout(t *testing.T) {
	var a, b bytes.Buffer
	debug := slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelDebug})
	info := slog.NewTextHandler(&b, nil)

	f := NewFanout(nil, debug, nil, info)
	require.Len(t, f, 2)
	assert.True(t, f.Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, NewFanout(info).Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, NewFanout().Enabled(context.Background(), slog.LevelError))

	logger := slog.New(f).With("run", "r1").WithGroup("veh")
	logger.Debug("only a", "id", "v0")
	logger.Info("both", "id", "v1")

	assert.Contains(t, a.String(), "run=r1 veh.id=v0")
	assert.Contains(t, a.String(), "veh.id=v1")
	assert.NotContains(t, b.String(), "only a")
	assert.Contains(t, b.String(), "run=r1 veh.id=v1")
	assert.Equal(t, f, f.WithGroup(""))
}

func TestFanout_FailingSinkDoesNotBlockOthers(t *testing.T) {
	var buf bytes.Buffer
	f := NewFanout(failingSink{}, slog.NewTextHandler(&buf, nil))

	var r slog.Record
	r.Message = "still delivered"
	err := f.Handle(context.Background(), r)
	assert.EqualError(t, err, "sink down")
	assert.Contains(t, buf.String(), "still delivered")
}
