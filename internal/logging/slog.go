package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// ServiceName identifies this program in OTel log records.
const ServiceName = "trafficmirror"

// stdout is where records go when no Output is set. Tests replace it.
var stdout io.Writer = os.Stdout

// Options configures SlogManager.Setup.
type Options struct {
	// Output receives formatted records. nil means stdout.
	Output io.Writer
	// Level is one of debug, info, warn, error, optionally with an offset
	// like "debug-2". Unknown values fall back to info.
	Level string
	// Format is "text" (default) or "json".
	Format string
	// Provider, when set, also receives every record through the OTel bridge.
	Provider *sdklog.LoggerProvider
}

// SlogManager owns the process logger. The context provider can be swapped
// at any time, so a session started after Setup still tags every record.
type SlogManager struct {
	logger   *slog.Logger
	provider *sdklog.LoggerProvider
	context  atomic.Pointer[ContextProvider]
}

func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
	}
	return a
}

// Setup replaces the logger built by any previous call.
func (m *SlogManager) Setup(opts Options) {
	out := opts.Output
	if out == nil {
		out = stdout
	}
	ho := &slog.HandlerOptions{Level: parseLevel(opts.Level), ReplaceAttr: utcTime}

	var sink slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		sink = slog.NewJSONHandler(out, ho)
	} else {
		sink = slog.NewTextHandler(out, ho)
	}

	var bridge slog.Handler
	if opts.Provider != nil {
		bridge = otelslog.NewHandler(ServiceName, otelslog.WithLoggerProvider(opts.Provider))
	}

	m.provider = opts.Provider
	m.logger = slog.New(withContext(NewFanout(sink, bridge), m.contextAttrs))
	m.logger.Info("Logging initialized", "level", ho.Level, "format", formatName(opts.Format))
}

func formatName(f string) string {
	if strings.EqualFold(f, "json") {
		return "json"
	}
	return "text"
}

// SetContextProvider installs p as the source of per-record attributes,
// typically the tick and simulation time of the running session. nil
// removes it.
func (m *SlogManager) SetContextProvider(p ContextProvider) {
	if p == nil {
		m.context.Store(nil)
		return
	}
	m.context.Store(&p)
}

func (m *SlogManager) contextAttrs() []slog.Attr {
	if p := m.context.Load(); p != nil {
		return (*p)()
	}
	return nil
}

// Logger returns the configured logger, or slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush forces pending OTel log records out.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.ForceFlush(ctx)
}
