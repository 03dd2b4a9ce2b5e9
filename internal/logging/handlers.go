package logging

import (
	"context"
	"errors"
	"log/slog"
)

// ContextProvider returns attributes computed at log time, such as the
// current tick.
type ContextProvider func() []slog.Attr

// contextHandler appends the attributes of a ContextProvider to every record.
type contextHandler struct {
	next     slog.Handler
	provider ContextProvider
}

func withContext(next slog.Handler, p ContextProvider) slog.Handler {
	if p == nil {
		return next
	}
	return &contextHandler{next: next, provider: p}
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := h.provider(); len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.next.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs), provider: h.provider}
}

// WithGroup nests provider attributes inside the group too.
func (h *contextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &contextHandler{next: h.next.WithGroup(name), provider: h.provider}
}

// Fanout sends every record to all of its sinks. Sinks that fail do not
// keep the record from the others.
type Fanout []slog.Handler

// NewFanout drops nil sinks.
func NewFanout(sinks ...slog.Handler) Fanout {
	out := make(Fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (f Fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, s := range f {
		if s.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f Fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, s := range f {
		if s.Enabled(ctx, r.Level) {
			errs = append(errs, s.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(Fanout, len(f))
	for i, s := range f {
		out[i] = s.WithAttrs(attrs)
	}
	return out
}

func (f Fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	out := make(Fanout, len(f))
	for i, s := range f {
		out[i] = s.WithGroup(name)
	}
	return out
}
