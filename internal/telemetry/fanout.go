package telemetry

import (
	"context"
	"errors"
	"log/slog"
)

// Fanout returns a [slog.Handler] sending records at or above "level" to
// every handler in "hs". Nil handlers are ignored.
func Fanout(level slog.Leveler, hs ...slog.Handler) slog.Handler {
	f := fanout{level: level}
	for _, h := range hs {
		if h != nil {
			f.hs = append(f.hs, h)
		}
	}
	return &f
}

type fanout struct {
	level slog.Leveler
	hs    []slog.Handler
}

var _ slog.Handler = (*fanout)(nil)

// Enabled implements [slog.Handler].
func (f *fanout) Enabled(ctx context.Context, l slog.Level) bool {
	if l < f.level.Level() {
		return false
	}
	for _, h := range f.hs {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

// Handle implements [slog.Handler].
func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.hs {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

// WithAttrs implements [slog.Handler].
func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

// WithGroup implements [slog.Handler].
func (f *fanout) WithGroup(name string) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f *fanout) each(fn func(slog.Handler) slog.Handler) slog.Handler {
	next := fanout{level: f.level, hs: make([]slog.Handler, len(f.hs))}
	for i, h := range f.hs {
		next.hs[i] = fn(h)
	}
	return &next
}
