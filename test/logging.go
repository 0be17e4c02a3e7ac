package test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quay/claircore/toolkit/log"
)

var (
	// Install swaps the default slog handler for the per-test one exactly once.
	install = sync.OnceFunc(func() {
		slog.SetDefault(slog.New(new(handler)))
	})

	// Wd caches [os.Getwd], since it may be called for every [slog.Record].
	wd = sync.OnceValue(func() string {
		dir, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		return dir
	})

	// Modprefix caches the main module path, used to shorten function names
	// in the "source" attribute.
	modprefix = sync.OnceValue(func() string {
		if info, ok := debug.ReadBuildInfo(); ok {
			return info.Main.Path + "/"
		}
		return ""
	})
)

type handlerKey struct{}

var _ slog.Handler = (handler)(nil)

// Op is a deferred [slog.Handler.WithAttrs] or [slog.Handler.WithGroup]
// call, replayed once the per-test handler is pulled out of a Context.
type op func(slog.Handler) slog.Handler

// Handler forwards records to the [slog.Handler] stored in the record's
// Context by [Logging]. Records logged with a Context that has no handler
// are dropped.
type handler []op

func fromContext(ctx context.Context) (slog.Handler, bool) {
	h, ok := ctx.Value(handlerKey{}).(slog.Handler)
	return h, ok
}

// Enabled implements [slog.Handler].
func (h handler) Enabled(ctx context.Context, l slog.Level) bool {
	next, ok := fromContext(ctx)
	if !ok {
		return false
	}
	return next.Enabled(ctx, l)
}

// Handle implements [slog.Handler].
func (h handler) Handle(ctx context.Context, r slog.Record) error {
	next, ok := fromContext(ctx)
	if !ok {
		return nil
	}
	for _, f := range h {
		next = f(next)
	}
	if v, ok := ctx.Value(log.AttrsKey).(slog.Value); ok {
		r.AddAttrs(v.Group()...)
	}
	return next.Handle(ctx, r)
}

// WithAttrs implements [slog.Handler].
func (h handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return append(h[:len(h):len(h)], func(h slog.Handler) slog.Handler {
		return h.WithAttrs(attrs)
	})
}

// WithGroup implements [slog.Handler].
func (h handler) WithGroup(name string) slog.Handler {
	return append(h[:len(h):len(h)], func(h slog.Handler) slog.Handler {
		return h.WithGroup(name)
	})
}

// Logging returns a [context.Context] that makes the default [slog.Logger]
// write to the test's output.
//
// If a parent Context is passed, it is used instead of
// [context.Background].
func Logging(t testing.TB, parent ...context.Context) context.Context {
	install()
	ctx := context.Background()
	if len(parent) > 0 {
		ctx = parent[0]
	}
	start := time.Now()
	h := slog.NewTextHandler(logOutput(t), &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
		ReplaceAttr: func(g []string, a slog.Attr) slog.Attr {
			if g != nil {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.String(slog.TimeKey, "+"+time.Since(start).String())
			case slog.SourceKey:
				src, ok := a.Value.Any().(*slog.Source)
				if !ok {
					return a
				}
				if src.Function != "" {
					return slog.String(slog.SourceKey, strings.TrimPrefix(src.Function, modprefix()))
				}
				f := src.File
				if r, err := filepath.Rel(wd(), f); err == nil && r != "" {
					f = r
				}
				return slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", f, src.Line))
			}
			return a
		},
	})
	return context.WithValue(ctx, handlerKey{}, h)
}
