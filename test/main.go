package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// TraceEnv names an environment variable that, when set, is used as the
// default for the "-trace-out" flag.
const TraceEnv = "SIGSCAN_TEST_TRACE"

// Main is meant to be called from a package's TestMain:
//
//	func TestMain(m *testing.M) {
//		test.Main(m)
//	}
//
// Passing "-trace-out=FILE" (or setting [TraceEnv]) appends every span the
// package's code records to FILE as stdouttrace JSON. Main exits the process
// itself; setup failures panic.
func Main(m *testing.M, opts ...Option) {
	var cfg mainConfig
	flag.StringVar(&cfg.traceFile, "trace-out", os.Getenv(TraceEnv), "append spans recorded by the code under test to `file`")
	flag.Parse()
	for _, o := range opts {
		o(&cfg)
	}

	stop := func() error { return nil }
	if cfg.traceFile != "" {
		var err error
		stop, err = startTracing(cfg.traceFile)
		if err != nil {
			panic(err)
		}
	}

	code := m.Run()
	if err := stop(); err != nil {
		fmt.Fprintln(os.Stderr, "test: flushing traces:", err)
		if code == 0 {
			code = 1
		}
	}
	os.Exit(code)
}

type mainConfig struct {
	traceFile string
}

// Option adjusts [Main]. Options are applied after flags are parsed, so they
// take precedence.
type Option func(*mainConfig)

// WithTraceFile sends recorded spans to "path". An empty path turns tracing
// off.
func WithTraceFile(path string) Option {
	return func(c *mainConfig) { c.traceFile = path }
}

// StartTracing installs a global tracer provider writing to "path" and
// returns a function flushing the provider and closing the file.
func startTracing(path string) (func() error, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("test: opening trace file: %w", err)
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(f))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("test: trace exporter: %w", err), f.Close())
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", "sigscan-test"),
		attribute.String("test.binary", os.Args[0]),
	))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("test: trace resource: %w", err), f.Close())
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSyncer(exp),
	)
	otel.SetTracerProvider(tp)

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return errors.Join(tp.Shutdown(ctx), f.Close())
	}, nil
}
