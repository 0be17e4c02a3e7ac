package scan

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var (
	meter  = otel.Meter("github.com/fosav/sigscan/scan")
	tracer = otel.Tracer("github.com/fosav/sigscan/scan")

	stepCall metric.Int64Counter = noop.Int64Counter{}
)

var metricInit = sync.OnceValue(func() (err error) {
	stepCall, err = meter.Int64Counter("step.count",
		metric.WithUnit("{call}"),
		metric.WithDescription("Scan steps executed, by step."),
	)
	if err != nil {
		return err
	}
	return nil
})

var stepAttrKey = attribute.Key("step")

func stepAttr(name string) attribute.KeyValue {
	return stepAttrKey.String(name)
}

var (
	fileCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigscan",
		Subsystem: "scan",
		Name:      "files_total",
		Help:      "Files processed, by result.",
	}, []string{"result"})
	scanCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigscan",
		Subsystem: "scan",
		Name:      "scans_total",
		Help:      "Scans run, by final state.",
	}, []string{"state"})
	scanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sigscan",
		Subsystem: "scan",
		Name:      "duration_seconds",
		Help:      "Scan wall time, by final state.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"state"})
)
