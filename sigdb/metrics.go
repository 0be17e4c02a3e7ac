package sigdb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/fosav/sigscan/sigdb")
}

var (
	entriesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sigscan",
		Subsystem: "sigdb",
		Name:      "entries",
		Help:      "Entries in the most recently loaded signature database.",
	})
	linesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sigscan",
		Subsystem: "sigdb",
		Name:      "skipped_lines_total",
		Help:      "Malformed signature lines skipped while loading.",
	})
	loadCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigscan",
		Subsystem: "sigdb",
		Name:      "loads_total",
		Help:      "Signature database loads, by result.",
	}, []string{"result"})
)
