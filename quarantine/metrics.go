package quarantine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/fosav/sigscan/quarantine")
}

var (
	quarantineCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigscan",
		Subsystem: "quarantine",
		Name:      "quarantined_total",
		Help:      "Quarantine attempts, by result.",
	}, []string{"result"})
	quarantineBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sigscan",
		Subsystem: "quarantine",
		Name:      "quarantined_bytes_total",
		Help:      "Bytes moved into quarantine containers.",
	})
	restoreCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigscan",
		Subsystem: "quarantine",
		Name:      "restored_total",
		Help:      "Restore attempts, by status.",
	}, []string{"status"})
)
