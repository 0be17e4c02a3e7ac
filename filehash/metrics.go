package filehash

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hashDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sigscan",
		Subsystem: "filehash",
		Name:      "duration_seconds",
		Help:      "Time taken to hash a file, including open and read time.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
	})
	hashCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigscan",
		Subsystem: "filehash",
		Name:      "files_total",
		Help:      "Files hashed, by result.",
	}, []string{"result"})
	hashBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sigscan",
		Subsystem: "filehash",
		Name:      "bytes_total",
		Help:      "Bytes read while hashing.",
	})
)
