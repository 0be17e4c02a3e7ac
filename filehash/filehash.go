// Package filehash computes SHA-256 content digests of files.
package filehash

import (
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fosav/sigscan"
)

// ChunkSize is the read size used when streaming file contents.
//
// It has no effect on the resulting digest.
const ChunkSize = 64 * 1024

// File returns the SHA-256 digest of the named file's contents.
//
// Failing to open the file or a read error partway through is reported as a
// [sigscan.ErrIO] error. The Context is only used for logging; a hash that
// has started always runs to completion.
func File(ctx context.Context, path string) (sigscan.Digest, error) {
	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
		hashDuration.Observe(v)
	}))
	defer timer.ObserveDuration()

	f, err := os.Open(path)
	if err != nil {
		hashCounter.WithLabelValues("open_error").Inc()
		slog.DebugContext(ctx, "unable to open file for hashing", "path", path, "reason", err)
		return sigscan.Digest{}, &sigscan.Error{
			Op:      "filehash.File",
			Kind:    sigscan.ErrIO,
			Message: "unable to open file",
			Inner:   err,
		}
	}
	defer f.Close()

	d, n, err := sum(f)
	if err != nil {
		hashCounter.WithLabelValues("read_error").Inc()
		slog.DebugContext(ctx, "read error while hashing", "path", path, "offset", n, "reason", err)
		return sigscan.Digest{}, &sigscan.Error{
			Op:      "filehash.File",
			Kind:    sigscan.ErrIO,
			Message: "read error",
			Inner:   err,
		}
	}
	hashCounter.WithLabelValues("ok").Inc()
	hashBytes.Add(float64(n))
	return d, nil
}

// Reader returns the SHA-256 digest of everything read from "r" until EOF.
func Reader(r io.Reader) (sigscan.Digest, error) {
	d, _, err := sum(r)
	return d, err
}

func sum(r io.Reader) (d sigscan.Digest, n int64, err error) {
	h := sha256.New()
	buf := make([]byte, ChunkSize)
	for {
		c, err := r.Read(buf)
		if c > 0 {
			h.Write(buf[:c])
			n += int64(c)
		}
		switch {
		case errors.Is(err, nil):
		case errors.Is(err, io.EOF):
			h.Sum(d[:0])
			return d, n, nil
		default:
			return sigscan.Digest{}, n, err
		}
	}
}
