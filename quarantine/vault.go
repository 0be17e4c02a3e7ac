// Package quarantine moves flagged files into inert, self-describing
// containers and restores them on request.
//
// A container is a fixed [Header], the original absolute path, and the
// file's contents with every byte XORed with [Key].
package quarantine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quay/claircore/toolkit/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fosav/sigscan"
)

// MaxNameLength bounds the original base name as it appears in a
// container's file name.
const maxNameLength = 200

// Vault is a quarantine storage directory.
type Vault struct {
	dir string
	now func() time.Time
}

// Option configures a [Vault].
type Option func(*Vault)

// WithClock sets the function used to stamp new containers.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// New returns a Vault storing containers in "dir". The directory is created
// on first use.
func New(dir string, opts ...Option) *Vault {
	v := &Vault{
		dir: dir,
		now: time.Now,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Dir reports the storage directory.
func (v *Vault) Dir() string { return v.dir }

// Quarantine encodes the file at "src" into a new container labeled with
// "label", then deletes "src". It returns the container's path.
//
// If the container can't be completely written, the partial container is
// removed, "src" is left in place, and no path is returned. If the container
// is complete but "src" can't be deleted, both the container path and an
// error are returned.
func (v *Vault) Quarantine(ctx context.Context, src, label string) (_ string, err error) {
	ctx, span := tracer.Start(ctx, "Quarantine", trace.WithAttributes(
		attribute.String("quarantine.source", src),
		attribute.String("quarantine.label", label),
	))
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "quarantine failed")
		}
		quarantineCounter.WithLabelValues(result).Inc()
		span.End()
	}()
	ctx = log.With(ctx, "source", src)

	orig, err := filepath.Abs(src)
	if err != nil {
		return "", &sigscan.Error{
			Op:      "quarantine.Quarantine",
			Kind:    sigscan.ErrIO,
			Message: "unable to resolve source path",
			Inner:   err,
		}
	}
	if uint64(len(orig)) > math.MaxUint32 {
		return "", &sigscan.Error{
			Op:      "quarantine.Quarantine",
			Kind:    sigscan.ErrInvalid,
			Message: "source path too long",
		}
	}
	in, err := os.Open(orig)
	if err != nil {
		return "", &sigscan.Error{
			Op:      "quarantine.Quarantine",
			Kind:    sigscan.ErrIO,
			Message: "unable to open source",
			Inner:   err,
		}
	}
	// Closed explicitly before the source is removed; this catches early
	// returns.
	defer in.Close()

	if err := os.MkdirAll(v.dir, 0o700); err != nil {
		return "", &sigscan.Error{
			Op:      "quarantine.Quarantine",
			Kind:    sigscan.ErrIO,
			Message: "unable to create quarantine directory",
			Inner:   err,
		}
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", &sigscan.Error{
			Op:      "quarantine.Quarantine",
			Kind:    sigscan.ErrInternal,
			Message: "unable to generate container name",
			Inner:   err,
		}
	}
	name := id.String() + "_" + containerBase(orig) + Extension
	qpath := filepath.Join(v.dir, name)
	span.SetAttributes(attribute.String("quarantine.container", qpath))

	h := Header{
		Version: Version,
		Time:    v.now(),
		PathLen: uint32(len(orig)),
		Label:   label,
	}
	n, err := writeContainer(qpath, &h, orig, in)
	if err != nil {
		if rmErr := os.Remove(qpath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			slog.WarnContext(ctx, "unable to remove partial container",
				"container", qpath,
				"reason", rmErr)
		}
		return "", &sigscan.Error{
			Op:      "quarantine.Quarantine",
			Kind:    sigscan.ErrIO,
			Message: "unable to write container",
			Inner:   err,
		}
	}
	quarantineBytes.Add(float64(n))
	in.Close()

	if err := os.Remove(orig); err != nil {
		return qpath, &sigscan.Error{
			Op:      "quarantine.Quarantine",
			Kind:    sigscan.ErrIO,
			Message: "container written but source could not be removed",
			Inner:   err,
		}
	}
	slog.InfoContext(ctx, "file quarantined",
		"container", qpath,
		"label", label,
		"size", n)
	return qpath, nil
}

func writeContainer(qpath string, h *Header, orig string, payload io.Reader) (int64, error) {
	out, err := os.OpenFile(qpath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return 0, err
	}
	defer out.Close()
	b, err := h.MarshalBinary()
	if err != nil {
		return 0, err
	}
	if _, err := out.Write(b); err != nil {
		return 0, err
	}
	if _, err := io.WriteString(out, orig); err != nil {
		return 0, err
	}
	n, err := encode(out, payload)
	if err != nil {
		return n, err
	}
	if err := out.Sync(); err != nil {
		return n, err
	}
	return n, out.Close()
}

func containerBase(p string) string {
	b := filepath.Base(p)
	if len(b) > maxNameLength {
		b = strings.ToValidUTF8(b[:maxNameLength], "")
	}
	return b
}

// Restore decodes "container" and writes the original contents to
// "override", or to the recorded original path if "override" is empty. It
// returns the path written.
//
// A bare container name is resolved inside the vault directory.
//
// Use [StatusOf] to classify the returned error. Containers that fail
// validation are never modified. After a complete write the container is
// removed; failure to remove it is logged but not returned.
func (v *Vault) Restore(ctx context.Context, container, override string) (_ string, err error) {
	if filepath.Base(container) == container {
		container = filepath.Join(v.dir, container)
	}
	ctx, span := tracer.Start(ctx, "Restore", trace.WithAttributes(
		attribute.String("quarantine.container", container),
	))
	defer func() {
		status := StatusOf(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, status.String())
		}
		restoreCounter.WithLabelValues(status.String()).Inc()
		span.End()
	}()
	ctx = log.With(ctx, "container", container)

	f, rec, err := openContainer(container)
	if err != nil {
		return "", err
	}
	defer f.Close()

	dest := rec.OriginalPath
	if override != "" {
		dest = override
	}
	if dest == "" {
		return "", &sigscan.Error{
			Op:      "quarantine.Restore",
			Kind:    sigscan.ErrDestination,
			Message: "container records no original path and no destination given",
		}
	}
	span.SetAttributes(attribute.String("quarantine.destination", dest))

	// Truncating the destination must not truncate the payload being read.
	if fi, err := f.Stat(); err == nil {
		if di, err := os.Stat(dest); err == nil && os.SameFile(fi, di) {
			return "", &sigscan.Error{
				Op:      "quarantine.Restore",
				Kind:    sigscan.ErrDestination,
				Message: "destination is the container itself",
			}
		}
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", &sigscan.Error{
			Op:      "quarantine.Restore",
			Kind:    sigscan.ErrDestination,
			Message: "unable to open destination",
			Inner:   err,
		}
	}
	_, err = encode(out, f)
	if err == nil {
		err = out.Close()
	} else {
		out.Close()
	}
	if err != nil {
		if rmErr := os.Remove(dest); rmErr != nil {
			slog.WarnContext(ctx, "unable to remove partial destination",
				"destination", dest,
				"reason", rmErr)
		}
		var re *readError
		if errors.As(err, &re) {
			return "", &sigscan.Error{
				Op:      "quarantine.Restore",
				Kind:    sigscan.ErrIO,
				Message: "unable to read container payload",
				Inner:   re.err,
			}
		}
		return "", &sigscan.Error{
			Op:      "quarantine.Restore",
			Kind:    sigscan.ErrDestination,
			Message: "unable to write destination",
			Inner:   err,
		}
	}
	f.Close()

	if err := os.Remove(container); err != nil {
		slog.WarnContext(ctx, "restored, but unable to remove container", "reason", err)
	}
	slog.InfoContext(ctx, "file restored", "destination", dest)
	return dest, nil
}

// Record describes a container.
type Record struct {
	Header
	// Path is the container's own path.
	Path         string
	OriginalPath string
	// PayloadSize is the size of the encoded contents, which is the size of
	// the original file.
	PayloadSize int64
}

// Inspect reads the header and recorded path of the container at "path"
// without decoding its contents.
func Inspect(path string) (*Record, error) {
	f, rec, err := openContainer(path)
	if err != nil {
		return nil, err
	}
	f.Close()
	return rec, nil
}

// OpenContainer validates the container at "path" and returns it positioned
// at the start of the payload.
func openContainer(path string) (*os.File, *Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &sigscan.Error{
			Op:      "quarantine.openContainer",
			Kind:    sigscan.ErrCorrupt,
			Message: "unable to open container",
			Inner:   err,
		}
	}
	rec, err := readRecord(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	rec.Path = path
	return f, rec, nil
}

func readRecord(f *os.File) (*Record, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, &sigscan.Error{
			Op:      "quarantine.readRecord",
			Kind:    sigscan.ErrCorrupt,
			Message: "unable to stat container",
			Inner:   err,
		}
	}
	var rec Record
	b := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, b); err != nil {
		return nil, &sigscan.Error{
			Op:      "quarantine.readRecord",
			Kind:    sigscan.ErrCorrupt,
			Message: "short header",
			Inner:   err,
		}
	}
	if err := rec.Header.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	rem := fi.Size() - HeaderSize
	if int64(rec.PathLen) > rem {
		return nil, &sigscan.Error{
			Op:      "quarantine.readRecord",
			Kind:    sigscan.ErrCorrupt,
			Message: fmt.Sprintf("path length %d exceeds container size", rec.PathLen),
		}
	}
	p := make([]byte, rec.PathLen)
	if _, err := io.ReadFull(f, p); err != nil {
		return nil, &sigscan.Error{
			Op:      "quarantine.readRecord",
			Kind:    sigscan.ErrCorrupt,
			Message: "short path",
			Inner:   err,
		}
	}
	rec.OriginalPath = string(p)
	rec.PayloadSize = rem - int64(rec.PathLen)
	return &rec, nil
}

// List returns a Record for every container in the vault directory, oldest
// first. Files that fail validation are logged and skipped. A missing
// directory is an empty vault.
func (v *Vault) List(ctx context.Context) ([]Record, error) {
	ents, err := os.ReadDir(v.dir)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	default:
		return nil, &sigscan.Error{
			Op:      "quarantine.List",
			Kind:    sigscan.ErrIO,
			Message: "unable to read quarantine directory",
			Inner:   err,
		}
	}
	var out []Record
	for _, e := range ents {
		if !e.Type().IsRegular() || filepath.Ext(e.Name()) != Extension {
			continue
		}
		p := filepath.Join(v.dir, e.Name())
		rec, err := Inspect(p)
		if err != nil {
			slog.WarnContext(ctx, "skipping unreadable container",
				"container", p,
				"reason", err)
			continue
		}
		out = append(out, *rec)
	}
	slices.SortStableFunc(out, func(a, b Record) int {
		if c := a.Time.Compare(b.Time); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
	return out, nil
}
