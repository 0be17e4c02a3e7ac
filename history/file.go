package history

import (
	"bufio"
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fosav/sigscan"
)

// File is a [Recorder] appending to a text log.
type File struct {
	mu   sync.Mutex
	path string
}

var _ Recorder = (*File)(nil)

// NewFile returns a File using the log at "path". The file is created on
// first write.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path reports the log's path.
func (f *File) Path() string { return f.path }

// Record appends "e" to the log as a single write.
func (f *File) Record(ctx context.Context, e Entry) error {
	b, err := e.MarshalText()
	if err != nil {
		return err
	}
	b = append(b, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()
	out, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return &sigscan.Error{
			Op:      "history.File.Record",
			Kind:    sigscan.ErrIO,
			Message: "unable to open history log",
			Inner:   err,
		}
	}
	_, err = out.Write(b)
	if cErr := out.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		return &sigscan.Error{
			Op:      "history.File.Record",
			Kind:    sigscan.ErrIO,
			Message: "unable to write history log",
			Inner:   err,
		}
	}
	slog.DebugContext(ctx, "recorded history entry",
		"log", f.path,
		"container", e.QuarantinePath)
	return nil
}

// Entries reads every well-formed entry in the log, oldest first. A missing
// log has no entries.
func (f *File) Entries(ctx context.Context) ([]Entry, error) {
	in, err := os.Open(f.path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	default:
		return nil, &sigscan.Error{
			Op:      "history.File.Entries",
			Kind:    sigscan.ErrIO,
			Message: "unable to open history log",
			Inner:   err,
		}
	}
	defer in.Close()
	var out []Entry
	for e, err := range Parse(ctx, in) {
		if err != nil {
			return nil, &sigscan.Error{
				Op:      "history.File.Entries",
				Kind:    sigscan.ErrIO,
				Message: "unable to read history log",
				Inner:   err,
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// ByContainer returns the most recent entry for the container at "qpath".
//
// A bare container name matches entries by base name. If there's no entry,
// a [sigscan.ErrPrecondition] error is returned.
func (f *File) ByContainer(ctx context.Context, qpath string) (Entry, error) {
	es, err := f.Entries(ctx)
	if err != nil {
		return Entry{}, err
	}
	bare := filepath.Base(qpath) == qpath
	for i := len(es) - 1; i >= 0; i-- {
		p := es[i].QuarantinePath
		if p == qpath || (bare && filepath.Base(p) == qpath) {
			return es[i], nil
		}
	}
	return Entry{}, &sigscan.Error{
		Op:      "history.File.ByContainer",
		Kind:    sigscan.ErrPrecondition,
		Message: "no history entry for container: " + qpath,
	}
}

// Parse returns a sequence of the well-formed entries in "r". Malformed lines
// are logged and skipped. A read error is yielded once and ends the
// sequence.
func Parse(ctx context.Context, r io.Reader) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		s := bufio.NewScanner(r)
		s.Buffer(nil, 1<<20)
		n := 0
		for s.Scan() {
			n++
			if len(s.Bytes()) == 0 {
				continue
			}
			var e Entry
			if err := e.UnmarshalText(s.Bytes()); err != nil {
				slog.DebugContext(ctx, "skipping malformed history line", "line", n, "reason", err)
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield(Entry{}, err)
		}
	}
}
