// Package history records quarantine events.
//
// The canonical record is an append-only text log with one event per line:
//
//	2024-03-01 12:30:00|EICAR-Test-File|/home/u/Downloads/eicar.com|Quarantine/0190a3f2-6c1e-7b4d-9a52-3f1e2d4c5b6a_eicar.com.vir
//
// The fields are the local time, the threat label, the original path, and
// the container path. The format has no escaping, so fields containing the
// separator or a line break can't be recorded.
package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fosav/sigscan"
)

// TimeFormat is the layout of the log's time field.
const TimeFormat = "2006-01-02 15:04:05"

// Separator separates fields within a line.
const Separator = "|"

// Entry is a single quarantine event.
type Entry struct {
	Time           time.Time
	Label          string
	OriginalPath   string
	QuarantinePath string
	// Digest is the content digest of the quarantined file. It's not part
	// of the text log and is zero for entries read back from one.
	Digest sigscan.Digest
}

// Recorder is the interface for persisting quarantine events.
type Recorder interface {
	Record(context.Context, Entry) error
}

// MarshalText implements [encoding.TextMarshaler]. The result doesn't include
// a trailing newline.
func (e *Entry) MarshalText() ([]byte, error) {
	for _, f := range []struct {
		name, v string
	}{
		{"label", e.Label},
		{"original path", e.OriginalPath},
		{"quarantine path", e.QuarantinePath},
	} {
		if strings.ContainsAny(f.v, Separator+"\r\n") {
			return nil, &sigscan.Error{
				Op:      "history.Entry.MarshalText",
				Kind:    sigscan.ErrInvalid,
				Message: fmt.Sprintf("%s contains a separator or line break: %q", f.name, f.v),
			}
		}
	}
	var b bytes.Buffer
	b.WriteString(e.Time.Local().Format(TimeFormat))
	for _, f := range []string{e.Label, e.OriginalPath, e.QuarantinePath} {
		b.WriteString(Separator)
		b.WriteString(f)
	}
	return b.Bytes(), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
//
// A line must have exactly four fields and a valid local time.
func (e *Entry) UnmarshalText(b []byte) error {
	fs := strings.Split(strings.TrimRight(string(b), "\r\n"), Separator)
	if len(fs) != 4 {
		return &sigscan.Error{
			Op:      "history.Entry.UnmarshalText",
			Kind:    sigscan.ErrInvalid,
			Message: fmt.Sprintf("want 4 fields, got %d", len(fs)),
		}
	}
	ts, err := time.ParseInLocation(TimeFormat, fs[0], time.Local)
	if err != nil {
		return &sigscan.Error{
			Op:      "history.Entry.UnmarshalText",
			Kind:    sigscan.ErrInvalid,
			Message: "bad time field",
			Inner:   err,
		}
	}
	*e = Entry{
		Time:           ts,
		Label:          fs[1],
		OriginalPath:   fs[2],
		QuarantinePath: fs[3],
	}
	return nil
}

// Multi is a Recorder that records to every member.
//
// All members are attempted; the errors are joined.
type Multi []Recorder

// Record implements [Recorder].
func (m Multi) Record(ctx context.Context, e Entry) error {
	errs := make([]error, 0, len(m))
	for _, r := range m {
		errs = append(errs, r.Record(ctx, e))
	}
	return errors.Join(errs...)
}
