// Package sigdb loads databases of known-bad content digests and answers
// membership queries against them.
//
// The database format is line-oriented text. Blank lines and lines starting
// with "#" are ignored. Every other line starts with exactly 64 hex
// characters encoding a SHA-256 digest, optionally followed by whitespace and
// a label:
//
//	# known bad
//	e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855
//	275a021bbfb6489e54d471899f7db9d1663fc695ec2fe2a2c4538aabf651fd0f EICAR-Test-File
//
// Lines that don't fit this format are skipped.
package sigdb

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fosav/sigscan"
)

// DefaultLabel is used for entries without a label of their own.
const DefaultLabel = "MalwareBazaar_Threat"

// Entry is a single known-bad digest.
type Entry struct {
	Digest sigscan.Digest
	Label  string
}

// Database is an ordered, read-only set of [Entry] values.
//
// A Database is safe for concurrent use once loaded.
type Database struct {
	entries []Entry
	// First maps a digest to the index of its first occurrence in entries.
	first   map[sigscan.Digest]int
	skipped int
}

// Load reads a database from "r".
//
// Malformed lines are skipped. Any read error fails the whole load with a
// [sigscan.ErrLoad] error; no partial database is returned.
func Load(ctx context.Context, r io.Reader) (*Database, error) {
	db := &Database{
		first: make(map[sigscan.Digest]int),
	}
	br := bufio.NewReader(r)
	lineNo := 0
	for {
		line, err := br.ReadString('\n')
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			if line == "" {
				return db.finish(ctx), nil
			}
		default:
			return nil, &sigscan.Error{
				Op:      "sigdb.Load",
				Kind:    sigscan.ErrLoad,
				Message: "read error",
				Inner:   err,
			}
		}
		lineNo++
		db.parseLine(ctx, lineNo, line)
		if errors.Is(err, io.EOF) {
			return db.finish(ctx), nil
		}
	}
}

func (db *Database) parseLine(ctx context.Context, n int, line string) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' {
		return
	}
	field, label := line, ""
	if i := strings.IndexAny(line, " \t"); i != -1 {
		field, label = line[:i], strings.TrimSpace(line[i:])
	}
	d, err := sigscan.DigestFromHex(field)
	if err != nil {
		db.skipped++
		slog.DebugContext(ctx, "skipping malformed signature line", "line", n, "reason", err)
		return
	}
	if label == "" {
		label = DefaultLabel
	}
	if _, ok := db.first[d]; !ok {
		db.first[d] = len(db.entries)
	}
	db.entries = append(db.entries, Entry{Digest: d, Label: label})
}

func (db *Database) finish(ctx context.Context) *Database {
	entriesLoaded.Set(float64(len(db.entries)))
	linesSkipped.Add(float64(db.skipped))
	slog.DebugContext(ctx, "signature database loaded",
		"entries", len(db.entries),
		"skipped", db.skipped)
	return db
}

// Open loads the database stored at "path".
//
// Files compressed with gzip, zstd, or xz are decompressed transparently.
// Failure to open or read the file is a [sigscan.ErrLoad] error.
func Open(ctx context.Context, path string) (_ *Database, err error) {
	ctx, span := tracer.Start(ctx, "Open",
		trace.WithAttributes(attribute.String("sigdb.path", path)))
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "load failed")
		}
		loadCounter.WithLabelValues(result).Inc()
		span.End()
	}()

	f, err := os.Open(path)
	if err != nil {
		return nil, &sigscan.Error{
			Op:      "sigdb.Open",
			Kind:    sigscan.ErrLoad,
			Message: "unable to open signature database",
			Inner:   err,
		}
	}
	defer f.Close()

	r, c, done, err := decompress(f)
	if err != nil {
		return nil, &sigscan.Error{
			Op:      "sigdb.Open",
			Kind:    sigscan.ErrLoad,
			Message: "unable to decompress signature database",
			Inner:   err,
		}
	}
	defer done()
	span.SetAttributes(attribute.String("sigdb.compression", c.String()))

	db, err := Load(ctx, r)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("sigdb.entries", db.Len()))
	return db, nil
}

// Lookup reports the label of the first entry whose digest equals "d".
func (db *Database) Lookup(d sigscan.Digest) (string, bool) {
	i, ok := db.first[d]
	if !ok {
		return "", false
	}
	return db.entries[i].Label, true
}

// Len reports the number of entries, including duplicates.
func (db *Database) Len() int { return len(db.entries) }

// Skipped reports the number of malformed lines ignored while loading.
func (db *Database) Skipped() int { return db.skipped }

// Entries returns the entries in file order. The returned slice must not be
// modified.
func (db *Database) Entries() []Entry { return db.entries }
