// Package sqlite keeps a queryable index of quarantine events in a SQLite
// database.
//
// The index mirrors the text log kept by [history.File] and additionally
// tracks content digests and restores.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed" // embed the schema
	"fmt"
	"net/url"
	"runtime"
	"time"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/sqlite3"
	_ "modernc.org/sqlite" // register the sqlite driver

	"github.com/fosav/sigscan"
	"github.com/fosav/sigscan/history"
)

//go:embed schema.sql
var schema string

const table = "events"

var dialect = goqu.Dialect("sqlite3")

// Index is a handle to a history index database.
type Index struct {
	db *sql.DB
}

var _ history.Recorder = (*Index)(nil)

// Open opens or creates the index at "path".
//
// The returned Index must have its Close method called, or the process may
// panic.
func Open(ctx context.Context, path string) (*Index, error) {
	u := url.URL{
		Scheme: `file`,
		Opaque: path,
		RawQuery: url.Values{
			"_pragma": {
				"busy_timeout(5000)",
				"journal_mode(WAL)",
			},
		}.Encode(),
	}
	db, err := sql.Open(`sqlite`, u.String())
	if err != nil {
		return nil, &sigscan.Error{
			Op:      "sqlite.Open",
			Kind:    sigscan.ErrIO,
			Message: "unable to open history index",
			Inner:   err,
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, &sigscan.Error{
			Op:      "sqlite.Open",
			Kind:    sigscan.ErrIO,
			Message: "unable to initialize history index",
			Inner:   err,
		}
	}
	idx := Index{db: db}
	_, file, line, _ := runtime.Caller(1)
	runtime.SetFinalizer(&idx, func(idx *Index) {
		panic(fmt.Sprintf("%s:%d: history index not closed", file, line))
	})
	return &idx, nil
}

// Close releases held resources.
func (idx *Index) Close() error {
	runtime.SetFinalizer(idx, nil)
	return idx.db.Close()
}

// Record implements [history.Recorder].
//
// Recording a container that's already indexed replaces the previous row.
func (idx *Index) Record(ctx context.Context, e history.Entry) (err error) {
	var digest any
	if !e.Digest.IsZero() {
		digest = e.Digest.String()
	}
	del, delArgs, err := dialect.Delete(table).
		Prepared(true).
		Where(goqu.Ex{"container": e.QuarantinePath}).
		ToSQL()
	if err != nil {
		return fmt.Errorf("sqlite: building delete: %w", err)
	}
	ins, insArgs, err := dialect.Insert(table).
		Prepared(true).
		Rows(goqu.Record{
			"recorded_at":   e.Time.Unix(),
			"label":         e.Label,
			"original_path": e.OriginalPath,
			"container":     e.QuarantinePath,
			"digest":        digest,
		}).
		ToSQL()
	if err != nil {
		return fmt.Errorf("sqlite: building insert: %w", err)
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return &sigscan.Error{
			Op:      "sqlite.Index.Record",
			Kind:    sigscan.ErrIO,
			Message: "unable to begin transaction",
			Inner:   err,
		}
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, del, delArgs...); err != nil {
		return &sigscan.Error{
			Op:      "sqlite.Index.Record",
			Kind:    sigscan.ErrIO,
			Message: "unable to replace history entry",
			Inner:   err,
		}
	}
	if _, err := tx.ExecContext(ctx, ins, insArgs...); err != nil {
		return &sigscan.Error{
			Op:      "sqlite.Index.Record",
			Kind:    sigscan.ErrIO,
			Message: "unable to insert history entry",
			Inner:   err,
		}
	}
	if err := tx.Commit(); err != nil {
		return &sigscan.Error{
			Op:      "sqlite.Index.Record",
			Kind:    sigscan.ErrIO,
			Message: "unable to commit history entry",
			Inner:   err,
		}
	}
	return nil
}

// Entries returns all indexed entries, oldest first.
func (idx *Index) Entries(ctx context.Context) ([]history.Entry, error) {
	return idx.query(ctx, dialect.From(table))
}

// Pending returns the indexed entries that haven't been restored, oldest
// first.
func (idx *Index) Pending(ctx context.Context) ([]history.Entry, error) {
	return idx.query(ctx, dialect.From(table).Where(goqu.C("restored_at").IsNull()))
}

// ByContainer returns the entry for the container at "qpath". If there's no
// such entry, a [sigscan.ErrPrecondition] error is returned.
func (idx *Index) ByContainer(ctx context.Context, qpath string) (history.Entry, error) {
	es, err := idx.query(ctx, dialect.From(table).Where(goqu.Ex{"container": qpath}))
	if err != nil {
		return history.Entry{}, err
	}
	if len(es) == 0 {
		return history.Entry{}, &sigscan.Error{
			Op:      "sqlite.Index.ByContainer",
			Kind:    sigscan.ErrPrecondition,
			Message: "no history entry for container: " + qpath,
		}
	}
	return es[0], nil
}

// MarkRestored notes that the container at "qpath" was restored at "at".
func (idx *Index) MarkRestored(ctx context.Context, qpath string, at time.Time) error {
	q, args, err := dialect.Update(table).
		Prepared(true).
		Set(goqu.Record{"restored_at": at.Unix()}).
		Where(goqu.Ex{"container": qpath}).
		ToSQL()
	if err != nil {
		return fmt.Errorf("sqlite: building update: %w", err)
	}
	res, err := idx.db.ExecContext(ctx, q, args...)
	if err != nil {
		return &sigscan.Error{
			Op:      "sqlite.Index.MarkRestored",
			Kind:    sigscan.ErrIO,
			Message: "unable to update history entry",
			Inner:   err,
		}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &sigscan.Error{
			Op:      "sqlite.Index.MarkRestored",
			Kind:    sigscan.ErrPrecondition,
			Message: "no history entry for container: " + qpath,
		}
	}
	return nil
}

func (idx *Index) query(ctx context.Context, ds *goqu.SelectDataset) ([]history.Entry, error) {
	q, args, err := ds.
		Prepared(true).
		Select("recorded_at", "label", "original_path", "container", "digest").
		Order(goqu.C("id").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("sqlite: building query: %w", err)
	}
	rows, err := idx.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &sigscan.Error{
			Op:      "sqlite.Index.query",
			Kind:    sigscan.ErrIO,
			Message: "unable to query history index",
			Inner:   err,
		}
	}
	defer rows.Close()
	var out []history.Entry
	for rows.Next() {
		var e history.Entry
		var ts int64
		if err := rows.Scan(&ts, &e.Label, &e.OriginalPath, &e.QuarantinePath, &e.Digest); err != nil {
			return nil, fmt.Errorf("sqlite: scan error: %w", err)
		}
		e.Time = time.Unix(ts, 0)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: sql error: %w", err)
	}
	return out, nil
}
