// Package walk enumerates regular files under a root path.
//
// A walk is resilient: directories that cannot be listed are skipped and
// never end the walk. The only ways a walk ends early are cancellation and
// the consumer ending iteration.
package walk

import (
	"context"
	"iter"
	"log/slog"
	"path/filepath"

	"github.com/fosav/sigscan"
)

// ErrAborted is reported by [Walk.Err] when a walk observed cancellation.
//
// It matches [sigscan.ErrCancelled] with [errors.Is].
var ErrAborted = &sigscan.Error{
	Op:      "walk",
	Kind:    sigscan.ErrCancelled,
	Message: "walk aborted",
}

// Result summarizes a finished (or aborted) walk.
type Result struct {
	// Found is the number of files yielded.
	Found int
	// Skipped is the number of directories that could not be listed.
	Skipped int
	// Aborted is set if the walk stopped because of cancellation.
	Aborted bool
}

// Walk is a restartable walk over a root path.
//
// A Walk is not safe for concurrent use.
type Walk struct {
	root   string
	lister Lister
	stop   func() bool

	res Result
	err error
}

// Option configures a [Walk].
type Option func(*Walk)

// WithLister sets the [Lister] used to enumerate directories. The default is
// [OS].
func WithLister(l Lister) Option {
	return func(w *Walk) { w.lister = l }
}

// WithStop sets a predicate consulted at every directory entered. When it
// reports true, the walk stops.
func WithStop(f func() bool) Option {
	return func(w *Walk) { w.stop = f }
}

// New returns a Walk over "root".
func New(root string, opts ...Option) *Walk {
	w := &Walk{
		root:   root,
		lister: OS{},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Files returns a lazy sequence of absolute paths of the regular files under
// the root.
//
// If the root is a regular file, only that path is produced. A root that
// does not exist or cannot be read produces nothing. Order among siblings is
// whatever the [Lister] reports.
//
// Every iteration of the returned sequence is a fresh walk and resets the
// values reported by [Walk.Result] and [Walk.Err].
func (w *Walk) Files(ctx context.Context) iter.Seq[string] {
	return func(yield func(string) bool) {
		w.res, w.err = Result{}, nil
		if w.root == "" {
			w.err = &sigscan.Error{
				Op:      "walk.Files",
				Kind:    sigscan.ErrInvalid,
				Message: "empty root",
			}
			return
		}
		root, err := filepath.Abs(w.root)
		if err != nil {
			w.err = &sigscan.Error{
				Op:      "walk.Files",
				Kind:    sigscan.ErrInvalid,
				Message: "unable to resolve root",
				Inner:   err,
			}
			return
		}
		if w.stopped(ctx) {
			return
		}
		e, err := w.lister.Stat(root)
		switch {
		case err != nil:
			slog.DebugContext(ctx, "unable to stat root", "root", root, "reason", err)
			w.res.Skipped++
		case e.Regular:
			w.res.Found++
			yield(root)
		case e.Dir:
			w.dir(ctx, root, yield)
		default:
			slog.DebugContext(ctx, "root is not a file or directory", "root", root)
		}
	}
}

// Dir walks one directory. It reports false if iteration should end.
func (w *Walk) dir(ctx context.Context, dir string, yield func(string) bool) bool {
	if w.stopped(ctx) {
		return false
	}
	for e, err := range w.lister.List(dir) {
		if err != nil {
			slog.DebugContext(ctx, "skipping unreadable directory", "dir", dir, "reason", err)
			w.res.Skipped++
			return true
		}
		if e.Name == "." || e.Name == ".." || e.Name == "" {
			continue
		}
		p := filepath.Join(dir, e.Name)
		switch {
		case e.Dir:
			if !w.dir(ctx, p, yield) {
				return false
			}
		case e.Regular:
			w.res.Found++
			if !yield(p) {
				return false
			}
		}
	}
	return true
}

func (w *Walk) stopped(ctx context.Context) bool {
	if ctx.Err() == nil && (w.stop == nil || !w.stop()) {
		return false
	}
	w.res.Aborted = true
	w.err = ErrAborted
	return true
}

// Result reports the outcome of the most recent iteration.
func (w *Walk) Result() Result { return w.res }

// Err reports why the most recent iteration ended early, if it did.
//
// It is [ErrAborted] after cancellation, an [sigscan.ErrInvalid] error for an
// unusable root, and nil otherwise (including when the consumer stopped
// iterating).
func (w *Walk) Err() error { return w.err }
