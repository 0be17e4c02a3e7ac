// Package scan runs signature scans.
//
// A [Controller] walks the requested roots, hashes every regular file, and
// quarantines files whose digest appears in the signature database.
// Progress is published through a [Session], which callers poll with
// [Session.Snapshot] and stop with [Session.Cancel].
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/quay/claircore/toolkit/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/fosav/sigscan"
	"github.com/fosav/sigscan/filehash"
	"github.com/fosav/sigscan/history"
	"github.com/fosav/sigscan/sigdb"
	"github.com/fosav/sigscan/walk"
)

// Quarantiner moves a flagged file out of the way.
//
// See [quarantine.Vault.Quarantine] for the expected semantics: on error, a
// non-empty path means the container is complete but the source remains.
type Quarantiner interface {
	Quarantine(ctx context.Context, path, label string) (string, error)
}

// Options configures a Controller.
type Options struct {
	// Signatures is the path of the signature database. It's loaded at the
	// start of every scan.
	Signatures string
	// Vault receives detected files. Required.
	Vault Quarantiner
	// History, if set, records every quarantined file.
	History history.Recorder
	// QuickRoots overrides the directories covered by a quick scan.
	QuickRoots []string
	// FullRoot overrides the directory covered by a full scan.
	FullRoot string
	// Lister overrides directory enumeration.
	Lister walk.Lister
	// ProgressInterval is the minimum time between progress log lines. The
	// default is 5 seconds.
	ProgressInterval time.Duration
	// Clock overrides time.Now.
	Clock func() time.Time
}

// Controller runs scans. A Controller may run scans for several Sessions at
// once, but each Session runs at most one scan at a time.
type Controller struct {
	opts Options
}

// New constructs a Controller.
func New(opts *Options) (*Controller, error) {
	switch {
	case opts == nil:
		return nil, &sigscan.Error{Op: "scan.New", Kind: sigscan.ErrInvalid, Message: "nil options"}
	case opts.Signatures == "":
		return nil, &sigscan.Error{Op: "scan.New", Kind: sigscan.ErrInvalid, Message: "no signature database"}
	case opts.Vault == nil:
		return nil, &sigscan.Error{Op: "scan.New", Kind: sigscan.ErrInvalid, Message: "no quarantine vault"}
	}
	c := Controller{opts: *opts}
	if c.opts.Lister == nil {
		c.opts.Lister = walk.OS{}
	}
	if c.opts.ProgressInterval == 0 {
		c.opts.ProgressInterval = 5 * time.Second
	}
	if c.opts.Clock == nil {
		c.opts.Clock = time.Now
	}
	if c.opts.FullRoot == "" {
		c.opts.FullRoot = fullSystemRoot()
	}
	return &c, nil
}

// Start begins a scan of "t" in a new goroutine and returns a channel that's
// closed when the scan ends. The outcome is reported in the Session.
//
// Starting a Session that's already running is a [sigscan.ErrConflict]
// error. A Session in a terminal state is reset first.
func (c *Controller) Start(ctx context.Context, s *Session, t Target) (<-chan struct{}, error) {
	e, err := c.newExec(ctx, s, t)
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.run(ctx, e)
	}()
	return done, nil
}

// Run is the synchronous form of [Controller.Start]. It returns the final
// snapshot, along with the scan's error if it Failed.
func (c *Controller) Run(ctx context.Context, s *Session, t Target) (Snapshot, error) {
	e, err := c.newExec(ctx, s, t)
	if err != nil {
		return s.Snapshot(), err
	}
	snap := c.run(ctx, e)
	return snap, snap.Err
}

func (c *Controller) newExec(ctx context.Context, s *Session, t Target) (*exec, error) {
	if _, err := s.begin(t, c.opts.Clock()); err != nil {
		return nil, err
	}
	return &exec{
		Session:  s,
		Target:   t,
		State:    loadSignatures,
		progress: rate.Sometimes{Interval: c.opts.ProgressInterval},
	}, nil
}

func (c *Controller) run(ctx context.Context, e *exec) Snapshot {
	ctx = log.With(ctx,
		"scan", e.Session.Snapshot().ID.String(),
		"target", e.Target.String())
	ctx, span := tracer.Start(ctx, "Scan", trace.WithAttributes(
		attribute.String("scan.target", e.Target.String()),
		attribute.String("scan.mode", e.Target.Mode.String()),
	))
	defer span.End()
	if err := metricInit(); err != nil {
		slog.WarnContext(ctx, "unable to initialize metrics", "reason", err)
	}
	slog.InfoContext(ctx, "scan starting")
	start := time.Now()

	var err error
	for !e.IsTerminal() {
		name := e.State.String()
		ctx := log.With(ctx, "step", name)
		stepCall.Add(ctx, 1, metric.WithAttributes(stepAttr(name)))
		e.State, err = e.State(ctx, c, e)
		if err != nil {
			slog.DebugContext(ctx, "step failed", "reason", err)
			break
		}
	}

	final := Completed
	switch {
	case err == nil:
	case errors.Is(err, sigscan.ErrCancelled):
		final = Cancelled
		err = nil
	default:
		final = Failed
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
	}
	snap := e.Session.finish(final, err, c.opts.Clock())
	scanCounter.WithLabelValues(final.String()).Inc()
	scanDuration.WithLabelValues(final.String()).Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String("scan.state", final.String()),
		attribute.Int("scan.files", snap.FilesScanned),
		attribute.Int("scan.threats", snap.ThreatsFound),
	)
	slog.InfoContext(ctx, "scan finished",
		"state", final.String(),
		"files", snap.FilesScanned,
		"threats", snap.ThreatsFound,
		"file_errors", snap.FileErrors,
		"quarantine_failures", snap.QuarantineFailures,
		"reason", snap.Err)
	return snap
}

// StateFn is a step of a scan. A nil stateFn is terminal.
type stateFn func(context.Context, *Controller, *exec) (stateFn, error)

func (f stateFn) String() (n string) {
	if f == nil {
		return "<Terminal>"
	}
	n = runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()
	_, n, _ = strings.Cut(n, "scan.")
	return n
}

type exec struct {
	Session *Session
	Target  Target
	State   stateFn

	DB    *sigdb.Database
	Roots []string

	progress rate.Sometimes
}

func (e *exec) IsTerminal() bool {
	return e.State == nil
}

// Stopped reports whether cancellation was requested by either mechanism.
func (e *exec) Stopped(ctx context.Context) bool {
	return ctx.Err() != nil || e.Session.stopRequested()
}

var errCancelled = &sigscan.Error{
	Op:      "scan.Controller",
	Kind:    sigscan.ErrCancelled,
	Message: "scan cancelled",
}

func loadSignatures(ctx context.Context, c *Controller, e *exec) (stateFn, error) {
	db, err := sigdb.Open(ctx, c.opts.Signatures)
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "signatures loaded",
		"entries", db.Len(),
		"skipped", db.Skipped())
	e.DB = db
	return resolveRoots, nil
}

func resolveRoots(ctx context.Context, c *Controller, e *exec) (stateFn, error) {
	switch e.Target.Mode {
	case ModePath:
		if e.Target.Path == "" {
			return nil, &sigscan.Error{
				Op:      "scan.resolveRoots",
				Kind:    sigscan.ErrInvalid,
				Message: "empty target path",
			}
		}
		e.Roots = []string{e.Target.Path}
	case ModeQuick:
		e.Roots = c.opts.QuickRoots
		if len(e.Roots) == 0 {
			rs, err := DefaultQuickRoots()
			if err != nil {
				return nil, err
			}
			e.Roots = rs
		}
	case ModeFull:
		e.Roots = []string{c.opts.FullRoot}
	default:
		return nil, &sigscan.Error{
			Op:      "scan.resolveRoots",
			Kind:    sigscan.ErrInvalid,
			Message: fmt.Sprintf("unknown mode: %v", e.Target.Mode),
		}
	}
	slog.DebugContext(ctx, "resolved roots", "roots", e.Roots)
	return scanRoots, nil
}

func scanRoots(ctx context.Context, c *Controller, e *exec) (stateFn, error) {
	for _, root := range e.Roots {
		if e.Stopped(ctx) {
			return nil, errCancelled
		}
		w := walk.New(root,
			walk.WithLister(c.opts.Lister),
			walk.WithStop(e.Session.stopRequested))
		for p := range w.Files(ctx) {
			if e.Stopped(ctx) {
				return nil, errCancelled
			}
			c.scanFile(ctx, e, p)
		}
		err := w.Err()
		switch {
		case err == nil:
		case errors.Is(err, sigscan.ErrCancelled):
			return nil, errCancelled
		default:
			return nil, err
		}
		res := w.Result()
		slog.DebugContext(ctx, "root done",
			"root", root,
			"found", res.Found,
			"skipped", res.Skipped)
	}
	return nil, nil
}

// ScanFile handles one file. Problems with individual files are counted and
// logged; they never end the scan.
func (c *Controller) scanFile(ctx context.Context, e *exec, p string) {
	var snap Snapshot
	e.Session.update(func(s *Snapshot) {
		s.CurrentFile = p
		s.FilesScanned++
		snap = *s
	})
	e.progress.Do(func() {
		slog.InfoContext(ctx, "scan progress",
			"files", snap.FilesScanned,
			"threats", snap.ThreatsFound,
			"current", p)
	})

	d, err := filehash.File(ctx, p)
	if err != nil {
		e.Session.update(func(s *Snapshot) { s.FileErrors++ })
		fileCounter.WithLabelValues("error").Inc()
		slog.DebugContext(ctx, "unable to hash file", "path", p, "reason", err)
		return
	}
	label, ok := e.DB.Lookup(d)
	if !ok {
		fileCounter.WithLabelValues("clean").Inc()
		return
	}
	fileCounter.WithLabelValues("threat").Inc()
	ctx = log.With(ctx, "path", p, "label", label)
	slog.WarnContext(ctx, "threat detected", "digest", d.String())

	qpath, err := c.opts.Vault.Quarantine(ctx, p, label)
	if err != nil {
		e.Session.update(func(s *Snapshot) { s.QuarantineFailures++ })
		slog.ErrorContext(ctx, "unable to quarantine file",
			"container", qpath,
			"reason", err)
	} else {
		e.Session.update(func(s *Snapshot) {
			s.ThreatsFound++
			s.LastThreat = label
			s.LastThreatPath = p
		})
	}
	if qpath == "" || c.opts.History == nil {
		return
	}
	ent := history.Entry{
		Time:           c.opts.Clock(),
		Label:          label,
		OriginalPath:   p,
		QuarantinePath: qpath,
		Digest:         d,
	}
	if err := c.opts.History.Record(ctx, ent); err != nil {
		slog.WarnContext(ctx, "unable to record history",
			"container", qpath,
			"reason", err)
	}
}
