package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fosav/sigscan/history"
	"github.com/fosav/sigscan/history/sqlite"
	"github.com/fosav/sigscan/quarantine"
	"github.com/fosav/sigscan/scan"
)

// CurrentWidth is how many trailing characters of the current file the
// progress line shows.
const currentWidth = 40

func (a *app) newScanCmd() *cobra.Command {
	var quick, full, quiet bool
	var db, qdir, hlog, hidx, metrics string
	cmd := &cobra.Command{
		Use:   "scan [PATH]",
		Short: "Scan a path, or the quick or full-system targets",
		Long: `Scan hashes every regular file under the target and quarantines files
whose SHA-256 digest appears in the signature database.

The target is PATH, or one of the predefined targets:
  --quick   the Downloads and Desktop directories of the current user
  --full    every user's home directory

Examples:
  sigscan scan ~/Downloads
  sigscan scan --quick --db signatures.db.zst`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			if f.Changed("db") {
				a.Config.Signatures = db
			}
			if f.Changed("quarantine-dir") {
				a.Config.QuarantineDir = qdir
			}
			if f.Changed("history") {
				a.Config.HistoryLog = hlog
			}
			if f.Changed("history-index") {
				a.Config.HistoryIndex = hidx
			}
			if f.Changed("metrics-addr") {
				a.Config.MetricsAddr = metrics
			}

			var target string
			switch {
			case quick && full, (quick || full) && len(args) != 0:
				return &exitError{Code: exitFailure, Err: errors.New("choose one of PATH, --quick, or --full")}
			case quick:
				target = scan.QuickScan
			case full:
				target = scan.FullSystem
			case len(args) == 1:
				target = args[0]
			default:
				return &exitError{Code: exitFailure, Err: errors.New("nothing to scan: give a PATH, --quick, or --full")}
			}
			t, err := scan.ParseTarget(target)
			if err != nil {
				return err
			}
			return a.runScan(cmd.Context(), t, quiet)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&quick, "quick", false, "scan the user's Downloads and Desktop")
	f.BoolVar(&full, "full", false, "scan every user's home directory")
	f.BoolVarP(&quiet, "quiet", "q", false, "don't print progress")
	f.StringVar(&db, "db", "", "signature database (default from config)")
	f.StringVar(&qdir, "quarantine-dir", "", "quarantine directory (default from config)")
	f.StringVar(&hlog, "history", "", "history log (default from config)")
	f.StringVar(&hidx, "history-index", "", "SQLite history index (default from config)")
	f.StringVar(&metrics, "metrics-addr", "", "serve Prometheus metrics on this address while scanning")
	return cmd
}

func (a *app) runScan(ctx context.Context, t scan.Target, quiet bool) error {
	cfg := &a.Config
	rec, closeRec, err := a.recorder(ctx)
	if err != nil {
		return err
	}
	defer closeRec()

	c, err := scan.New(&scan.Options{
		Signatures: cfg.Signatures,
		Vault:      quarantine.New(cfg.QuarantineDir),
		History:    rec,
		QuickRoots: cfg.QuickRoots,
	})
	if err != nil {
		return err
	}
	s := scan.NewSession()

	var final scan.Snapshot
	eg, ctx := errgroup.WithContext(ctx)
	done, err := c.Start(context.WithoutCancel(ctx), s, t)
	if err != nil {
		return err
	}
	// Signals arrive as context cancellation; turn them into a cooperative
	// stop so the final snapshot is still collected.
	eg.Go(func() error {
		select {
		case <-ctx.Done():
			s.Cancel()
			<-done
		case <-done:
		}
		final = s.Snapshot()
		return nil
	})
	if !quiet {
		eg.Go(func() error {
			poll(a.Stderr, s, done, cfg.PollInterval)
			return nil
		})
	}
	if cfg.MetricsAddr != "" {
		eg.Go(func() error {
			if err := serveMetrics(ctx, cfg.MetricsAddr, done); err != nil {
				slog.WarnContext(ctx, "metrics server failed", "reason", err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	summarize(a.Stdout, &final)
	switch final.State {
	case scan.Failed:
		return &exitError{Code: exitFailure, Err: final.Err}
	case scan.Cancelled:
		return &exitError{Code: exitCancelled}
	}
	if final.ThreatsFound > 0 {
		return &exitError{Code: exitThreats}
	}
	return nil
}

// Recorder returns the history recorder described by the configuration and
// a function to release it.
func (a *app) recorder(ctx context.Context) (history.Recorder, func(), error) {
	f := history.NewFile(a.Config.HistoryLog)
	if a.Config.HistoryIndex == "" {
		return f, func() {}, nil
	}
	idx, err := sqlite.Open(ctx, a.Config.HistoryIndex)
	if err != nil {
		return nil, nil, err
	}
	return history.Multi{f, idx}, func() {
		if err := idx.Close(); err != nil {
			slog.WarnContext(ctx, "error closing history index", "reason", err)
		}
	}, nil
}

// Poll redraws a one-line progress display until "done" is closed.
func poll(w io.Writer, s *scan.Session, done <-chan struct{}, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-done:
			fmt.Fprint(w, "\r\033[K")
			return
		case <-t.C:
		}
		snap := s.Snapshot()
		fmt.Fprintf(w, "\r\033[K%d scanned, %d threats  %s",
			snap.FilesScanned, snap.ThreatsFound, tail(snap.CurrentFile, currentWidth))
	}
}

// Tail returns the last "n" characters of "s", marked with a leading
// ellipsis if anything was cut.
func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return "..." + string(r[len(r)-n:])
}

func serveMetrics(ctx context.Context, addr string, done <-chan struct{}) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.InfoContext(ctx, "serving metrics", "addr", l.Addr().String())
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()
	if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

var (
	okColor     = color.New(color.FgGreen, color.Bold)
	threatColor = color.New(color.FgRed, color.Bold)
	warnColor   = color.New(color.FgYellow)
	dimColor    = color.New(color.Faint)
)

func summarize(w io.Writer, s *scan.Snapshot) {
	switch s.State {
	case scan.Completed:
		okColor.Fprint(w, "Scan complete")
	case scan.Cancelled:
		warnColor.Fprint(w, "Scan cancelled")
	default:
		threatColor.Fprint(w, "Scan failed")
	}
	dimColor.Fprintf(w, " (%s, %s)\n", s.Target, s.Finished.Sub(s.Started).Round(time.Millisecond))
	fmt.Fprintf(w, "  files scanned:  %d\n", s.FilesScanned)
	if s.ThreatsFound > 0 {
		threatColor.Fprintf(w, "  threats found:  %d\n", s.ThreatsFound)
		fmt.Fprintf(w, "  last threat:    %s (%s)\n", s.LastThreat, s.LastThreatPath)
	} else {
		fmt.Fprintf(w, "  threats found:  0\n")
	}
	if s.QuarantineFailures > 0 {
		warnColor.Fprintf(w, "  not quarantined: %d\n", s.QuarantineFailures)
	}
	if s.FileErrors > 0 {
		warnColor.Fprintf(w, "  unreadable:     %d\n", s.FileErrors)
	}
}
