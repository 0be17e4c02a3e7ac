// Sigscan is a signature-based malware scanner.
//
// It hashes every file under a target, quarantines files whose SHA-256
// digest appears in a signature database, and restores quarantined files on
// request.
//
// Exit status for "scan" is 0 when the scan completed without findings, 3
// when threats were quarantined, 2 when it was cancelled, and 1 on error.
// "restore" exits 4 for a corrupt container and 5 when the destination
// can't be written.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"

	"github.com/quay/claircore/toolkit/log"
	"github.com/spf13/cobra"

	"github.com/fosav/sigscan/config"
	"github.com/fosav/sigscan/internal/telemetry"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitCancelled   = 2
	exitThreats     = 3
	exitCorrupt     = 4
	exitDestination = 5
)

// ExitError carries a specific exit status. A nil Err means there's nothing
// to print.
type exitError struct {
	Code int
	Err  error
}

func (e *exitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *exitError) Unwrap() error { return e.Err }

// App is the state shared by all subcommands.
type app struct {
	Stdout, Stderr io.Writer

	cfgPath  string
	logLevel string
	Config   config.Config

	telemetry *telemetry.Providers
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	// The progress line and log records share stderr.
	stderr = &lockedWriter{w: stderr}
	a := &app{Stdout: stdout, Stderr: stderr}
	// Runs on every exit path; cobra skips post-run hooks once RunE fails.
	defer a.teardown(context.WithoutCancel(ctx))
	root := a.newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	var ee *exitError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ee):
		if ee.Err != nil {
			fmt.Fprintln(stderr, "sigscan:", ee.Err)
		}
		return ee.Code
	default:
		fmt.Fprintln(stderr, "sigscan:", err)
		return exitFailure
	}
}

func (a *app) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sigscan",
		Short:         "Signature-based malware scanner",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context(), cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", os.Getenv("SIGSCAN_CONFIG"), "configuration file (YAML)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, or error")

	root.AddCommand(
		a.newScanCmd(),
		a.newRestoreCmd(),
		a.newHistoryCmd(),
		a.newListCmd(),
		a.newInspectCmd(),
	)
	return root
}

// Setup loads the configuration and installs logging and telemetry.
func (a *app) setup(ctx context.Context, cmd *cobra.Command) error {
	a.Config = config.Default()
	if a.cfgPath != "" {
		cfg, err := config.Load(a.cfgPath)
		if err != nil {
			return err
		}
		a.Config = cfg
	}
	if cmd.Flags().Changed("log-level") {
		a.Config.LogLevel = a.logLevel
	}
	if err := a.Config.Validate(); err != nil {
		return err
	}
	level, _ := a.Config.Level()

	p, err := telemetry.Setup(ctx, "sigscan", version())
	if err != nil {
		return err
	}
	a.telemetry = p
	h := telemetry.Fanout(level,
		slog.NewTextHandler(a.Stderr, &slog.HandlerOptions{Level: level}),
		p.Handler,
	)
	slog.SetDefault(slog.New(log.WrapHandler(h)))
	return nil
}

// Teardown flushes and stops telemetry, if setup installed it.
func (a *app) teardown(ctx context.Context) {
	if a.telemetry == nil {
		return
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		slog.WarnContext(ctx, "error shutting down telemetry", "reason", err)
	}
	a.telemetry = nil
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "(devel)"
	}
	return info.Main.Version
}
