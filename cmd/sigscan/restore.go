package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fosav/sigscan"
	"github.com/fosav/sigscan/history"
	"github.com/fosav/sigscan/history/sqlite"
	"github.com/fosav/sigscan/quarantine"
)

func (a *app) newRestoreCmd() *cobra.Command {
	var to string
	var fromHistory bool
	cmd := &cobra.Command{
		Use:   "restore CONTAINER",
		Short: "Restore a quarantined file",
		Long: `Restore decodes a quarantine container and writes the original file back.

By default the file is written to the path recorded in the container. Use
--to to write it elsewhere, or --from-history to use the original path
recorded in the history log. A bare container name is looked up in the
quarantine directory.

The container is removed once the file has been written. A container that
fails validation is left untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if to != "" && fromHistory {
				return &exitError{Code: exitFailure, Err: errors.New("--to and --from-history are exclusive")}
			}
			return a.runRestore(cmd.Context(), args[0], to, fromHistory)
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "write the restored file here")
	cmd.Flags().BoolVar(&fromHistory, "from-history", false, "restore to the original path from the history log")
	return cmd
}

func (a *app) runRestore(ctx context.Context, container, to string, fromHistory bool) error {
	v := quarantine.New(a.Config.QuarantineDir)
	if fromHistory {
		e, err := history.NewFile(a.Config.HistoryLog).ByContainer(ctx, container)
		if err != nil {
			return err
		}
		to = e.OriginalPath
		container = e.QuarantinePath
	}
	if filepath.Base(container) == container {
		container = filepath.Join(v.Dir(), container)
	}

	dest, err := v.Restore(ctx, container, to)
	switch quarantine.StatusOf(err) {
	case quarantine.Success:
	case quarantine.CorruptContainer:
		return &exitError{Code: exitCorrupt, Err: err}
	case quarantine.DestinationError:
		return &exitError{Code: exitDestination, Err: err}
	default:
		return err
	}
	okColor.Fprint(a.Stdout, "Restored")
	fmt.Fprintf(a.Stdout, " %s\n", dest)

	if a.Config.HistoryIndex != "" {
		a.markRestored(ctx, container)
	}
	return nil
}

func (a *app) markRestored(ctx context.Context, container string) {
	idx, err := sqlite.Open(ctx, a.Config.HistoryIndex)
	if err != nil {
		slog.WarnContext(ctx, "unable to open history index", "reason", err)
		return
	}
	defer idx.Close()
	err = idx.MarkRestored(ctx, container, time.Now())
	switch {
	case err == nil:
	case errors.Is(err, sigscan.ErrPrecondition):
		slog.DebugContext(ctx, "container not in history index", "container", container)
	default:
		slog.WarnContext(ctx, "unable to update history index", "reason", err)
	}
}
