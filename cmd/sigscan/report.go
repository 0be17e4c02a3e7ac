package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"text/template"

	"github.com/spf13/cobra"

	"github.com/fosav/sigscan/history"
	"github.com/fosav/sigscan/history/sqlite"
	"github.com/fosav/sigscan/quarantine"
)

// Note the tabs in these templates. That's for the tabwriter.
const (
	historyTmpl = `TIME	LABEL	ORIGINAL	CONTAINER
{{range .}}{{.Time.Format "2006-01-02 15:04:05"}}	{{.Label}}	{{.OriginalPath}}	{{.QuarantinePath}}
{{end}}`

	listTmpl = `QUARANTINED	LABEL	SIZE	ORIGINAL	CONTAINER
{{range .}}{{.Time.Format "2006-01-02 15:04:05"}}	{{.Label}}	{{.PayloadSize}}	{{.OriginalPath}}	{{base .Path}}
{{end}}`

	inspectTmpl = `{{define "ok"}}{{.Rec.Path}}
	version	{{.Rec.Version}}
	quarantined	{{.Rec.Time.Format "2006-01-02 15:04:05"}}
	label	{{.Rec.Label}}
	original	{{.Rec.OriginalPath}}
	size	{{.Rec.PayloadSize}}
{{end}}
{{- define "err"}}{{.Name}}
	error	{{.Err}}
{{end}}
{{- range .}}{{if .Err}}{{template "err" .}}{{else}}{{template "ok" .}}{{end}}{{end}}`
)

var funcs = template.FuncMap{
	"base": filepath.Base,
}

func render(w io.Writer, name, tmpl string, data any) error {
	t, err := template.New(name).Funcs(funcs).Parse(tmpl)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := t.Execute(tw, data); err != nil {
		return err
	}
	return tw.Flush()
}

func (a *app) newHistoryCmd() *cobra.Command {
	var pending bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the quarantine history",
		Long: `History prints every quarantine event in the history log, oldest first.

With --pending, the SQLite history index is consulted instead and only
events that haven't been restored are shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			es, err := a.historyEntries(cmd.Context(), pending)
			if err != nil {
				return err
			}
			return render(a.Stdout, "history", historyTmpl, es)
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "only show entries that haven't been restored (needs history_index)")
	return cmd
}

func (a *app) historyEntries(ctx context.Context, pending bool) ([]history.Entry, error) {
	if !pending {
		return history.NewFile(a.Config.HistoryLog).Entries(ctx)
	}
	if a.Config.HistoryIndex == "" {
		return nil, &exitError{Code: exitFailure, Err: errors.New("--pending needs a history index")}
	}
	idx, err := sqlite.Open(ctx, a.Config.HistoryIndex)
	if err != nil {
		return nil, err
	}
	defer idx.Close()
	return idx.Pending(ctx)
}

func (a *app) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List containers in the quarantine directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			recs, err := quarantine.New(a.Config.QuarantineDir).List(cmd.Context())
			if err != nil {
				return err
			}
			return render(a.Stdout, "list", listTmpl, recs)
		},
	}
}

func (a *app) newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect CONTAINER...",
		Short: "Describe quarantine containers without restoring them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			type result struct {
				Name string
				Rec  *quarantine.Record
				Err  error
			}
			res := make([]result, len(args))
			bad := 0
			for i, p := range args {
				rec, err := quarantine.Inspect(p)
				res[i] = result{Name: p, Rec: rec, Err: err}
				if err != nil {
					bad++
				}
			}
			if err := render(a.Stdout, "inspect", inspectTmpl, res); err != nil {
				return err
			}
			if bad != 0 {
				return &exitError{Code: exitCorrupt, Err: fmt.Errorf("%d of %d containers unreadable", bad, len(res))}
			}
			return nil
		},
	}
}
