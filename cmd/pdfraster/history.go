// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pdiddy/pdfraster/internal/history"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded pdfraster runs",
		Long: `Lists the most recent runs recorded in the history database, newest
first. Use "history show <id>" for per-document outcomes and "history export"
to dump runs as YAML or JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *history.Store) error {
				runs, err := s.Runs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintln(a.out, "No runs recorded.")
					return nil
				}

				rows := make([][]string, len(runs))
				for i, r := range runs {
					rows[i] = []string{
						r.ID,
						string(r.Mode),
						r.StartedAt.Local().Format("2006-01-02 15:04:05"),
						fmt.Sprintf("%.2fs", r.Elapsed.Seconds()),
						strconv.Itoa(r.Documents),
						strconv.Itoa(r.Succeeded),
						strconv.Itoa(r.Skipped),
						strconv.Itoa(r.Failed),
						r.ParentDir,
					}
				}
				fmt.Fprintln(a.out, renderTable(
					[]string{"ID", "Mode", "Started", "Elapsed", "Docs", "OK", "Skipped", "Failed", "Parent"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")

	cmd.AddCommand(newHistoryShowCmd(a))
	cmd.AddCommand(newHistoryExportCmd(a))
	return cmd
}

func newHistoryShowCmd(a *app) *cobra.Command {
	var failedOnly bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the per-document outcomes of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *history.Store) error {
				run, err := s.Run(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				outcomes, err := s.Outcomes(cmd.Context(), run.ID, failedOnly)
				if err != nil {
					return err
				}

				fmt.Fprintf(a.out, "Run %s (%s) on %s\n", run.ID, run.Mode, run.ParentDir)
				fmt.Fprintf(a.out, "Started %s (%s), %d documents at %d DPI with %d workers\n",
					run.StartedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(run.StartedAt),
					run.Documents, run.DPI, run.Workers)
				if run.ErrorLog != "" {
					fmt.Fprintf(a.out, "Error log: %s\n", run.ErrorLog)
				}

				rows := make([][]string, len(outcomes))
				for i, o := range outcomes {
					pages := ""
					if o.Pages > 0 {
						pages = strconv.Itoa(o.Pages)
					}
					rows[i] = []string{string(o.Status), o.Path, pages, o.Reason}
				}
				fmt.Fprintln(a.out, renderTable(
					[]string{"Status", "Document", "Pages", "Reason"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "only list failed documents")
	return cmd
}

func newHistoryExportCmd(a *app) *cobra.Command {
	var (
		format     string
		limit      int
		failedOnly bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export recorded runs with their outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *history.Store) error {
				return s.Export(cmd.Context(), a.out, format, limit, failedOnly)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format: yaml or json")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to export")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "only include failed documents")
	return cmd
}

// withStore opens the configured history database for the duration of fn.
func (a *app) withStore(fn func(*history.Store) error) error {
	path := a.v.GetString("history_path")
	if path == "" {
		path = "pdfraster.db"
	}
	s, err := history.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}
