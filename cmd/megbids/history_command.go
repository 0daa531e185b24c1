package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Moo-Marc/CtfMegBids/internal/journal"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
)

var errJournalDisabled = errors.New("run journal is disabled (journal.enabled = false)")

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recent runs, or the steps of one run",
		Args:  rangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := journal.Open(cfg)
			if err != nil {
				return ops.Wrap(ops.ErrIO, "history", "open journal", cfg.Journal.Path, err)
			}
			if store == nil {
				return ops.Wrap(ops.ErrUsage, "history", "open journal", "", errJournalDisabled)
			}
			defer store.Close()

			if len(args) == 1 {
				return showRun(cmd, ctx, store, args[0])
			}
			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return ops.Wrap(ops.ErrIO, "history", "list runs", "", err)
			}
			if ctx.flags.json {
				if runs == nil {
					runs = []journal.Run{}
				}
				return writeJSON(cmd, runs)
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					run.ID,
					run.Operation,
					string(run.Status),
					yesNo(run.DryRun),
					strconv.Itoa(run.Changes),
					strconv.Itoa(run.Warnings),
					formatRunTime(run.StartedAt),
					run.DatasetRoot,
				})
			}
			writeTable(out, []string{"Run", "Operation", "Status", "Dry run", "Changes", "Warnings", "Started", "Dataset"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight})
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to list (0 for all)")
	return cmd
}

func showRun(cmd *cobra.Command, ctx *commandContext, store *journal.Store, id string) error {
	run, err := store.Get(cmd.Context(), id)
	if err != nil {
		return ops.Wrap(ops.ErrIO, "history", "get run", id, err)
	}
	if run == nil {
		return ops.Wrap(ops.ErrNotFound, "history", "get run", id, nil)
	}
	steps, err := store.Steps(cmd.Context(), id)
	if err != nil {
		return ops.Wrap(ops.ErrIO, "history", "list steps", id, err)
	}
	if ctx.flags.json {
		if steps == nil {
			steps = []journal.Step{}
		}
		return writeJSON(cmd, struct {
			Run   *journal.Run   `json:"run"`
			Steps []journal.Step `json:"steps"`
		}{run, steps})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:       %s\n", run.ID)
	fmt.Fprintf(out, "Operation: %s\n", run.Operation)
	fmt.Fprintf(out, "Dataset:   %s\n", run.DatasetRoot)
	fmt.Fprintf(out, "Arguments: %s\n", run.Arguments)
	fmt.Fprintf(out, "Status:    %s\n", run.Status)
	if run.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:     %s\n", run.ErrorMessage)
	}
	fmt.Fprintf(out, "Started:   %s\n", formatRunTime(run.StartedAt))
	fmt.Fprintf(out, "Finished:  %s\n", formatRunTime(run.FinishedAt))
	if len(steps) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(steps))
	for _, step := range steps {
		rows = append(rows, []string{step.Name, step.Subject, step.Session, string(step.Status), step.Detail})
	}
	writeTable(out, []string{"Step", "Subject", "Session", "Status", "Detail"}, rows, nil)
	return nil
}

func formatRunTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
