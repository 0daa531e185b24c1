package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Moo-Marc/CtfMegBids/internal/audit"
	"github.com/Moo-Marc/CtfMegBids/internal/journal"
	"github.com/Moo-Marc/CtfMegBids/internal/logging"
	"github.com/Moo-Marc/CtfMegBids/internal/merge"
	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

type mergeRow struct {
	Subject   string `json:"subject"`
	Side      string `json:"side"`
	Original  string `json:"original"`
	Temporary string `json:"temporary,omitempty"`
	Final     string `json:"final"`
	Date      string `json:"date"`
	Action    string `json:"action"`
	Status    string `json:"status"`
}

type mergeView struct {
	AuditTable string     `json:"audit_table,omitempty"`
	Sessions   []mergeRow `json:"sessions"`
}

func newMergeCommand(ctx *commandContext) *cobra.Command {
	var dryRun, keepLabels bool

	cmd := &cobra.Command{
		Use:   "merge <source> <destination>",
		Short: "Merge one dataset tree into another",
		Long: "Merge moves every subject of <source> into <destination>. Sessions of each\n" +
			"subject are renumbered chronologically, sessions recorded on the same day\n" +
			"share one folder, and an audit table of every relabel is kept under the\n" +
			"destination.",
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := datasetRoot(args[0])
			if err != nil {
				return err
			}
			dest, err := datasetRoot(args[1])
			if err != nil {
				return err
			}
			inv := invocation{operation: "merge", root: dest, dryRun: dryRun, args: commandLine(cmd, args)}
			return ctx.runOperation(cmd, inv, func(runCtx context.Context, env *runEnv) (outcome, error) {
				engine := merge.New(env.cfg, env.adapter, env.logger)
				res, err := engine.Merge(runCtx, source, dest, merge.Options{KeepLabels: keepLabels}, env.log)
				if res == nil {
					return outcome{}, err
				}
				view := newMergeView(res)
				recordMergeSteps(runCtx, env, view)
				return outcome{value: view, render: func(w io.Writer) { renderMergeView(w, view) }}, err
			})
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Report planned changes without writing")
	cmd.Flags().BoolVar(&keepLabels, "keep-labels", false, "Keep destination labels and renumber only taken source labels")
	return cmd
}

func newMergeView(res *merge.Result) mergeView {
	view := mergeView{AuditTable: res.TrailPath, Sessions: []mergeRow{}}
	for _, a := range res.Assignments {
		view.Sessions = append(view.Sessions, mergeRow{
			Subject:   a.Subject,
			Side:      string(a.Side),
			Original:  a.Original,
			Temporary: a.Temporary,
			Final:     a.Final,
			Date:      a.DayString(),
			Action:    a.Action(),
			Status:    a.Status,
		})
	}
	return view
}

// recordMergeSteps journals one step per session with the status its audit
// entry ended with. The first journal failure is logged and ends recording.
func recordMergeSteps(ctx context.Context, env *runEnv, view mergeView) {
	for _, row := range view.Sessions {
		err := env.journal.RecordStep(ctx, journal.Step{
			RunID:   env.runID,
			Name:    row.Action,
			Subject: row.Subject,
			Session: row.Final,
			Detail:  fmt.Sprintf("%s %s -> %s", row.Side, row.Original, row.Final),
			Status:  stepStatus(row.Status),
		})
		if err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, env.logger), "journal step not recorded", "journal_write_failed",
				logging.String("subject", row.Subject),
				logging.Error(err),
			)
			return
		}
	}
}

func stepStatus(auditStatus string) journal.Status {
	switch auditStatus {
	case audit.StatusDone:
		return journal.StatusCompleted
	case audit.StatusFailed:
		return journal.StatusFailed
	}
	return journal.StatusPlanned
}

func renderMergeView(w io.Writer, view mergeView) {
	if len(view.Sessions) == 0 {
		fmt.Fprintln(w, "No sessions to merge")
		return
	}
	rows := make([][]string, 0, len(view.Sessions))
	for _, s := range view.Sessions {
		temp := s.Temporary
		if temp == "" {
			temp = sidecar.NotAvailable
		}
		rows = append(rows, []string{s.Subject, s.Side, s.Original, temp, s.Final, s.Date, s.Action, s.Status})
	}
	writeTable(w, []string{"Subject", "Side", "Original", "Temporary", "Final", "Date", "Action", "Status"}, rows, nil)
	if view.AuditTable != "" {
		fmt.Fprintf(w, "Audit table: %s\n", view.AuditTable)
	}
}
