package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
	"github.com/Moo-Marc/CtfMegBids/internal/shift"
	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

func newShiftCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	var subjects []string

	cmd := &cobra.Command{
		Use:   "shift <dataset>",
		Short: "Shift acquisition dates toward the anonymization epoch",
		Long: "Shift moves every acquisition time of a subject by a constant number of\n" +
			"days so the earliest scan lands on the configured epoch. Real times are\n" +
			"kept under sourcedata and the shift is recorded in the ledger, so running\n" +
			"it again restores edited rows without shifting twice.",
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := datasetRoot(args[0])
			if err != nil {
				return err
			}
			inv := invocation{operation: "shift", root: root, dryRun: dryRun, args: commandLine(cmd, args)}
			return ctx.runOperation(cmd, inv, func(runCtx context.Context, env *runEnv) (outcome, error) {
				shifter := shift.New(env.cfg, env.adapter, env.logger).WithJournal(env.journal)
				summary, err := shifter.Run(runCtx, root, shift.Options{Subjects: subjects}, env.log)
				if summary == nil {
					return outcome{}, err
				}
				return outcome{value: summary, render: func(w io.Writer) {
					fmt.Fprintf(w, "Subjects: %d, rows: %d, recordings: %d, relabelled sessions: %d\n",
						summary.Subjects, summary.Rows, summary.Recordings, summary.Relabelled)
				}}, err
			})
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Report planned changes without writing")
	cmd.Flags().StringSliceVarP(&subjects, "subject", "s", nil, "Limit to these subject labels (repeatable)")
	return cmd
}

type ledgerRow struct {
	Subject   string `json:"subject"`
	Days      *int   `json:"shift_days"`
	Reference string `json:"reference_scan,omitempty"`
	Real      string `json:"real_acq_time"`
	Shifted   string `json:"shifted_acq_time"`
}

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ledger <dataset>",
		Short: "List the per-subject date shifts of a dataset",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := datasetRoot(args[0])
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.LedgerPath(root)
			entries, err := shift.Read(path)
			if err != nil {
				return ops.Wrap(ops.ErrIO, "ledger", "read", path, err)
			}
			rows := make([]ledgerRow, 0, len(entries))
			for _, e := range entries {
				row := ledgerRow{
					Subject:   bids.PrefixSubject + e.Subject,
					Reference: e.Reference,
					Real:      sidecar.FormatScanTime(e.Real, !e.Real.IsZero()),
					Shifted:   sidecar.FormatScanTime(e.Shifted, !e.Shifted.IsZero()),
				}
				if e.Set {
					days := e.Days
					row.Days = &days
				}
				rows = append(rows, row)
			}
			if ctx.flags.json {
				return writeJSON(cmd, rows)
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintf(out, "No shifts recorded in %s\n", path)
				return nil
			}
			table := make([][]string, 0, len(rows))
			for _, r := range rows {
				days := sidecar.NotAvailable
				if r.Days != nil {
					days = strconv.Itoa(*r.Days)
				}
				ref := r.Reference
				if ref == "" {
					ref = sidecar.NotAvailable
				}
				table = append(table, []string{r.Subject, days, ref, r.Real, r.Shifted})
			}
			writeTable(out, []string{"Subject", "Shift (days)", "Reference", "Real", "Shifted"}, table,
				[]columnAlignment{alignLeft, alignRight})
			return nil
		},
	}
}
