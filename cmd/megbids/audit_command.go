package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Moo-Marc/CtfMegBids/internal/audit"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
)

type auditView struct {
	Path      string        `json:"path"`
	RunID     string        `json:"run_id"`
	Operation string        `json:"operation"`
	Entries   []audit.Entry `json:"entries"`
}

func newAuditCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "audit <dataset> [table]",
		Short: "List audit tables of a dataset, or show one",
		Long: "Without a table name, list the audit tables written by merges and renames\n" +
			"of the dataset, oldest first. With one, print its rows.",
		Args: rangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := datasetRoot(args[0])
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dir := cfg.AuditDir(root)
			if len(args) == 1 {
				paths, err := audit.List(dir)
				if err != nil {
					return ops.Wrap(ops.ErrIO, "audit", "list", dir, err)
				}
				if ctx.flags.json {
					if paths == nil {
						paths = []string{}
					}
					return writeJSON(cmd, paths)
				}
				if len(paths) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No audit tables in %s\n", dir)
					return nil
				}
				for _, p := range paths {
					fmt.Fprintln(cmd.OutOrStdout(), filepath.Base(p))
				}
				return nil
			}

			path := args[1]
			if !filepath.IsAbs(path) && filepath.Base(path) == path {
				path = filepath.Join(dir, path)
			}
			trail, err := audit.Load(path)
			if err != nil {
				return ops.Wrap(ops.ErrNotFound, "audit", "load", path, err)
			}
			view := auditView{Path: trail.Path, RunID: trail.RunID, Operation: trail.Operation, Entries: trail.Entries()}
			if ctx.flags.json {
				return writeJSON(cmd, view)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s run %s\n", view.Operation, view.RunID)
			rows := make([][]string, 0, len(view.Entries))
			for _, e := range view.Entries {
				rows = append(rows, []string{e.Subject, e.Side, e.Original, e.Temporary, e.Final, e.Date, e.Action, e.Status})
			}
			writeTable(out, []string{"Subject", "Side", "Original", "Temporary", "Final", "Date", "Action", "Status"}, rows, nil)
			return nil
		},
	}
}
