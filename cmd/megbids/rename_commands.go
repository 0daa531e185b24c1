package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Moo-Marc/CtfMegBids/internal/audit"
	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/config"
	"github.com/Moo-Marc/CtfMegBids/internal/rename"
)

func newRenameSessionCommand(ctx *commandContext) *cobra.Command {
	var dryRun, partial bool

	cmd := &cobra.Command{
		Use:   "rename-session <dataset> <subject> <old> <new>",
		Short: "Rename a session label of one subject",
		Long: "Rename a session everywhere it appears: folders, file names, scan indexes,\n" +
			"JSON cross-references, sub-dataset mirrors and raw recording headers.\n" +
			"With --partial, <old> may match several labels as a substring.",
		Args: exactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := datasetRoot(args[0])
			if err != nil {
				return err
			}
			subject, from, to := args[1], args[2], args[3]
			inv := invocation{operation: "rename-session", root: root, dryRun: dryRun, args: commandLine(cmd, args)}
			return ctx.runOperation(cmd, inv, func(runCtx context.Context, env *runEnv) (outcome, error) {
				engine := newRenamer(env, root, inv.operation)
				res, err := engine.RenameSession(runCtx, subject, from, to, renameMode(partial))
				return renameOutcome(res, bids.PrefixSubject+subject+"/"+bids.PrefixSession), err
			})
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Report planned changes without writing")
	cmd.Flags().BoolVar(&partial, "partial", false, "Replace <old> as a substring of matching labels")
	return cmd
}

func newRenameSubjectCommand(ctx *commandContext) *cobra.Command {
	var dryRun, partial bool

	cmd := &cobra.Command{
		Use:   "rename-subject <dataset> <old> <new>",
		Short: "Rename a subject label dataset-wide",
		Long: "Rename a subject everywhere it appears, including participants.tsv and\n" +
			"the shift ledger. With --partial, <old> may match several labels as a\n" +
			"substring.",
		Args: exactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := datasetRoot(args[0])
			if err != nil {
				return err
			}
			from, to := args[1], args[2]
			inv := invocation{operation: "rename-subject", root: root, dryRun: dryRun, args: commandLine(cmd, args)}
			return ctx.runOperation(cmd, inv, func(runCtx context.Context, env *runEnv) (outcome, error) {
				engine := newRenamer(env, root, inv.operation)
				res, err := engine.RenameSubject(runCtx, from, to, renameMode(partial))
				return renameOutcome(res, bids.PrefixSubject), err
			})
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Report planned changes without writing")
	cmd.Flags().BoolVar(&partial, "partial", false, "Replace <old> as a substring of matching labels")
	return cmd
}

// newRenamer builds a rename engine that keeps an audit table and the shift
// ledger in step with the tree.
func newRenamer(env *runEnv, root, operation string) *rename.Engine {
	trail := audit.New(env.cfg.AuditDir(root), operation, env.runID, time.Now())
	engine := rename.New(root, bids.LayoutFromConfig(env.cfg), env.adapter, env.log).WithTrail(trail)
	if rel := ledgerRel(env.cfg, root); rel != "" {
		engine = engine.WithLedger(rel)
	}
	return engine
}

// ledgerRel returns the ledger path relative to root, or "" when the ledger
// lives outside the tree.
func ledgerRel(cfg *config.Config, root string) string {
	rel, err := filepath.Rel(root, cfg.LedgerPath(root))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return filepath.ToSlash(rel)
}

func renameMode(partial bool) rename.Mode {
	if partial {
		return rename.ModePartial
	}
	return rename.ModeFull
}

func renameOutcome(res rename.Result, prefix string) outcome {
	return outcome{value: res, render: func(w io.Writer) {
		if !res.Matched {
			fmt.Fprintln(w, "No matching label")
			return
		}
		fmt.Fprintf(w, "Renamed %s%s to %s%s in %d tree(s)\n", prefix, res.From, prefix, res.To, len(res.Trees))
	}}
}
