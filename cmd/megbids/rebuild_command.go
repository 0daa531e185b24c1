package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Moo-Marc/CtfMegBids/internal/config"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
	"github.com/Moo-Marc/CtfMegBids/internal/overrides"
	"github.com/Moo-Marc/CtfMegBids/internal/reconcile"
	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

func newRebuildCommand(ctx *commandContext) *cobra.Command {
	var (
		dryRun           bool
		allowRename      bool
		ignoreMismatch   bool
		overwriteTimes   bool
		forceNoiseSearch bool
		overridesPath    string
		descriptionPath  string
		keep             string
	)

	cmd := &cobra.Command{
		Use:   "rebuild <dataset>",
		Short: "Regenerate every sidecar, scan index and dataset file",
		Long: "Rebuild reconciles a dataset tree against its raw recordings: sidecars are\n" +
			"regenerated from extracted metadata, curator overrides and kept fields,\n" +
			"scan indexes are synchronized, and empty-room recordings are associated.",
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := datasetRoot(args[0])
			if err != nil {
				return err
			}
			keepSpec, err := sidecar.ParseKeepSpec(keep)
			if err != nil {
				return ops.Wrap(ops.ErrUsage, "rebuild", "parse --keep", keep, err)
			}
			description, err := loadDescription(descriptionPath)
			if err != nil {
				return err
			}
			inv := invocation{operation: "rebuild", root: root, dryRun: dryRun, args: commandLine(cmd, args)}
			return ctx.runOperation(cmd, inv, func(runCtx context.Context, env *runEnv) (outcome, error) {
				var catalog *overrides.Catalog
				if path := strings.TrimSpace(overridesPath); path != "" {
					catalog = overrides.NewCatalog(path, env.logger)
				}
				engine := reconcile.New(env.cfg, env.adapter, env.logger).WithJournal(env.journal)
				summary, err := engine.Run(runCtx, root, reconcile.Options{
					Overrides:        catalog,
					Keep:             keepSpec,
					AllowRename:      allowRename,
					IgnoreMismatch:   ignoreMismatch,
					OverwriteTimes:   overwriteTimes,
					ForceNoiseSearch: forceNoiseSearch,
					Description:      description,
				}, env.log)
				if summary == nil {
					return outcome{}, err
				}
				return outcome{value: summary, render: func(w io.Writer) {
					fmt.Fprintf(w, "Recordings: %d, renamed: %d, sessions: %d\n", summary.Recordings, summary.Renamed, summary.Sessions)
				}}, err
			})
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Report planned changes without writing")
	cmd.Flags().BoolVar(&allowRename, "allow-rename", false, "Apply identity changes from overrides and the naming policy")
	cmd.Flags().BoolVar(&ignoreMismatch, "ignore-mismatch", false, "Downgrade override/recording mismatches to warnings")
	cmd.Flags().BoolVar(&overwriteTimes, "overwrite-times", false, "Replace scan-index times with raw acquisition times")
	cmd.Flags().BoolVar(&forceNoiseSearch, "force-noise-search", false, "Ignore stored empty-room associations")
	cmd.Flags().StringVar(&overridesPath, "overrides", "", "Curator override file (JSON, YAML or TSV)")
	cmd.Flags().StringVar(&descriptionPath, "description", "", "JSON document merged over dataset_description.json")
	cmd.Flags().StringVar(&keep, "keep", "", "Existing fields to keep, as kind:field entries separated by commas")
	return cmd
}

// datasetRoot resolves a dataset argument to an absolute directory.
func datasetRoot(arg string) (string, error) {
	root, err := config.ExpandPath(strings.TrimSpace(arg))
	if err != nil {
		return "", ops.Wrap(ops.ErrUsage, "cli", "resolve dataset", arg, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", ops.Wrap(ops.ErrNotFound, "cli", "resolve dataset", root, err)
	}
	if !info.IsDir() {
		return "", ops.Wrap(ops.ErrUsage, "cli", "resolve dataset", root+" is not a directory", nil)
	}
	return root, nil
}

func loadDescription(path string) (*sidecar.Document, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	doc, ok, err := sidecar.LoadDocument(path)
	if err != nil {
		return nil, ops.Wrap(ops.ErrUsage, "rebuild", "load --description", path, err)
	}
	if !ok {
		return nil, ops.Wrap(ops.ErrNotFound, "rebuild", "load --description", path, nil)
	}
	return doc, nil
}
