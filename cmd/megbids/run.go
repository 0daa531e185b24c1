package main

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Moo-Marc/CtfMegBids/internal/config"
	"github.com/Moo-Marc/CtfMegBids/internal/journal"
	"github.com/Moo-Marc/CtfMegBids/internal/logging"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
	"github.com/Moo-Marc/CtfMegBids/internal/rawsource"
	"github.com/Moo-Marc/CtfMegBids/internal/report"
)

// invocation identifies one dataset-modifying command.
type invocation struct {
	operation string
	root      string
	dryRun    bool
	args      []string
}

// runEnv is what an operation body receives.
type runEnv struct {
	cfg     *config.Config
	logger  *slog.Logger
	adapter rawsource.Adapter
	journal *journal.Store
	log     *report.Log
	runID   string
}

// outcome is an operation's result: value goes into the JSON report and
// render, when set, prints it in text mode ahead of the message tables.
type outcome struct {
	value  any
	render func(w io.Writer)
}

type operationFunc func(ctx context.Context, env *runEnv) (outcome, error)

// runOperation wires the ambient pieces around an engine call: run ID,
// journal bookkeeping, the report log and its rendering.
func (c *commandContext) runOperation(cmd *cobra.Command, inv invocation, fn operationFunc) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return err
	}
	store, err := journal.Open(cfg)
	if err != nil {
		return ops.Wrap(ops.ErrIO, inv.operation, "open journal", cfg.Journal.Path, err)
	}
	defer store.Close()

	runID := uuid.NewString()
	ctx := ops.WithRunID(cmd.Context(), runID)
	ctx = ops.WithOperation(ctx, inv.operation)
	logger = logging.WithContext(ctx, logger)
	log := report.New(logger, inv.dryRun, c.flags.verbose)

	warnUnfinished(ctx, store, inv.root, log)
	if err := store.Begin(ctx, journal.Run{
		ID:          runID,
		Operation:   inv.operation,
		DatasetRoot: inv.root,
		Arguments:   strings.Join(inv.args, " "),
		DryRun:      inv.dryRun,
	}); err != nil {
		logging.WarnWithContext(logger, "journal unavailable", "journal_begin_failed", logging.Error(err))
	}

	result, runErr := fn(ctx, &runEnv{
		cfg:     cfg,
		logger:  logger,
		adapter: c.adapter(cfg),
		journal: store,
		log:     log,
		runID:   runID,
	})

	summary := journal.Summary{Warnings: len(log.Warnings()), Changes: len(log.Changes())}
	if err := store.Finish(ctx, runID, summary, runErr); err != nil {
		logging.WarnWithContext(logger, "journal unavailable", "journal_finish_failed", logging.Error(err))
	}

	if err := c.printReport(cmd, inv, runID, log, result, runErr); err != nil {
		return err
	}
	return runErr
}

// warnUnfinished reports earlier runs against the same tree that never
// finished; their changes may be partial.
func warnUnfinished(ctx context.Context, store *journal.Store, root string, log *report.Log) {
	runs, err := store.Unfinished(ctx, root)
	if err != nil {
		logging.WarnWithContext(log.Logger(), "journal query failed", "journal_query_failed", logging.Error(err))
		return
	}
	for _, run := range runs {
		log.Warn(report.CodeUnfinishedRun, root, "%s run %s started %s never finished; re-run it to complete its changes",
			run.Operation, run.ID, run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
}

// commandLine renders the subcommand, its set flags and positional
// arguments for the journal.
func commandLine(cmd *cobra.Command, args []string) []string {
	out := []string{cmd.Name()}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		out = append(out, "--"+f.Name+"="+f.Value.String())
	})
	return append(out, args...)
}
