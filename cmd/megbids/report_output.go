package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Moo-Marc/CtfMegBids/internal/ops"
	"github.com/Moo-Marc/CtfMegBids/internal/report"
)

type reportPayload struct {
	RunID     string           `json:"run_id"`
	Operation string           `json:"operation"`
	Root      string           `json:"root"`
	DryRun    bool             `json:"dry_run"`
	Error     string           `json:"error,omitempty"`
	ErrorKind ops.Kind         `json:"error_kind,omitempty"`
	Result    any              `json:"result,omitempty"`
	Messages  []report.Message `json:"messages"`
	Changes   []report.Change  `json:"changes"`
}

func (c *commandContext) printReport(cmd *cobra.Command, inv invocation, runID string, log *report.Log, result outcome, runErr error) error {
	if c.flags.json {
		payload := reportPayload{
			RunID:     runID,
			Operation: inv.operation,
			Root:      inv.root,
			DryRun:    inv.dryRun,
			Result:    result.value,
			Messages:  log.Messages(),
			Changes:   log.Changes(),
		}
		if payload.Messages == nil {
			payload.Messages = []report.Message{}
		}
		if payload.Changes == nil {
			payload.Changes = []report.Change{}
		}
		if runErr != nil {
			payload.Error = runErr.Error()
			payload.ErrorKind = ops.Classify(runErr)
		}
		return writeJSON(cmd, payload)
	}

	out := cmd.OutOrStdout()
	if result.render != nil {
		result.render(out)
	}
	writeMessages(out, log.Messages())
	writeChanges(out, log.Changes(), c.flags.verbose)
	fmt.Fprintln(out, summaryLine(inv, log))
	return nil
}

func writeMessages(w io.Writer, messages []report.Message) {
	if len(messages) == 0 {
		return
	}
	rows := make([][]string, 0, len(messages))
	for _, msg := range messages {
		rows = append(rows, []string{string(msg.Level), msg.Code, msg.Path, msg.Text})
	}
	writeTable(w, []string{"Level", "Code", "Path", "Message"}, rows, nil)
}

func writeChanges(w io.Writer, changes []report.Change, withDiff bool) {
	if len(changes) == 0 {
		return
	}
	rows := make([][]string, 0, len(changes))
	for _, ch := range changes {
		rows = append(rows, []string{string(ch.Action), ch.Path, ch.Target, yesNo(ch.Applied)})
	}
	writeTable(w, []string{"Action", "Path", "Target", "Applied"}, rows, nil)
	if !withDiff {
		return
	}
	for _, ch := range changes {
		if ch.Diff != "" {
			fmt.Fprint(w, ch.Diff)
		}
	}
}

func summaryLine(inv invocation, log *report.Log) string {
	changes, warnings := len(log.Changes()), len(log.Warnings())
	if inv.dryRun {
		return fmt.Sprintf("Dry run: %d planned changes, %d warnings", changes, warnings)
	}
	return fmt.Sprintf("%d changes applied, %d warnings", changes, warnings)
}

// writeJSON prints v indented. Paths are written unescaped so they can be
// pasted back into a shell.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
