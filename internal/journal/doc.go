// Package journal records the history of dataset operations in SQLite.
//
// Every rebuild, rename, merge and shift opens a run row before touching the
// tree and closes it when done. Runs left in the running state mark
// interrupted invocations; callers warn about them so the operator re-runs
// the idempotent operation. Completed units are appended as steps.
package journal
