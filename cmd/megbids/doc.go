// Package main hosts the megbids CLI entrypoint and command graph.
//
// Each command resolves configuration once, opens the run journal, and hands
// a dry-run aware report log to one engine: rebuild, rename-session,
// rename-subject, merge or shift. The report is printed as tables, or as a
// single JSON document with --json, and the process exit code reflects the
// error class (usage, conflict, storage).
//
// Keep this package declarative: behavior belongs in the internal packages,
// and commands here only parse flags, wire engines and render their output.
package main
