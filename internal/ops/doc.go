// Package ops carries the error taxonomy and context tags shared by every
// curation operation.
//
// Errors are tagged with one of the sentinel markers (usage, conflict, I/O,
// not found) via Wrap so the CLI can classify failures without string
// matching. Context helpers attach the run identifier, operation, subject and
// session so logging can pick them up uniformly.
package ops
