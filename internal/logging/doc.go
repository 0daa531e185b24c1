// Package logging assembles structured slog loggers and formatting helpers used
// across the dataset tooling.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so engine code tags log lines with the run
// identifier, operation, subject and session without repeating itself. A no-op
// logger is provided for tests and for wiring code that cannot fail.
package logging
