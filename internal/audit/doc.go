// Package audit writes the per-run trace tables of merges and renames: one
// TSV per run recording original, temporary and final labels.
package audit
