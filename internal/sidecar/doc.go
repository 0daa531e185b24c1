// Package sidecar reads and writes the derived files that sit next to the
// recordings: ordered JSON documents, tab-separated tables, session scan
// indexes and the dataset ignore list. It also carries the precedence helper
// used by rebuilds and the Writer through which every mutation passes.
package sidecar
