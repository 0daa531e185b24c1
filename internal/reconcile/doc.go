// Package reconcile rebuilds the derived files of a dataset tree from its raw
// recordings.
//
// A rebuild enumerates recordings (empty-room recordings first so that the
// association search sees their acquisition times), resolves each
// recording's identity from curator overrides and the naming policy, renames
// it when allowed, and regenerates its recording document, channel table and
// coordinate-system document with the precedence overrides > kept existing
// fields > extracted values. Session scan indexes are then checked against
// the recordings present and rewritten sorted, and the dataset description,
// ignore list and participants table are refreshed.
//
// All writes go through sidecar.Writer, so a dry run reports the same change
// stream as a real run and a repeated rebuild reports none.
package reconcile
