package rawsource

import (
	"errors"
	"time"

	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

// ErrNoTimestamp reports a raw recording without a readable acquisition time.
var ErrNoTimestamp = errors.New("no acquisition timestamp")

// Adapter is the boundary to the proprietary recording format.
type Adapter interface {
	// ReadTimestamp returns the acquisition time embedded in the recording.
	ReadTimestamp(path string) (time.Time, error)
	// RewriteIdentifierAndDate renames the recording in place to newName
	// (a sibling of path) and rewrites the identifiers embedded in its
	// contents. When newDate is set, the embedded acquisition date is
	// replaced and the time of day preserved.
	RewriteIdentifierAndDate(path, newName string, newDate *time.Time) error
	// Extract reads the metadata needed to build sidecar documents.
	Extract(path string) (*Extraction, error)
}

// Extraction is the raw-source metadata of one recording.
type Extraction struct {
	Acquired    time.Time
	Known       bool
	Recording   *sidecar.Document
	Channels    *sidecar.Table
	Coordsystem *sidecar.Document
	// HeadShape is the file name of the digitized head points, if any.
	HeadShape string
}
