// Package noise associates recordings with the empty-room recording closest
// in time, searching the recording's own session folder and the dedicated
// empty-room subject. Matches 24 hours or more apart are never returned.
package noise
