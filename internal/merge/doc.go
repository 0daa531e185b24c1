// Package merge folds one dataset tree into another.
//
// Sessions of both trees are gathered per subject into a combined table,
// grouped by calendar day and numbered chronologically, so a subject ends
// up with one session per day. Labels are changed through the rename
// engine; a label still held by a session that has not been processed yet
// is first moved to a scratch label. Every step is recorded in an audit
// table saved under the destination before anything is moved.
package merge
