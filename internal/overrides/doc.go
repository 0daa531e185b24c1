// Package overrides loads curator overrides: per-recording corrections to
// identifying entities and metadata fields, plus dataset description fields.
// Overrides win over kept sidecar values, which win over raw-source values.
package overrides
