// Package config loads, normalizes, and validates megbids configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the MEGBIDS_LOG_LEVEL environment
// override. The Config type centralizes the dataset naming conventions, the
// noise association window, the anonymization epoch and the locations of the
// ledger, audit tables and run journal.
//
// Always obtain settings through this package so downstream code receives
// sanitized labels, resolved paths and clear validation errors.
package config
