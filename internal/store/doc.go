// Package store persists pipeline runs in SQLite.
//
// Each run is stored as a JSON snapshot alongside indexed columns (state,
// template, transcript, progress) used for listing. Every event delivered to a
// run is journaled in run_events with whether it was applied or rejected, and
// finished runs feed the historical samples used for completion estimates.
//
// Schema changes bump schemaVersion in schema.go; the daemon refuses to open a
// database written by another version.
package store
