// Package services defines shared utilities consumed by the workflow driver and
// the stage executors.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so executor failures carry
//     a classification (timeout, validation, external) into run errors,
//     notifications, and log hints.
package services
