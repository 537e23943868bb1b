// Package preflight provides readiness checks for the filesystem paths,
// template definitions, stage commands, and notification endpoint that
// contentflow depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll on start and exposes the results in its status.
//   - The CLI "contentflow status" command renders the same results so an
//     operator can see why a stage would fail before starting a run.
//
// Each check is gated by its config section; unset optional features pass
// with a "not configured" detail.
package preflight
