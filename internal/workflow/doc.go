// Package workflow drives pipeline runs.
//
// The Manager owns one goroutine per active run. Each goroutine holds the
// run's state, applies events from a bounded mailbox one at a time through
// pipeline.Transition, persists the result, and carries out the returned
// commands: launching stage executors, cancelling in-flight work, publishing
// notifications, and logging progress. Cancel requests travel on a separate
// control channel so they are handled before queued stage results.
//
// Stage results are tagged with a per-stage generation; results that arrive
// after their stage was cancelled (by pause, cancel, or failure) are dropped.
// On start the Manager reloads every non-finished run from the store and
// re-issues the work for runs that were mid-stage.
package workflow
