// Package pipeline implements the orchestration engine that moves a transcript
// through cleaning, insight extraction, insight review, post generation, post
// review, and scheduling.
//
// A Run is the aggregate for one execution. Transition applies a single inbound
// Event to a Run and returns the next Run together with the Commands the driver
// must act on; it performs no I/O and never blocks. Review and generation
// states are compound: their regions are tracked on the Run and both must
// settle before the state is left. Entity bookkeeping flows only through the
// Tracker (per-entity status) and the Ledger (items gating progress on a human
// decision), so manual review and auto-approval converge on the same guards.
//
// Events for one run must be delivered serially; runs share no mutable state
// and may be processed concurrently by the driver in internal/workflow.
package pipeline
