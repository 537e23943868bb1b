// Package notifications pushes run milestones to ntfy.
//
// The default implementation publishes to the topic configured in
// config.toml and degrades to a no-op when no topic is set. Each milestone
// can be toggled individually; workflow code depends only on the Service
// interface.
package notifications
