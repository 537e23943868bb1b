// Package main hosts the contentflow CLI entrypoint and command graph.
//
// The Cobra command tree turns terminal invocations into IPC calls against the
// daemon: run lifecycle control, review decisions, stage result reports, and
// template lookups. Daemon start/stop/status and configuration scaffolding
// live here too. Keep this package thin; behavior belongs in internal/.
package main
