// Package daemon coordinates the long-running contentflow process.
//
// It wires configuration, run storage, the template registry, and the workflow
// manager into a single lifecycle with flock-based locking to prevent multiple
// instances. The daemon runs preflight checks on start, exposes the run
// operations the IPC and HTTP layers call, and owns the optional read-only
// HTTP status API.
//
// Keep orchestration logic here: run semantics live in the pipeline package
// and actor scheduling in workflow, while the daemon focuses on startup,
// shutdown, and high level coordination.
package daemon
