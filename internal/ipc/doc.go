// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management, request/response DTOs, and the
// translation of CLI requests into pipeline events. The server embeds the
// daemon; responses reuse the api package DTOs so the CLI and the HTTP API
// render the same shapes.
//
// Reuse these types when adding new RPC endpoints to keep the protocol stable
// and compatible with existing command implementations.
package ipc
