// Package api defines wire-format types and converters shared by the IPC
// and HTTP layers. It translates pipeline runs, the event journal, and
// workflow status into transport-friendly DTOs so clients render them without
// coupling to internal types.
//
// DTOs use camelCase JSON tags. Internal enums (pipeline.State, Priority,
// EntityStatus) are exposed as lowercase strings and timestamps use RFC3339
// with milliseconds.
package api
