// Package templates resolves named run templates into pipeline options.
//
// Built-in templates are embedded; an optional YAML file may override fields of
// a built-in or add new templates. Resolution layers config defaults, then the
// template, then per-run overrides.
package templates
