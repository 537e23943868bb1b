// Package config loads, normalizes, and validates contentflow configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads .env files, and honours environment
// fallbacks such as CONTENTFLOW_NTFY_TOPIC. The Config type is the base layer
// of run options: templates and per-run overrides are applied on top of it.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
