// Package config loads, normalizes, and validates aura configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// AURA_NTFY_TOPIC. The Config type centralizes every knob the CLI, launcher,
// and reference worker need, so state directories, provider binaries, and
// transcription defaults are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
