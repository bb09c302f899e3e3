// Package config loads, normalizes, and validates fleetsync configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and applies environment overrides such as
// FLEETSYNC_BACKEND_TOKEN. The Config type centralizes every knob the sync
// agent and CLI need: where the queue lives, which key-value backend stores
// it, how actions reach the fleet backend, and how often connectivity is
// probed.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
