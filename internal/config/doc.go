// Package config loads, normalizes, and validates picam configuration.
//
// Configuration lives in a single TOML file (default
// ~/.config/picam/config.toml). Load merges the file over Default(), applies
// an optional picam.env file and PICAM_* environment overrides, expands
// paths, and validates every section before handing back a *Config.
// CreateSample writes the annotated sample used by `picam config init`.
//
// Callers treat the returned Config as read-only; the recorder snapshots
// the parts it needs into an immutable pipeline configuration at start.
package config
