// Package logging assembles the slog loggers used across picam.
//
// It owns the console and JSON handlers, level and output plumbing, and the
// attribute helpers that give every component the same field names
// (component, event_type, error_hint, impact). Warnings emitted through
// WarnWithContext always carry a cause, an impact and a next step so an
// operator reading the journal of an unattended device can act on them.
//
// A no-op logger is provided for tests and for wiring code that cannot fail.
package logging
