// Package preflight provides readiness checks for the hardware, paths and
// binaries a recorder depends on.
//
// These checks run in two contexts:
//   - The daemon logs a dependency snapshot at startup.
//   - The CLI "picam doctor" command renders every result as a table.
//
// Each check is gated by its config toggle; disabled features are skipped.
package preflight
