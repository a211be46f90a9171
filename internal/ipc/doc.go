// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships
// the matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs. The
// wire types flatten recorder and storage values into strings and plain
// numbers so the CLI never imports the pipeline packages just to render a
// status line.
package ipc
