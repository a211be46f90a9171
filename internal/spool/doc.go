// Package spool delivers closed archival segments from the local spool
// directory to the removable archive.
//
// The encoder never writes to the removable mount. It writes segments into
// the spool and appends a line to segments.csv as each one closes. The
// Mover follows that list, moves closed segments to the archive while
// storage is present, keeps them while it is absent, and bounds the
// backlog by deleting the oldest closed segments once the spool exceeds
// its size limit.
package spool
