// Package storage watches the removable archival destination.
//
// Monitor polls a Probe on a fixed period and publishes edge-triggered
// Present/Absent events: one event per observed change, none for repeated
// identical observations. A probe error is an Absent observation, never a
// fatal condition. udev block events only shorten the wait until the next
// probe; they never change state on their own.
//
// Pruner keeps free space on the destination above a floor by deleting the
// oldest archived segments.
package storage
