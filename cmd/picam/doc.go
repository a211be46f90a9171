// Package main hosts the picam CLI.
//
// The daemon itself runs under `picam run`; every other command either
// talks to that daemon over its unix socket or inspects local state (the
// segment journal, the configuration, host dependencies) directly.
package main
